package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"gotest.tools/v3/assert"
)

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("debug")
	assert.NilError(t, err)
	assert.Equal(t, lvl, logrus.DebugLevel)

	_, err = ParseLevel("not-a-level")
	assert.ErrorContains(t, err, "not a valid logrus Level")
}

func TestToFileRetargetsSinkAndLevel(t *testing.T) {
	s := New()
	dir := t.TempDir()
	path := filepath.Join(dir, "amqpproxd.log")

	err := s.ToFile(path, logrus.WarnLevel)
	assert.NilError(t, err)
	s.Entry().Warn("first sink")

	info, err := os.Stat(path)
	assert.NilError(t, err)
	assert.Assert(t, info.Size() > 0)

	s.ToConsole(logrus.InfoLevel)
	assert.Equal(t, s.Logger().Level, logrus.InfoLevel)

	second := filepath.Join(dir, "second.log")
	err = s.ToFile(second, logrus.ErrorLevel)
	assert.NilError(t, err)
	assert.Equal(t, s.Logger().Level, logrus.ErrorLevel)
}
