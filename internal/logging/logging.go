// Package logging wires github.com/sirupsen/logrus the way moby-moby's own
// daemon does: a single *logrus.Logger constructed once, structured fields
// per call site rather than formatted strings, and a mutable sink the
// control plane can retarget at runtime (spec §4.5 "LOG CONSOLE|FILE").
package logging

import (
	"fmt"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// Sink owns the live *logrus.Logger and lets the control channel retarget
// its output and level without racing in-flight log calls.
type Sink struct {
	mu     sync.Mutex
	logger *logrus.Logger
	file   *os.File
}

// New builds a Sink logging to stderr at logrus.InfoLevel with the text
// formatter, matching moby-moby's default CLI logging posture.
func New() *Sink {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	l.SetLevel(logrus.InfoLevel)
	return &Sink{logger: l}
}

// Logger returns the current *logrus.Logger for building entries.
func (s *Sink) Logger() *logrus.Logger {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logger
}

// Entry returns a fresh *logrus.Entry with no fields, a convenience for
// components that hold a long-lived entry.
func (s *Sink) Entry() *logrus.Entry {
	return logrus.NewEntry(s.Logger())
}

// ToConsole switches output to stderr at the given level.
func (s *Sink) ToConsole(level logrus.Level) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file != nil {
		s.file.Close()
		s.file = nil
	}
	s.logger.SetOutput(os.Stderr)
	s.logger.SetLevel(level)
}

// ToFile switches output to path at the given level, closing any
// previously opened file sink. The file is opened for appending, so
// existing content is kept.
func (s *Sink) ToFile(path string, level logrus.Level) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("logging: opening %s: %w", path, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file != nil {
		s.file.Close()
	}
	s.file = f
	s.logger.SetOutput(f)
	s.logger.SetLevel(level)
	return nil
}

// ParseLevel exposes logrus.ParseLevel so the control command layer doesn't
// need its own import of logrus for this one call.
func ParseLevel(s string) (logrus.Level, error) {
	return logrus.ParseLevel(s)
}
