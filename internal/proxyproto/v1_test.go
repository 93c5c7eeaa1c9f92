package proxyproto

import (
	"net"
	"testing"

	"gotest.tools/v3/assert"
)

func TestWriteHeaderV1IPv4(t *testing.T) {
	out := WriteHeaderV1(net.ParseIP("10.0.0.1"), net.ParseIP("10.0.0.2"), 5555, 5672)
	assert.Equal(t, string(out), "PROXY TCP4 10.0.0.1 10.0.0.2 5555 5672\r\n")
}

func TestWriteHeaderV1IPv6(t *testing.T) {
	out := WriteHeaderV1(net.ParseIP("::1"), net.ParseIP("::2"), 1, 2)
	assert.Equal(t, string(out), "PROXY TCP6 ::1 ::2 1 2\r\n")
}

func TestWriteHeaderV1Unknown(t *testing.T) {
	out := WriteHeaderV1(net.ParseIP("10.0.0.1"), net.ParseIP("::2"), 1, 2)
	assert.Equal(t, string(out), "PROXY UNKNOWN\r\n")
}
