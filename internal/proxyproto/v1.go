// Package proxyproto implements the outbound PROXY protocol v1 header (spec
// §6), emitted before the AMQP preamble to proxy-protocol-enabled backends.
package proxyproto

import (
	"fmt"
	"net"
)

// WriteHeaderV1 returns the ASCII PROXY v1 line for the given client/backend
// tuple. If srcIP/dstIP are not both IPv4 or both IPv6, it falls back to
// "PROXY UNKNOWN\r\n".
func WriteHeaderV1(srcIP, dstIP net.IP, srcPort, dstPort uint16) []byte {
	family, s, d := classify(srcIP, dstIP)
	if family == "" {
		return []byte("PROXY UNKNOWN\r\n")
	}
	return []byte(fmt.Sprintf("PROXY %s %s %s %d %d\r\n", family, s, d, srcPort, dstPort))
}

func classify(srcIP, dstIP net.IP) (family, s, d string) {
	s4, d4 := srcIP.To4(), dstIP.To4()
	if s4 != nil && d4 != nil {
		return "TCP4", s4.String(), d4.String()
	}
	s16, d16 := srcIP.To16(), dstIP.To16()
	if s4 == nil && d4 == nil && s16 != nil && d16 != nil {
		return "TCP6", s16.String(), d16.String()
	}
	return "", "", ""
}
