package session

import (
	"net"

	"github.com/amqpprox/amqpprox/internal/frame"
)

// ServerProductName/Version identify the proxy in the synthesized Start
// method's server-properties table (spec §4.2 "Synthesized Start").
const (
	ServerProductName = "amqpprox"
	ServerVersion     = "1.0"
	ServerCopyright   = "Copyright the amqpprox authors"
	ServerPlatform    = "Go"
)

// BuildServerProperties constructs the server-properties field table sent
// in the synthesized Start, identifying the proxy the way a reference
// broker identifies itself, plus a cluster tag.
func BuildServerProperties(cluster string) frame.Table {
	var caps frame.Table
	caps = caps.Set("publisher_confirms", frame.FieldValue{Tag: frame.FVBool, Bool: true})
	caps = caps.Set("exchange_exchange_bindings", frame.FieldValue{Tag: frame.FVBool, Bool: true})
	caps = caps.Set("basic.nack", frame.FieldValue{Tag: frame.FVBool, Bool: true})
	caps = caps.Set("consumer_cancel_notify", frame.FieldValue{Tag: frame.FVBool, Bool: true})
	caps = caps.Set("connection.blocked", frame.FieldValue{Tag: frame.FVBool, Bool: true})
	caps = caps.Set("authentication_failure_close", frame.FieldValue{Tag: frame.FVBool, Bool: true})

	var props frame.Table
	props = props.Set("product", frame.FieldValue{Tag: frame.FVLongstr, Str: ServerProductName})
	props = props.Set("version", frame.FieldValue{Tag: frame.FVLongstr, Str: ServerVersion})
	props = props.Set("cluster", frame.FieldValue{Tag: frame.FVLongstr, Str: cluster})
	props = props.Set("copyright", frame.FieldValue{Tag: frame.FVLongstr, Str: ServerCopyright})
	props = props.Set("platform", frame.FieldValue{Tag: frame.FVLongstr, Str: ServerPlatform})
	props = props.Set("capabilities", frame.FieldValue{Tag: frame.FVTable, Table: caps})
	return props
}

// StartOkCapture holds what the proxy recorded from the client's StartOk
// (spec §4.2 "StartOk capture"): the mechanism and credentials blob used
// later for auth interception and for replaying to the broker, plus the
// client's own client-properties table. The capture is not augmented
// itself: each backend attempt replays a copy whose properties
// AugmentClientProperties has extended.
type StartOkCapture struct {
	Mechanism        string
	Response         string
	Locale           string
	ClientProperties frame.Table // as sent by the client
}

// AugmentClientProperties injects the proxy-observed connection metadata
// into the client's properties table before it is replayed to the broker
// (spec §4.2: "proxy client hostname, proxy client remote port, proxy local
// hostname, inbound listen port, outbound local port, ingress TLS flag").
func AugmentClientProperties(props frame.Table, info ConnectionInfo) frame.Table {
	props = props.Set("proxy_client_hostname", frame.FieldValue{Tag: frame.FVLongstr, Str: info.ClientHostname})
	props = props.Set("proxy_client_remote_port", frame.FieldValue{Tag: frame.FVUint32, Uint32: uint32(info.ClientRemotePort)})
	props = props.Set("proxy_local_hostname", frame.FieldValue{Tag: frame.FVLongstr, Str: info.ProxyLocalHostname})
	props = props.Set("proxy_inbound_listen_port", frame.FieldValue{Tag: frame.FVUint32, Uint32: uint32(info.InboundListenPort)})
	props = props.Set("proxy_outbound_local_port", frame.FieldValue{Tag: frame.FVUint32, Uint32: uint32(info.OutboundLocalPort)})
	props = props.Set("proxy_ingress_tls", frame.FieldValue{Tag: frame.FVBool, Bool: info.IngressTLS})
	return props
}

// ConnectionInfo is the set of observed-connection facts the proxy injects
// into the augmented StartOk (spec §4.2).
type ConnectionInfo struct {
	ClientHostname     string
	ClientRemotePort   int
	ProxyLocalHostname string
	InboundListenPort  int
	OutboundLocalPort  int
	IngressTLS         bool
}

// BuildConnectionInfo derives ConnectionInfo from the ingress/egress
// sockets available at the time the augmented StartOk is sent.
func BuildConnectionInfo(ingress net.Conn, egressLocalPort int, ingressTLS bool) ConnectionInfo {
	info := ConnectionInfo{IngressTLS: ingressTLS, OutboundLocalPort: egressLocalPort}
	if addr, ok := ingress.RemoteAddr().(*net.TCPAddr); ok {
		info.ClientHostname = addr.IP.String()
		info.ClientRemotePort = addr.Port
	}
	if addr, ok := ingress.LocalAddr().(*net.TCPAddr); ok {
		info.ProxyLocalHostname = addr.IP.String()
		info.InboundListenPort = addr.Port
	}
	return info
}
