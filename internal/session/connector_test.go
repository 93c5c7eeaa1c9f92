package session

import (
	"errors"
	"net"
	"strconv"
	"testing"
	"time"

	"gotest.tools/v3/assert"

	"github.com/amqpprox/amqpprox/internal/authintercept"
	"github.com/amqpprox/amqpprox/internal/backend"
	"github.com/amqpprox/amqpprox/internal/dnscache"
	"github.com/amqpprox/amqpprox/internal/farm"
	"github.com/amqpprox/amqpprox/internal/frame"
	"github.com/amqpprox/amqpprox/internal/resource"
)

// listenLoopback starts a one-shot TCP listener and returns its address plus
// a channel delivering the first accepted connection.
func listenLoopback(t *testing.T) (addr string, accepted <-chan net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	assert.NilError(t, err)
	ch := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			ch <- c
		}
		ln.Close()
	}()
	return ln.Addr().String(), ch
}

func newTestDeps(t *testing.T, resolver *dnscache.StaticResolver, mapper *resource.Mapper, backends *backend.Store, farms *farm.Store) Deps {
	t.Helper()
	cache := dnscache.New(resolver, time.Hour)
	t.Cleanup(cache.Close)
	return Deps{
		Resources:   mapper,
		Farms:       farms,
		Backends:    backends,
		Selectors:   farm.NewSelectorStore(),
		DNS:         cache,
		Auth:        authintercept.AllowAll{},
		DialTimeout: time.Second,
	}
}

func TestConnectNoMappingReturnsPolicyError(t *testing.T) {
	mapper := resource.NewMapper()
	deps := newTestDeps(t, dnscache.NewStaticResolver(), mapper, backend.NewStore(), farm.NewStore())

	ingress, peer := net.Pipe()
	defer peer.Close()
	sess := NewSession(ingress)
	sess.VHost = "/missing"

	_, _, err := Connect(sess, deps, nil)
	var pe *PolicyError
	assert.Assert(t, errors.As(err, &pe))
	assert.Equal(t, pe.ReplyCode, uint16(530))
}

func TestConnectDirectBackendSucceeds(t *testing.T) {
	addr, accepted := listenLoopback(t)
	host, port, err := net.SplitHostPort(addr)
	assert.NilError(t, err)

	go func() {
		conn := <-accepted
		defer conn.Close()
		fakeBroker(t, conn, make(chan error, 1))
	}()

	portInt, perr := strconv.Atoi(port)
	assert.NilError(t, perr)
	portNum := uint16(portInt)

	resolver := dnscache.NewStaticResolver()
	resolver.Pin(host, port, []dnscache.Endpoint{{IP: net.ParseIP(host), Port: portNum}})

	b, err := backend.New("b1", "NY", host, portNum, false, false)
	assert.NilError(t, err)
	backends := backend.NewStore()
	assert.NilError(t, backends.Insert(b))

	mapper := resource.NewMapper()
	mapper.MapBackend("/prod", "b1")

	deps := newTestDeps(t, resolver, mapper, backends, farm.NewStore())

	ingress, peer := net.Pipe()
	defer peer.Close()
	sess := NewSession(ingress)
	sess.VHost = "/prod"
	sess.StartOkCapture = StartOkCapture{Mechanism: "PLAIN"}
	sess.ClientTune = Negotiated{ChannelMax: 100, FrameMax: 131072, Heartbeat: 60}

	conn, result, err := Connect(sess, deps, nil)
	assert.NilError(t, err)
	defer conn.Close()
	assert.Assert(t, result.Negotiated.FrameMax > 0)
	assert.Assert(t, sess.Backend != nil)
	assert.Equal(t, sess.Backend.Name, "b1")
	sess.ReleaseBackend()
}

// TestConnectAugmentsStartOkClientPropertiesForBroker verifies spec §4.2
// "StartOk capture": the StartOk replayed to the broker must carry the
// proxy-observed connection metadata grafted onto the client's own
// properties, not the client's StartOk verbatim.
func TestConnectAugmentsStartOkClientPropertiesForBroker(t *testing.T) {
	addr, accepted := listenLoopback(t)
	host, port, err := net.SplitHostPort(addr)
	assert.NilError(t, err)

	startOkCh := make(chan frame.StartOk, 1)
	go func() {
		conn := <-accepted
		defer conn.Close()
		r := NewFrameReader(conn)
		_, err := r.ReadExact(frame.PreambleLen)
		if err != nil {
			return
		}
		if err := writeFrame(conn, frame.EncodeStart(frame.Start{Mechanisms: "PLAIN"})); err != nil {
			return
		}
		f, err := r.Next()
		if err != nil {
			return
		}
		so, err := frame.DecodeStartOk(f.Payload)
		if err == nil {
			startOkCh <- so
		}
		// Don't bother completing the rest of the handshake; returning
		// closes the connection, so the attempt fails reading Tune, which
		// is fine -- this test only cares about what StartOk carried.
	}()

	portInt, perr := strconv.Atoi(port)
	assert.NilError(t, perr)
	portNum := uint16(portInt)

	resolver := dnscache.NewStaticResolver()
	resolver.Pin(host, port, []dnscache.Endpoint{{IP: net.ParseIP(host), Port: portNum}})

	b, err := backend.New("b1", "NY", host, portNum, false, false)
	assert.NilError(t, err)
	backends := backend.NewStore()
	assert.NilError(t, backends.Insert(b))

	mapper := resource.NewMapper()
	mapper.MapBackend("/prod", "b1")

	deps := newTestDeps(t, resolver, mapper, backends, farm.NewStore())

	ingress, peer := net.Pipe()
	defer ingress.Close()
	defer peer.Close()
	sess := NewSession(ingress)
	sess.VHost = "/prod"
	var clientProps frame.Table
	clientProps = clientProps.Set("product", frame.FieldValue{Tag: frame.FVLongstr, Str: "my-client"})
	sess.StartOkCapture = StartOkCapture{Mechanism: "PLAIN", ClientProperties: clientProps}
	sess.ClientTune = Negotiated{ChannelMax: 100, FrameMax: 131072, Heartbeat: 60}

	_, _, _ = Connect(sess, deps, nil)

	select {
	case so := <-startOkCh:
		_, ok := so.ClientProperties.Get("product")
		assert.Assert(t, ok, "augmented properties must still carry the client's own entries")
		_, ok = so.ClientProperties.Get("proxy_client_remote_port")
		assert.Assert(t, ok, "augmented properties must carry proxy_client_remote_port")
		_, ok = so.ClientProperties.Get("proxy_inbound_listen_port")
		assert.Assert(t, ok, "augmented properties must carry proxy_inbound_listen_port")
		_, ok = so.ClientProperties.Get("proxy_outbound_local_port")
		assert.Assert(t, ok, "augmented properties must carry proxy_outbound_local_port")
		_, ok = sess.StartOkCapture.ClientProperties.Get("proxy_client_remote_port")
		assert.Assert(t, !ok, "the session's own capture must stay unaugmented")
	case <-time.After(2 * time.Second):
		t.Fatal("broker never received StartOk")
	}
}

func TestClosePayloadForDefaultsToInternalError(t *testing.T) {
	c := ClosePayloadFor(errors.New("boom"))
	assert.Equal(t, c.ReplyCode, uint16(541))
}

func TestClosePayloadForPolicyError(t *testing.T) {
	c := ClosePayloadFor(&PolicyError{ReplyCode: 530, ReplyText: "NOT_ALLOWED"})
	assert.Equal(t, c.ReplyCode, uint16(530))
}

func TestClosePayloadForCloseError(t *testing.T) {
	c := ClosePayloadFor(frame.NewCloseError(frame.Close{ReplyCode: 320, ReplyText: "FORCED"}))
	assert.Equal(t, c.ReplyCode, uint16(320))
}
