package session

import (
	"net"
	"testing"
	"time"

	"gotest.tools/v3/assert"
	"gotest.tools/v3/poll"

	"github.com/amqpprox/amqpprox/internal/frame"
)

func newConnectedSession(t *testing.T) (sess *Session, clientSide, brokerSide net.Conn) {
	t.Helper()
	ingress, client := net.Pipe()
	egress, broker := net.Pipe()
	t.Cleanup(func() {
		ingress.Close()
		egress.Close()
		client.Close()
		broker.Close()
	})
	sess = NewSession(ingress)
	sess.Egress = egress
	sess.MarkConnected()
	return sess, client, broker
}

func TestSpliceForwardsOpaqueFramesBothWays(t *testing.T) {
	sess, client, broker := newConnectedSession(t)

	done := make(chan error, 1)
	go func() { done <- Splice(sess) }()

	payload := frame.Frame{Type: frame.TypeBody, Channel: 1, Payload: []byte("hello")}
	go client.Write(frame.Encode(nil, payload))

	r := NewFrameReader(broker)
	got, err := r.Next()
	assert.NilError(t, err)
	assert.Equal(t, string(got.Payload), "hello")
	assert.Equal(t, got.Channel, uint16(1))

	client.Close()
	broker.Close()
	<-done
}

func TestSpliceForwardsHeartbeatsWithoutSpecialHandling(t *testing.T) {
	sess, client, broker := newConnectedSession(t)

	done := make(chan error, 1)
	go func() { done <- Splice(sess) }()

	go client.Write(frame.Encode(nil, frame.Heartbeat()))

	r := NewFrameReader(broker)
	got, err := r.Next()
	assert.NilError(t, err)
	assert.Assert(t, frame.IsHeartbeat(got))

	client.Close()
	broker.Close()
	<-done
}

func TestSpliceStopsReadingWhilePaused(t *testing.T) {
	sess, client, broker := newConnectedSession(t)
	sess.Pause()

	done := make(chan error, 1)
	go func() { done <- Splice(sess) }()

	// Give the paused loop a moment to settle into its poll, then unpause
	// and confirm traffic still flows.
	time.Sleep(30 * time.Millisecond)
	sess.Unpause()

	go client.Write(frame.Encode(nil, frame.Frame{Type: frame.TypeBody, Channel: 0, Payload: []byte("x")}))

	r := NewFrameReader(broker)
	poll.WaitOn(t, func(t poll.LogT) poll.Result {
		_, err := r.Next()
		if err != nil {
			return poll.Continue("waiting for frame: %v", err)
		}
		return poll.Success()
	}, poll.WithTimeout(2*time.Second))

	client.Close()
	broker.Close()
	<-done
}

func TestSpliceEndsSessionOnForwardedClose(t *testing.T) {
	sess, client, broker := newConnectedSession(t)

	done := make(chan error, 1)
	go func() { done <- Splice(sess) }()

	go func() {
		client.Write(frame.Encode(nil, frame.EncodeClose(frame.Close{ReplyCode: 200, ReplyText: "bye"})))
	}()

	r := NewFrameReader(broker)
	got, err := r.Next()
	assert.NilError(t, err)
	cid, mid, err := frame.MethodHeader(got)
	assert.NilError(t, err)
	assert.Equal(t, cid, frame.ClassConnection)
	assert.Equal(t, mid, frame.MethodClose)

	// The proxy must wait for the broker's CloseOk and forward it to the
	// client (spec §4.2 "expects CloseOk before closing its sockets") rather
	// than tearing down the instant the client's Close is forwarded.
	go broker.Write(frame.Encode(nil, frame.EncodeCloseOk()))

	r2 := NewFrameReader(client)
	gotOk, err := r2.Next()
	assert.NilError(t, err)
	cid2, mid2, err := frame.MethodHeader(gotOk)
	assert.NilError(t, err)
	assert.Equal(t, cid2, frame.ClassConnection)
	assert.Equal(t, mid2, frame.MethodCloseOk)

	select {
	case err := <-done:
		assert.NilError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("splice did not return after forwarding CloseOk")
	}
	assert.Assert(t, sess.IsDisconnecting())
	assert.Assert(t, sess.Closed())
}

func TestSpliceClosesAfterTimeoutWhenCloseOkNeverArrives(t *testing.T) {
	orig := CloseTimeout
	CloseTimeout = 50 * time.Millisecond
	t.Cleanup(func() { CloseTimeout = orig })

	sess, client, broker := newConnectedSession(t)

	done := make(chan error, 1)
	go func() { done <- Splice(sess) }()

	go func() {
		client.Write(frame.Encode(nil, frame.EncodeClose(frame.Close{ReplyCode: 200, ReplyText: "bye"})))
	}()

	r := NewFrameReader(broker)
	_, err := r.Next()
	assert.NilError(t, err)

	// The broker never answers CloseOk; Splice must still close bound by
	// CloseTimeout rather than hang forever.
	select {
	case err := <-done:
		assert.NilError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("splice did not close after CloseOk timeout")
	}
	assert.Assert(t, sess.Closed())
}

func TestSpliceClosesOnFrameExceedingNegotiatedMax(t *testing.T) {
	orig := CloseTimeout
	CloseTimeout = 50 * time.Millisecond
	t.Cleanup(func() { CloseTimeout = orig })

	sess, client, _ := newConnectedSession(t)
	sess.Negotiated.FrameMax = 100

	done := make(chan error, 1)
	go func() { done <- Splice(sess) }()

	oversized := frame.Frame{Type: frame.TypeBody, Channel: 0, Payload: make([]byte, 200)}
	go client.Write(frame.Encode(nil, oversized))

	// The proxy sends Close(501) directly to the client rather than
	// forwarding the oversized frame to the broker (spec §4.2 "Any frame
	// larger than the negotiated max is a fatal error (close 501)").
	r := NewFrameReader(client)
	got, err := r.Next()
	assert.NilError(t, err)
	cid, mid, err := frame.MethodHeader(got)
	assert.NilError(t, err)
	assert.Equal(t, cid, frame.ClassConnection)
	assert.Equal(t, mid, frame.MethodClose)
	c, err := frame.DecodeClose(got.Payload)
	assert.NilError(t, err)
	assert.Equal(t, c.ReplyCode, uint16(501))

	go client.Write(frame.Encode(nil, frame.EncodeCloseOk()))

	select {
	case err := <-done:
		assert.NilError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("splice did not close after oversized frame")
	}
	assert.Assert(t, sess.Closed())
}

func TestGracefulCloseSendsCloseToBothPeers(t *testing.T) {
	sess, client, broker := newConnectedSession(t)

	go GracefulClose(sess, 200, "shutting down")

	r := NewFrameReader(client)
	f, err := r.Next()
	assert.NilError(t, err)
	c, err := frame.DecodeClose(f.Payload)
	assert.NilError(t, err)
	assert.Equal(t, c.ReplyCode, uint16(200))

	r2 := NewFrameReader(broker)
	_, err = r2.Next()
	assert.NilError(t, err)
}

func TestForceCloseClosesSocketsImmediately(t *testing.T) {
	sess, client, _ := newConnectedSession(t)
	ForceClose(sess)
	assert.Assert(t, sess.IsDisconnecting())
	assert.Assert(t, sess.Closed())

	buf := make([]byte, 1)
	_, err := client.Read(buf)
	assert.ErrorContains(t, err, "EOF")
}
