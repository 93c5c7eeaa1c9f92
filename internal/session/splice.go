package session

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/amqpprox/amqpprox/internal/bufpool"
	"github.com/amqpprox/amqpprox/internal/frame"
)

// DefaultBucketSizes mirrors the negotiated max frame size plus a couple of
// smaller buckets for the common case of small method frames, so most
// traffic never spills over (spec §4.4).
var DefaultBucketSizes = []int{4096, 32768, int(frame.MaxFrameSize)}

// SplicePool is a process-wide Pool built from DefaultBucketSizes. The
// splice loop does not acquire from it: copyDirection forwards each frame
// through a buffer that frame.Encode allocates. Per spec §5 acquire/release
// are single-threaded, so a Pool is not safe for concurrent use.
var SplicePool = bufpool.New(DefaultBucketSizes)

// CloseTimeout bounds how long GracefulClose and a Close-initiated Splice
// teardown wait for a peer's CloseOk before giving up and closing anyway
// (spec §4.2 "Disconnect": graceful mode; "Connected (splice) phase": "if
// the peer violates the order, the proxy closes anyway after a timeout").
// A var, not a const, so tests can shorten it instead of running at full
// length.
var CloseTimeout = 5 * time.Second

// errCloseForwarded is returned by copyDirection when it forwards a Close
// method, distinguishing a Close-initiated teardown (spec §4.2 "Connected
// (splice) phase": "expects CloseOk before closing its sockets") from a
// plain EOF/error teardown.
var errCloseForwarded = errors.New("session: close forwarded")

// Splice runs the bidirectional copy loop for a Connected session,
// forwarding bytes between Ingress and Egress while peeking at frame
// boundaries for heartbeat and Close (spec §4.2 "Connected (splice)
// phase"). When a direction terminates because it forwarded a Close, the
// proxy keeps both sockets open and gives the peer up to CloseTimeout to
// answer with CloseOk on the other direction -- which that direction
// forwards like any other frame before terminating itself -- and only then
// tears both sockets down; if the peer violates the order, it closes
// anyway once the timeout elapses (spec §4.2, §7 "Peer Close"). Any other
// termination -- EOF or an error -- tears both sockets down immediately,
// unblocking the other direction's read. It returns the first non-nil
// error observed, if any; errCloseForwarded is not surfaced to the caller.
func Splice(sess *Session) error {
	ingressReader := sess.ingressReader
	if ingressReader == nil {
		ingressReader = NewFrameReader(sess.Ingress)
	}
	egressReader := sess.egressReader
	if egressReader == nil {
		egressReader = NewFrameReader(sess.Egress)
	}

	errs := make(chan error, 2)
	go func() {
		errs <- copyDirection(sess, ingressReader, sess.Egress, &sess.Counters.BytesIngressToEgress, &sess.Counters.FramesIngressToEgress, true)
	}()
	go func() {
		errs <- copyDirection(sess, egressReader, sess.Ingress, &sess.Counters.BytesEgressToIngress, &sess.Counters.FramesEgressToIngress, false)
	}()

	first := <-errs
	sess.MarkDisconnecting()

	if errors.Is(first, errCloseForwarded) {
		var second error
		select {
		case second = <-errs:
		case <-time.After(CloseTimeout):
		}
		sess.Close()
		if second != nil && !errors.Is(second, errCloseForwarded) {
			return second
		}
		return nil
	}

	sess.Close()
	second := <-errs
	if errors.Is(second, errCloseForwarded) {
		second = nil
	}

	if first != nil {
		return first
	}
	return second
}

// copyDirection forwards frames from src to dst, counting bytes and frames
// and reacting to heartbeat/Close boundaries. It never interprets frame
// types other than those two specially: everything else is opaque payload
// the proxy forwards unchanged (spec §1 "everything downstream is opaque
// byte forwarding"). A forwarded Close returns errCloseForwarded so Splice
// can wait for the answering CloseOk instead of tearing down immediately;
// a forwarded CloseOk ends this direction normally, since nothing further
// is expected once the exchange completes. isIngressReader marks the
// direction reading off sess.Ingress: it is the only direction that can
// ever observe the client's reply to a proxy-initiated (fatal) Close, since
// nothing else reads that socket.
func copyDirection(sess *Session, r *FrameReader, dst net.Conn, byteCounter, frameCounter *int64, isIngressReader bool) error {
	for {
		for sess.IsPaused() {
			time.Sleep(10 * time.Millisecond)
			if sess.IsDisconnecting() {
				return nil
			}
		}

		f, err := r.Next()
		if err != nil {
			var ce *frame.CloseError
			if errors.As(err, &ce) {
				// Shouldn't normally occur post-handshake; treat as a
				// Close method and fall through the same handling path.
				f = frame.EncodeClose(frame.Close{ReplyCode: ce.ReplyCode, ReplyText: ce.ReplyText, ClassID: ce.ClassID, MethodID: ce.MethodID})
			} else if errors.Is(err, io.EOF) || isClosedConnError(err) {
				return nil
			} else {
				return fmt.Errorf("session: splice read: %w", err)
			}
		}

		// spec §4.2 "Any frame larger than the negotiated max is a fatal
		// error (close 501)" -- frame.Decode only bounds the wire-absolute
		// MaxFrameSize; the negotiated value (min of client/broker Tune)
		// can be smaller.
		if max := sess.Negotiated.FrameMax; max != 0 && uint32(len(f.Payload)) > max {
			return closeFatal(sess, r, isIngressReader, 501, "FRAME_ERROR - frame exceeds negotiated max-frame-size")
		}

		buf := frame.Encode(nil, f)
		if sess.DataRate != nil {
			for !sess.DataRate.Allow(int64(len(buf))) {
				time.Sleep(10 * time.Millisecond)
				if sess.IsDisconnecting() {
					return nil
				}
			}
			sess.DataRate.RecordUsage(int64(len(buf)))
		}
		if _, err := dst.Write(buf); err != nil {
			if isClosedConnError(err) {
				return nil
			}
			return fmt.Errorf("session: splice write: %w", err)
		}
		atomic.AddInt64(byteCounter, int64(len(buf)))
		atomic.AddInt64(frameCounter, 1)

		if frame.IsHeartbeat(f) {
			continue
		}
		if f.Type == frame.TypeMethod {
			cid, mid, err := frame.MethodHeader(f)
			if err == nil && cid == frame.ClassConnection {
				switch mid {
				case frame.MethodClose:
					return errCloseForwarded
				case frame.MethodCloseOk:
					return nil
				}
			}
		}
	}
}

func isClosedConnError(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe)
}

// closeFatal writes a Close method with the given reply code/text directly
// to the client socket (spec §7 "client receives Close(501 frame_error)").
// When called from the ingress-reading direction -- the only direction that
// will ever see the client's reply, since the other direction reads the
// broker's socket -- it also makes its own bounded, best-effort attempt to
// drain that CloseOk before returning, the same "attempt CloseOk" idiom
// GracefulClose uses. Either way it returns errCloseForwarded so Splice
// waits (bounded) for the other direction before tearing both sockets down.
func closeFatal(sess *Session, r *FrameReader, isIngressReader bool, replyCode uint16, replyText string) error {
	buf := frame.Encode(nil, frame.EncodeClose(frame.Close{ReplyCode: replyCode, ReplyText: replyText}))
	if sess.Ingress != nil {
		sess.Ingress.Write(buf)
	}
	if isIngressReader && sess.Ingress != nil {
		sess.Ingress.SetReadDeadline(time.Now().Add(CloseTimeout))
		r.Next() // best effort: drain until CloseOk or timeout
		sess.Ingress.SetReadDeadline(time.Time{})
	}
	return errCloseForwarded
}

// GracefulClose sends Close to both peers and waits (bounded by
// CloseTimeout) for their CloseOk before returning (spec §4.2
// "Disconnect": graceful mode). Callers must not invoke this concurrently
// with Splice on the same session; it is meant for sessions the control
// plane is closing outside the normal splice loop (e.g. VHOST PAUSE ...
// FORCE_DISCONNECT issued before Connected, or a shutdown sweep).
func GracefulClose(sess *Session, replyCode uint16, replyText string) {
	sess.MarkDisconnecting()
	closeFrame := frame.Encode(nil, frame.EncodeClose(frame.Close{ReplyCode: replyCode, ReplyText: replyText}))

	done := make(chan struct{}, 2)
	for _, conn := range []net.Conn{sess.Ingress, sess.Egress} {
		if conn == nil {
			done <- struct{}{}
			continue
		}
		go func(c net.Conn) {
			defer func() { done <- struct{}{} }()
			c.Write(closeFrame)
			c.SetReadDeadline(time.Now().Add(CloseTimeout))
			r := NewFrameReader(c)
			r.Next() // best effort: drain until CloseOk or timeout
		}(conn)
	}
	<-done
	<-done
	sess.Close()
}

// ForceClose implements spec §4.2 "Disconnect": force mode -- immediate
// socket close, no exchange.
func ForceClose(sess *Session) {
	sess.MarkDisconnecting()
	sess.Close()
}
