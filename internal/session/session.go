// Package session implements the per-connection handshake state machine and
// frame splicer (spec §4.2), the only place the proxy speaks AMQP.
package session

import (
	"net"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/amqpprox/amqpprox/internal/backend"
	"github.com/amqpprox/amqpprox/internal/limiter"
)

// State enumerates the ingress-side states named in spec §4.2. Egress
// states are tracked implicitly by the connector's linear handshake
// sequence (spec §4.2 "EGRESS"); both sides converge on Connected.
type State int

const (
	StateAwaitPreamble State = iota
	StateSentStart
	StateAwaitStartOk
	StateAwaitSecureOk
	StateSentTune
	StateAwaitTuneOk
	StateAwaitOpen
	StateAwaitBackend
	StateSentOpenOk
	StateConnected
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAwaitPreamble:
		return "AwaitPreamble"
	case StateSentStart:
		return "SentStart"
	case StateAwaitStartOk:
		return "AwaitStartOk"
	case StateAwaitSecureOk:
		return "AwaitSecureOk"
	case StateSentTune:
		return "SentTune"
	case StateAwaitTuneOk:
		return "AwaitTuneOk"
	case StateAwaitOpen:
		return "AwaitOpen"
	case StateAwaitBackend:
		return "AwaitBackend"
	case StateSentOpenOk:
		return "SentOpenOk"
	case StateConnected:
		return "Connected"
	case StateClosing:
		return "Closing"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Counters holds the per-direction byte/packet/frame counts named in spec
// §3 "SessionState". Fields are accessed with sync/atomic so the stats
// emitter's periodic timer can read them without crossing into the
// session's own execution context (spec §5).
type Counters struct {
	BytesIngressToEgress  int64
	BytesEgressToIngress  int64
	FramesIngressToEgress int64
	FramesEgressToIngress int64
	PauseCount            int64
}

// Negotiated holds the effective channelMax/frameMax/heartbeat values,
// locked in once both the client Tune and the broker's Tune have been
// observed (spec §4.2 "Tune").
type Negotiated struct {
	ChannelMax uint16
	FrameMax   uint32
	Heartbeat  uint16
}

var nextSessionID uint64

// NewSessionID allocates the next process-wide 64-bit session id (spec §3:
// "unique 64-bit id").
func NewSessionID() uint64 {
	return atomic.AddUint64(&nextSessionID, 1)
}

// Session is the per-connection SessionState (spec §3). Its lifetime spans
// a single ingress TCP connection.
type Session struct {
	ID      uint64
	TraceID string // A.5: google/uuid trace correlation id, logging-only

	Ingress net.Conn
	Egress  net.Conn // nil until the egress handshake completes

	// ingressReader/egressReader carry over any bytes already buffered
	// during the handshake (a client or broker that pipelines its first
	// post-handshake frame immediately behind the last handshake frame),
	// so the splice loop never drops them. Splice falls back to a fresh
	// FrameReader when these are nil.
	ingressReader *FrameReader
	egressReader  *FrameReader

	VHost   string
	Backend *backend.Backend
	releaseBackend func()

	State       State
	Negotiated  Negotiated
	ClientTune  Negotiated
	StartOkCapture StartOkCapture

	paused        int32 // atomic bool
	disconnecting int32 // atomic bool

	// DataRate is the per-vhost data-rate limiter (spec §4.6) the splice
	// loop throttles against; nil disables throttling (the default for
	// sessions constructed outside proxyserver, e.g. in tests).
	DataRate *limiter.DataRateLimit

	Counters Counters

	StartedAt time.Time
	connectedAt time.Time
}

// NewSession constructs a Session for a freshly-accepted ingress connection.
func NewSession(ingress net.Conn) *Session {
	return &Session{
		ID:        NewSessionID(),
		TraceID:   uuid.NewString(),
		Ingress:   ingress,
		State:     StateAwaitPreamble,
		StartedAt: time.Now(),
	}
}

// SetIngressReader records the FrameReader used for the ingress handshake so
// the splice loop can resume from it instead of losing any bytes already
// buffered past the handshake's last frame.
func (s *Session) SetIngressReader(r *FrameReader) { s.ingressReader = r }

// SetEgressReader is SetIngressReader's egress-side counterpart.
func (s *Session) SetEgressReader(r *FrameReader) { s.egressReader = r }

// SetBackend records the backend chosen for this session along with its
// release function (from backend.Store.Lookup), so the borrowed reference
// is returned to the registry when the session tears down.
func (s *Session) SetBackend(b *backend.Backend, release func()) {
	s.Backend = b
	s.releaseBackend = release
}

// ReleaseBackend returns the borrowed backend reference, if any. Safe to
// call more than once.
func (s *Session) ReleaseBackend() {
	if s.releaseBackend != nil {
		s.releaseBackend()
		s.releaseBackend = nil
	}
}

// MarkConnected records the Connected-phase start time used for the
// "active since" stat.
func (s *Session) MarkConnected() {
	s.connectedAt = time.Now()
	s.State = StateConnected
}

func (s *Session) ActiveSince() time.Time { return s.connectedAt }

// Pause/Unpause implement spec §4.2 "Pause": a paused session stops issuing
// reads on both sockets but keeps them open.
func (s *Session) Pause() {
	atomic.StoreInt32(&s.paused, 1)
	atomic.AddInt64(&s.Counters.PauseCount, 1)
}

func (s *Session) Unpause() {
	atomic.StoreInt32(&s.paused, 0)
}

func (s *Session) IsPaused() bool {
	return atomic.LoadInt32(&s.paused) != 0
}

func (s *Session) MarkDisconnecting() {
	atomic.StoreInt32(&s.disconnecting, 1)
}

func (s *Session) IsDisconnecting() bool {
	return atomic.LoadInt32(&s.disconnecting) != 0
}

// Close tears down both sockets (force mode). Callers that want the
// graceful Close/CloseOk exchange should use this package's GracefulClose
// (splice.go) instead.
func (s *Session) Close() {
	s.State = StateClosed
	if s.Ingress != nil {
		s.Ingress.Close()
	}
	if s.Egress != nil {
		s.Egress.Close()
	}
	s.ReleaseBackend()
}

// Closed reports whether both sockets are known to be shut down, the
// condition the cleanup reaper (internal/proxyserver) scans for (spec §9
// "session cleanup" recovered feature, SPEC_FULL.md C.1).
func (s *Session) Closed() bool {
	return s.State == StateClosed
}
