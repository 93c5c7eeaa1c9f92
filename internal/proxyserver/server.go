// Package proxyserver implements the Server component (spec §2): listener
// management across configured ports, the live session registry, and the
// periodic cleanup reaper that gives Backend reference-counting its grace
// period (spec §5 "a backend removed concurrently is not dropped until the
// registry's grace period").
package proxyserver

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/amqpprox/amqpprox/internal/frame"
	"github.com/amqpprox/amqpprox/internal/limiter"
	"github.com/amqpprox/amqpprox/internal/session"
	"github.com/amqpprox/amqpprox/internal/tlsconfig"
	"github.com/amqpprox/amqpprox/internal/vhoststate"
)

// DefaultReapInterval is how often the Server scans its session table for
// fully-closed entries (spec §9 C.1 "Session cleanup reaper", default 1s).
const DefaultReapInterval = time.Second

// Listener is one accepting socket the Server owns, named so control verbs
// (LISTEN START|START_SECURE|STOP) can target it by address.
type Listener struct {
	Addr   string
	Secure bool

	ln     net.Listener
	cancel context.CancelFunc
}

// Server owns every live Listener and Session, and drives the connector for
// each newly-accepted ingress connection.
type Server struct {
	Deps    session.Deps
	Cluster string
	VHosts  *vhoststate.Registry
	Limiters *limiter.Registry
	TLS     tlsconfig.Provider
	Log     *logrus.Entry

	ReapInterval time.Duration

	mu        sync.Mutex
	listeners map[string]*Listener
	sessions  map[uint64]*session.Session

	onAttempt func(session.AttemptResult)
}

func New(deps session.Deps, cluster string, log *logrus.Entry) *Server {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Server{
		Deps:         deps,
		Cluster:      cluster,
		VHosts:       vhoststate.NewRegistry(),
		Limiters:     limiter.NewRegistry(),
		Log:          log,
		ReapInterval: DefaultReapInterval,
		listeners:    make(map[string]*Listener),
		sessions:     make(map[uint64]*session.Session),
	}
}

// SetOnAttempt installs a callback invoked after every individual backend
// attempt (success or failure), for the stats package to update per-backend
// counters without this package depending on internal/stats.
func (s *Server) SetOnAttempt(f func(session.AttemptResult)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onAttempt = f
}

// StartListener begins accepting ingress connections on addr (spec §4.5
// "LISTEN START|START_SECURE"). secure wraps the listener in TLS using
// s.TLS's server config.
func (s *Server) StartListener(addr string, secure bool) error {
	s.mu.Lock()
	if _, ok := s.listeners[addr]; ok {
		s.mu.Unlock()
		return fmt.Errorf("proxyserver: listener %s already started", addr)
	}
	s.mu.Unlock()

	var ln net.Listener
	var err error
	if secure {
		if s.TLS == nil {
			return fmt.Errorf("proxyserver: secure listener requested but no TLS provider configured")
		}
		ln, err = tls.Listen("tcp", addr, s.TLS.ServerConfig())
	} else {
		ln, err = net.Listen("tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("proxyserver: listen %s: %w", addr, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &Listener{Addr: addr, Secure: secure, ln: ln, cancel: cancel}

	s.mu.Lock()
	s.listeners[addr] = l
	s.mu.Unlock()

	go s.acceptLoop(ctx, l)
	return nil
}

// StopListener closes the named listener without affecting sessions already
// accepted through it (spec §4.5 "LISTEN STOP").
func (s *Server) StopListener(addr string) error {
	s.mu.Lock()
	l, ok := s.listeners[addr]
	if ok {
		delete(s.listeners, addr)
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("proxyserver: no listener on %s", addr)
	}
	l.cancel()
	return l.ln.Close()
}

// Listeners returns a snapshot of active listener addresses, for CONN/STAT
// control output.
func (s *Server) Listeners() []Listener {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		out = append(out, Listener{Addr: l.Addr, Secure: l.Secure})
	}
	return out
}

func (s *Server) acceptLoop(ctx context.Context, l *Listener) {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				s.Log.WithError(err).WithField("listener", l.Addr).Warn("accept failed")
				return
			}
		}
		go s.handleConn(conn)
	}
}

func (s *Server) registerSession(sess *session.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess
}

// Sessions returns a snapshot of every tracked session (live or pending
// reap), for CONN/SESSION control output and the stats emitter.
func (s *Server) Sessions() []*session.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*session.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	return out
}

// Session looks up a session by its 64-bit id (spec §4.5 "SESSION <id>
// ...").
func (s *Server) Session(id uint64) (*session.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// SessionsForVHost returns every tracked session currently bound to vhost,
// for VHOST PAUSE|UNPAUSE|FORCE_DISCONNECT|BACKEND_DISCONNECT propagation.
func (s *Server) SessionsForVHost(vhost string) []*session.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*session.Session
	for _, sess := range s.sessions {
		if sess.VHost == vhost {
			out = append(out, sess)
		}
	}
	return out
}

func (s *Server) handleConn(conn net.Conn) {
	sess := session.NewSession(conn)
	s.registerSession(sess)
	log := s.Log.WithField("session_id", sess.ID).WithField("trace_id", sess.TraceID)

	r := session.NewFrameReader(conn)
	if err := session.IngressPreamble(r, conn); err != nil {
		log.WithError(err).Debug("ingress preamble rejected")
		sess.Close()
		return
	}

	ihr, err := session.DriveIngress(r, conn, s.Cluster)
	if err != nil {
		log.WithError(err).Warn("ingress handshake failed")
		closeAndDisconnect(conn, err)
		return
	}
	sess.VHost = ihr.VHost
	sess.StartOkCapture = ihr.StartOk
	sess.ClientTune = ihr.ClientTune
	sess.SetIngressReader(r)

	vlimits := s.Limiters.Get(sess.VHost)
	if !vlimits.ConnRate.AllowNewConnection() {
		log.WithField("vhost", sess.VHost).Warn("connection rejected: vhost connection-rate limit exceeded")
		closeAndDisconnect(conn, &session.PolicyError{ReplyCode: 530, ReplyText: "NOT_ALLOWED - connection rate limit exceeded"})
		return
	}
	if !vlimits.ConnCount.AllowNewConnection() {
		log.WithField("vhost", sess.VHost).Warn("connection rejected: vhost connection-count limit exceeded")
		closeAndDisconnect(conn, &session.PolicyError{ReplyCode: 530, ReplyText: "NOT_ALLOWED - connection count limit exceeded"})
		return
	}
	defer vlimits.ConnCount.ConnectionClosed()
	sess.DataRate = vlimits.DataRate

	s.mu.Lock()
	onAttempt := s.onAttempt
	s.mu.Unlock()

	egress, result, err := session.Connect(sess, s.Deps, onAttempt)
	if err != nil {
		log.WithError(err).WithField("vhost", sess.VHost).Warn("backend connect failed")
		closeAndDisconnect(conn, err)
		return
	}
	sess.Egress = egress
	sess.Negotiated = result.Negotiated

	if err := session.SendOpenOk(conn); err != nil {
		log.WithError(err).Warn("sending OpenOk failed")
		sess.Close()
		return
	}

	if s.VHosts.IsPaused(sess.VHost) {
		sess.Pause()
	}

	sess.MarkConnected()
	log.WithField("vhost", sess.VHost).Info("session connected")

	if err := session.Splice(sess); err != nil {
		log.WithError(err).Debug("splice ended with error")
	}
}

// closeAndDisconnect sends the appropriate Close payload to the client
// before tearing the ingress socket down (spec §7 Transport/Policy/Peer
// Close error kinds).
func closeAndDisconnect(conn net.Conn, err error) {
	payload := session.ClosePayloadFor(err)
	f := frame.EncodeClose(payload)
	conn.Write(frame.Encode(nil, f))
	conn.Close()
}

// Serve blocks, running the session-reaper loop and the limiter tick loop
// under an errgroup until ctx is cancelled (grounded on the teacher's
// errgroup-supervised daemon shutdown idiom). Listener accept loops are not
// part of that group: each runs from StartListener until StopListener closes
// its listener, so cancelling ctx leaves listeners open.
func (s *Server) Serve(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.reapLoop(ctx)
		return nil
	})
	g.Go(func() error {
		s.limiterTickLoop(ctx)
		return nil
	})
	return g.Wait()
}

// limiterTickLoop drives every tracked vhost's data-rate limiter OnTimer
// once a second (spec §4.6 "onTimer ... invoked once per second").
func (s *Server) limiterTickLoop(ctx context.Context) {
	t := time.NewTicker(time.Second)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.Limiters.Tick()
		}
	}
}

func (s *Server) reapLoop(ctx context.Context) {
	interval := s.ReapInterval
	if interval <= 0 {
		interval = DefaultReapInterval
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.reapOnce()
		}
	}
}

func (s *Server) reapOnce() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sess := range s.sessions {
		if sess.Closed() {
			delete(s.sessions, id)
		}
	}
}
