// Package control implements the line-oriented command channel (spec §4.5):
// a UNIX-domain stream socket that accepts one command per connection,
// dispatches it against the live registries, and writes zero or more
// response lines back before the server closes the connection. Grounded on
// the control-socket shape sketched in
// other_examples/f940c83d_nabbar-golib__socket-server-tcp-doc.go.go and
// .../19c767a3_nabbar-golib__socket-server-unix-doc.go.go, and on
// original_source/amqpprox_control.h + amqpprox_*controlcommand.* for the
// verb grammar itself.
package control

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/amqpprox/amqpprox/internal/authintercept"
	"github.com/amqpprox/amqpprox/internal/backend"
	"github.com/amqpprox/amqpprox/internal/datacenter"
	"github.com/amqpprox/amqpprox/internal/dnscache"
	"github.com/amqpprox/amqpprox/internal/farm"
	"github.com/amqpprox/amqpprox/internal/limiter"
	"github.com/amqpprox/amqpprox/internal/logging"
	"github.com/amqpprox/amqpprox/internal/proxyserver"
	"github.com/amqpprox/amqpprox/internal/resource"
	"github.com/amqpprox/amqpprox/internal/stats"
	"github.com/amqpprox/amqpprox/internal/tlsconfig"
	"github.com/amqpprox/amqpprox/internal/vhoststate"
)

// Registries bundles every mutable piece of configuration the control verbs
// touch (spec §4.5's verb list maps one-to-one onto these).
type Registries struct {
	Backends   *backend.Store
	Farms      *farm.Store
	Selectors  *farm.SelectorStore
	Policies   *farm.PolicyStore
	Resources  *resource.Mapper
	Datacenter *datacenter.Registry
	VHosts     *vhoststate.Registry
	Limiters   *limiter.Registry
	DNS        *dnscache.Cache
	Log        *logging.Sink
	Stats      *stats.Collector
	TLS        *TLSHolder
	Auth       *AuthHolder
	Server     *proxyserver.Server

	StartedAt time.Time
}

// TLSHolder reports the currently configured tlsconfig.Provider for the
// TLS PRINT verb. Spec §1 names TLS context setup itself as an external,
// out-of-scope collaborator; this holder is just the named boundary the
// control channel can describe, not a context builder.
type TLSHolder struct {
	mu          sync.Mutex
	provider    tlsconfig.Provider
	description string
}

func NewTLSHolder(provider tlsconfig.Provider, description string) *TLSHolder {
	return &TLSHolder{provider: provider, description: description}
}

func (t *TLSHolder) Provider() tlsconfig.Provider {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.provider
}

func (t *TLSHolder) Describe() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.description
}

// AuthHolder lets the AUTH SERVICE control verb swap the live Interceptor
// (spec §6 "Auth service (optional)") without every caller of
// session.Deps.Auth needing to re-read a registry on every session.
type AuthHolder struct {
	mu   sync.Mutex
	impl authintercept.Interceptor
	desc string
}

func NewAuthHolder() *AuthHolder {
	return &AuthHolder{impl: authintercept.AllowAll{}, desc: "allow-all (default)"}
}

func (a *AuthHolder) Get() authintercept.Interceptor {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.impl
}

func (a *AuthHolder) SetHTTP(url string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.impl = authintercept.NewHTTPClient(url)
	a.desc = "http:" + url
}

func (a *AuthHolder) SetAllowAll() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.impl = authintercept.AllowAll{}
	a.desc = "allow-all (default)"
}

func (a *AuthHolder) Describe() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.desc
}

// CommandRateLimit bounds how many commands per second the control server
// accepts across all of its connections (SPEC_FULL.md B:
// golang.org/x/time/rate; one token bucket per Server). The grammar is one
// command per connection, so in practice this guards against clients that
// reconnect rapidly rather than pipelining on one socket; handle consults it
// before reading each connection's command.
const CommandRateLimit = 50 // commands/sec

// Server owns the UNIX-domain listener and dispatches incoming commands
// against Registries (spec §4.5).
type Server struct {
	SocketPath string
	Reg        *Registries
	Log        *logrus.Entry

	limiter *rate.Limiter

	mu sync.Mutex
	ln net.Listener
}

func New(socketPath string, reg *Registries, log *logrus.Entry) *Server {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Server{
		SocketPath: socketPath,
		Reg:        reg,
		Log:        log,
		limiter:    rate.NewLimiter(rate.Limit(CommandRateLimit), CommandRateLimit),
	}
}

// ListenAndServe removes any stale socket file, binds the UNIX listener,
// and serves connections until Close is called.
func (s *Server) ListenAndServe() error {
	os.Remove(s.SocketPath)
	ln, err := net.Listen("unix", s.SocketPath)
	if err != nil {
		return fmt.Errorf("control: listen %s: %w", s.SocketPath, err)
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	for {
		conn, err := ln.Accept()
		if err != nil {
			return nil
		}
		go s.handle(conn)
	}
}

// Close stops accepting new control connections.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	err := s.ln.Close()
	os.Remove(s.SocketPath)
	return err
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()

	if !s.limiter.Allow() {
		fmt.Fprintln(conn, "ERR too many commands")
		return
	}

	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil && line == "" {
		return
	}
	line = strings.TrimRight(line, "\r\n")

	tokens := strings.Fields(line)
	if len(tokens) == 0 {
		fmt.Fprintln(conn, "ERR empty command")
		return
	}

	verb := strings.ToUpper(tokens[0])
	log := s.Log.WithField("verb", verb)

	out, err := s.Dispatch(verb, tokens[1:])
	if err != nil {
		log.WithError(err).Debug("control command failed")
		fmt.Fprintf(conn, "ERR %s\n", err)
		return
	}
	for _, l := range out {
		fmt.Fprintln(conn, l)
	}
}

// Dispatch routes verb (already upper-cased) with its remaining tokens to
// the matching handler (spec §4.5's enumerated verb list). It is exported
// so in-process callers, this package's tests among them, can invoke
// commands without going through a real socket.
func (s *Server) Dispatch(verb string, args []string) ([]string, error) {
	switch verb {
	case "BACKEND":
		return s.cmdBackend(args)
	case "FARM":
		return s.cmdFarm(args)
	case "MAP":
		return s.cmdMap(args)
	case "MAPHOSTNAME":
		return s.cmdMapHostname(args)
	case "VHOST":
		return s.cmdVhost(args)
	case "SESSION":
		return s.cmdSession(args)
	case "CONN":
		return s.cmdConn(args)
	case "LISTEN":
		return s.cmdListen(args)
	case "STAT":
		return s.cmdStat(args)
	case "DATACENTER":
		return s.cmdDatacenter(args)
	case "LOG":
		return s.cmdLog(args)
	case "LIMIT":
		return s.cmdLimit(args)
	case "TLS":
		return s.cmdTLS(args)
	case "AUTH":
		return s.cmdAuth(args)
	case "HELP":
		return helpLines(), nil
	case "EXIT":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown verb %q", verb)
	}
}

func helpLines() []string {
	return []string{
		"BACKEND ADD|DELETE|PRINT",
		"FARM ADD|DELETE|PRINT|SET_SELECTOR|ADD_POLICY",
		"MAP VHOST|BACKEND|UNMAP|PRINT|DEFAULT|REMOVE_DEFAULT",
		"MAPHOSTNAME DNS",
		"VHOST PAUSE|UNPAUSE|FORCE_DISCONNECT|PRINT|BACKEND_DISCONNECT",
		"SESSION <id> PAUSE|DISCONNECT_GRACEFUL|FORCE_DISCONNECT",
		"CONN",
		"LISTEN START|START_SECURE|STOP",
		"STAT [human]",
		"DATACENTER SET|PRINT",
		"LOG CONSOLE|FILE <verbosity>",
		"LIMIT CONN_RATE|CONN_COUNT|DATA_RATE|DATA_RATE_ALARM ...",
		"TLS ...",
		"AUTH SERVICE|PRINT",
		"HELP",
		"EXIT",
	}
}

func parseUint16(s string) (uint16, error) {
	n, err := strconv.ParseUint(s, 10, 16)
	return uint16(n), err
}

func parseUint64(s string) (uint64, error) {
	return strconv.ParseUint(s, 10, 64)
}

func parseInt64(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}

func parseIP(s string) (net.IP, error) {
	ip := net.ParseIP(s)
	if ip == nil {
		return nil, fmt.Errorf("invalid IP %q", s)
	}
	return ip, nil
}

func parseBool(s string) bool {
	switch strings.ToLower(s) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
