package session

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/amqpprox/amqpprox/internal/authintercept"
	"github.com/amqpprox/amqpprox/internal/backend"
	"github.com/amqpprox/amqpprox/internal/connmgr"
	"github.com/amqpprox/amqpprox/internal/dnscache"
	"github.com/amqpprox/amqpprox/internal/farm"
	"github.com/amqpprox/amqpprox/internal/frame"
	"github.com/amqpprox/amqpprox/internal/proxyproto"
	"github.com/amqpprox/amqpprox/internal/resource"
	"github.com/amqpprox/amqpprox/internal/tlsconfig"
)

// PolicyError carries the AMQP reply code/text the session must send to
// the client before closing, for conditions that never reach a backend
// (spec §7 "Policy": no mapping, or auth denied -- Close(530 not_allowed)).
type PolicyError struct {
	ReplyCode uint16
	ReplyText string
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("session: policy error %d %s", e.ReplyCode, e.ReplyText)
}

// ErrBackendsExhausted is returned when every candidate backend failed and
// the selector has no more entries to offer (spec §7 "Transport": "if all
// exhausted, close client with 541 internal_error").
var ErrBackendsExhausted = fmt.Errorf("session: all backends exhausted")

// Deps bundles the registries and collaborators the connector needs to
// resolve a vhost to a live broker connection (spec §2 control-flow
// paragraph).
type Deps struct {
	Resources *resource.Mapper
	Farms     *farm.Store
	Backends  *backend.Store
	Selectors *farm.SelectorStore
	DNS       *dnscache.Cache
	Auth      authintercept.Interceptor
	TLS       tlsconfig.Provider
	DialTimeout time.Duration
	Log       *logrus.Entry
}

// AttemptResult is returned for each individual backend attempt, whether it
// succeeded or not, so callers can update statistics.
type AttemptResult struct {
	Backend *backend.Backend
	Err     error
}

// Connect resolves sess.VHost to a BackendSet and drives the session's
// retry loop (spec §4.2 "With a ConnectionManager in hand..."), returning
// the live egress connection and negotiated tuning parameters on success.
// onAttempt, if non-nil, is called after every attempt (success or
// failure) for statistics.
func Connect(sess *Session, deps Deps, onAttempt func(AttemptResult)) (net.Conn, EgressHandshakeResult, error) {
	target, ok := deps.Resources.Lookup(sess.VHost)
	if !ok {
		return nil, EgressHandshakeResult{}, &PolicyError{ReplyCode: 530, ReplyText: "NOT_ALLOWED - no vhost mapping"}
	}

	if deps.Auth != nil {
		res, err := deps.Auth.Check(context.Background(), sess.VHost, sess.StartOkCapture.Mechanism, sess.StartOkCapture.Response)
		if err != nil {
			return nil, EgressHandshakeResult{}, fmt.Errorf("session: auth check: %w", err)
		}
		if !res.Allowed {
			reason := res.Reason
			if reason == "" {
				reason = "denied"
			}
			return nil, EgressHandshakeResult{}, &PolicyError{ReplyCode: 530, ReplyText: "NOT_ALLOWED - " + reason}
		}
	}

	var set *farm.BackendSet
	var selector farm.BackendSelector
	var releases []func()

	switch target.Kind {
	case resource.TargetBackend:
		b, release, err := deps.Backends.Lookup(target.Name)
		if err != nil {
			return nil, EgressHandshakeResult{}, fmt.Errorf("session: resolving backend %q: %w", target.Name, err)
		}
		set = farm.NewSingle(b)
		selector = farm.RoundRobin{}
		releases = []func(){release}
	case resource.TargetFarm:
		f, err := deps.Farms.Get(target.Name)
		if err != nil {
			return nil, EgressHandshakeResult{}, fmt.Errorf("session: resolving farm %q: %w", target.Name, err)
		}
		set, releases = f.Materialize(deps.Backends)
		sel, ok := deps.Selectors.Get(f.SelectorName())
		if !ok {
			sel = farm.RoundRobin{}
		}
		selector = sel
	}
	defer func() {
		for _, r := range releases {
			r()
		}
	}()

	mgr := connmgr.New(set, selector)

	for retryCount := 0; ; retryCount++ {
		b, ok := mgr.Next(retryCount)
		if !ok {
			return nil, EgressHandshakeResult{}, ErrBackendsExhausted
		}
		conn, result, err := attemptBackend(sess, b, deps)
		if onAttempt != nil {
			onAttempt(AttemptResult{Backend: b, Err: err})
		}
		if err == nil {
			// Hold a borrow of the chosen backend for the session's
			// Connected-phase lifetime; release the rest now.
			_, holdRelease, lookupErr := deps.Backends.Lookup(b.Name)
			if lookupErr == nil {
				sess.SetBackend(b, holdRelease)
			} else {
				sess.SetBackend(b, func() {})
			}
			return conn, result, nil
		}
		deps.log().WithError(err).WithField("backend", b.Name).Warn("backend attempt failed, retrying")
	}
}

func (d Deps) log() *logrus.Entry {
	if d.Log != nil {
		return d.Log
	}
	return logrus.NewEntry(logrus.StandardLogger())
}

func attemptBackend(sess *Session, b *backend.Backend, deps Deps) (net.Conn, EgressHandshakeResult, error) {
	eps, err := deps.DNS.Resolve(b.Host, fmt.Sprintf("%d", b.Port))
	if err != nil {
		return nil, EgressHandshakeResult{}, fmt.Errorf("session: resolving %s: %w", b.Host, err)
	}
	if len(eps) == 0 {
		return nil, EgressHandshakeResult{}, fmt.Errorf("session: no addresses for %s", b.Host)
	}
	addr := &net.TCPAddr{IP: eps[0].IP, Port: int(eps[0].Port)}

	dialer := net.Dialer{Timeout: deps.DialTimeout}
	conn, err := dialer.Dial("tcp", addr.String())
	if err != nil {
		return nil, EgressHandshakeResult{}, fmt.Errorf("session: dial %s: %w", addr, err)
	}

	if b.ProxyProtocol {
		if err := writeProxyHeader(conn, sess.Ingress); err != nil {
			conn.Close()
			return nil, EgressHandshakeResult{}, err
		}
	}

	var wireConn net.Conn = conn
	if b.TLSEnabled && deps.TLS != nil {
		tlsConn, err := upgradeTLS(conn, deps.TLS)
		if err != nil {
			conn.Close()
			return nil, EgressHandshakeResult{}, fmt.Errorf("session: TLS handshake with %s: %w", b, err)
		}
		wireConn = tlsConn
	}

	egressLocalPort := 0
	if addr, ok := wireConn.LocalAddr().(*net.TCPAddr); ok {
		egressLocalPort = addr.Port
	}
	_, ingressTLS := sess.Ingress.(*tls.Conn)
	info := BuildConnectionInfo(sess.Ingress, egressLocalPort, ingressTLS)
	augmented := sess.StartOkCapture
	augmented.ClientProperties = AugmentClientProperties(augmented.ClientProperties, info)

	reader := NewFrameReader(wireConn)
	result, err := DriveEgress(reader, wireConn, sess.VHost, augmented, sess.ClientTune)
	if err != nil {
		wireConn.Close()
		return nil, EgressHandshakeResult{}, err
	}
	sess.SetEgressReader(reader)
	return wireConn, result, nil
}

func upgradeTLS(conn net.Conn, provider tlsconfig.Provider) (net.Conn, error) {
	tlsConn := tls.Client(conn, provider.ClientConfig())
	if err := tlsConn.HandshakeContext(context.Background()); err != nil {
		return nil, err
	}
	return tlsConn, nil
}

func writeProxyHeader(egress net.Conn, ingress net.Conn) error {
	src, sok := ingress.RemoteAddr().(*net.TCPAddr)
	dst, dok := egress.RemoteAddr().(*net.TCPAddr)
	if !sok || !dok {
		_, err := egress.Write([]byte("PROXY UNKNOWN\r\n"))
		return err
	}
	hdr := proxyproto.WriteHeaderV1(src.IP, dst.IP, uint16(src.Port), uint16(dst.Port))
	_, err := egress.Write(hdr)
	return err
}

// ClosePayloadFor builds the Close method payload sent to the client for a
// PolicyError, a frame.CloseError, or any other failure such as backend
// exhaustion (541) (spec §7).
func ClosePayloadFor(err error) frame.Close {
	if pe, ok := err.(*PolicyError); ok {
		return frame.Close{ReplyCode: pe.ReplyCode, ReplyText: pe.ReplyText}
	}
	var ce *frame.CloseError
	if errors.As(err, &ce) {
		return frame.Close{ReplyCode: ce.ReplyCode, ReplyText: ce.ReplyText, ClassID: ce.ClassID, MethodID: ce.MethodID}
	}
	return frame.Close{ReplyCode: 541, ReplyText: "INTERNAL_ERROR - " + err.Error()}
}
