package control

import (
	"fmt"

	"github.com/amqpprox/amqpprox/internal/session"
)

// cmdSession implements "SESSION <id> PAUSE|DISCONNECT_GRACEFUL|
// FORCE_DISCONNECT" (spec §4.5): commands targeting a specific live session
// post onto that session's own state rather than mutating a registry (spec
// §4.5 "Commands that target a specific live session ... post onto the
// session's execution context").
func (s *Server) cmdSession(args []string) ([]string, error) {
	if len(args) < 2 {
		return nil, fmt.Errorf("SESSION requires <id> <sub-verb>")
	}
	id, err := parseUint64(args[0])
	if err != nil {
		return nil, fmt.Errorf("invalid session id %q: %w", args[0], err)
	}
	sess, ok := s.Reg.Server.Session(id)
	if !ok {
		return nil, fmt.Errorf("SESSION: no session %d", id)
	}
	switch args[1] {
	case "PAUSE":
		sess.Pause()
		return []string{"OK"}, nil
	case "UNPAUSE":
		sess.Unpause()
		return []string{"OK"}, nil
	case "DISCONNECT_GRACEFUL":
		go session.GracefulClose(sess, 200, "OK")
		return []string{"OK"}, nil
	case "FORCE_DISCONNECT":
		session.ForceClose(sess)
		return []string{"OK"}, nil
	default:
		return nil, fmt.Errorf("SESSION: unknown sub-verb %q", args[1])
	}
}

// cmdConn implements "CONN" (spec §4.5): a flat listing of every live
// session, one line each, for operator inspection.
func (s *Server) cmdConn(args []string) ([]string, error) {
	var out []string
	for _, sess := range s.Reg.Server.Sessions() {
		backendName := "-"
		if sess.Backend != nil {
			backendName = sess.Backend.Name
		}
		out = append(out, fmt.Sprintf("session=%d vhost=%s backend=%s state=%s paused=%t",
			sess.ID, sess.VHost, backendName, sess.State, sess.IsPaused()))
	}
	return out, nil
}

// cmdListen implements "LISTEN START|START_SECURE|STOP" (spec §4.5).
func (s *Server) cmdListen(args []string) ([]string, error) {
	if len(args) < 2 {
		return nil, fmt.Errorf("LISTEN requires a sub-verb and an address")
	}
	switch args[0] {
	case "START":
		if err := s.Reg.Server.StartListener(args[1], false); err != nil {
			return nil, err
		}
		return []string{"OK"}, nil
	case "START_SECURE":
		if err := s.Reg.Server.StartListener(args[1], true); err != nil {
			return nil, err
		}
		return []string{"OK"}, nil
	case "STOP":
		if err := s.Reg.Server.StopListener(args[1]); err != nil {
			return nil, err
		}
		return []string{"OK"}, nil
	default:
		return nil, fmt.Errorf("LISTEN: unknown sub-verb %q", args[0])
	}
}
