package control

import (
	"fmt"
	"sort"

	"github.com/amqpprox/amqpprox/internal/session"
)

// cmdVhost implements "VHOST PAUSE|UNPAUSE|FORCE_DISCONNECT|PRINT|
// BACKEND_DISCONNECT" (spec §4.5, scenario S5).
func (s *Server) cmdVhost(args []string) ([]string, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("VHOST requires a sub-verb")
	}
	switch args[0] {
	case "PAUSE":
		return s.vhostPause(args[1:])
	case "UNPAUSE":
		return s.vhostUnpause(args[1:])
	case "FORCE_DISCONNECT":
		return s.vhostForceDisconnect(args[1:])
	case "BACKEND_DISCONNECT":
		return s.vhostBackendDisconnect(args[1:])
	case "PRINT":
		return s.vhostPrint()
	default:
		return nil, fmt.Errorf("VHOST: unknown sub-verb %q", args[0])
	}
}

func (s *Server) vhostPause(args []string) ([]string, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("VHOST PAUSE requires exactly one vhost")
	}
	s.Reg.VHosts.Pause(args[0])
	for _, sess := range s.Reg.Server.SessionsForVHost(args[0]) {
		sess.Pause()
	}
	return []string{"OK"}, nil
}

func (s *Server) vhostUnpause(args []string) ([]string, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("VHOST UNPAUSE requires exactly one vhost")
	}
	s.Reg.VHosts.Unpause(args[0])
	for _, sess := range s.Reg.Server.SessionsForVHost(args[0]) {
		sess.Unpause()
	}
	return []string{"OK"}, nil
}

// vhostForceDisconnect tears down every live session on a vhost immediately
// (spec §4.2 "Disconnect": force mode).
func (s *Server) vhostForceDisconnect(args []string) ([]string, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("VHOST FORCE_DISCONNECT requires exactly one vhost")
	}
	for _, sess := range s.Reg.Server.SessionsForVHost(args[0]) {
		session.ForceClose(sess)
	}
	return []string{"OK"}, nil
}

// vhostBackendDisconnect gracefully tears down every live session on a
// vhost, giving each peer a chance to ack Close/CloseOk (spec §4.2
// "Disconnect": graceful mode) -- named for the common operator scenario of
// draining a vhost ahead of a backend maintenance window.
func (s *Server) vhostBackendDisconnect(args []string) ([]string, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("VHOST BACKEND_DISCONNECT requires exactly one vhost")
	}
	for _, sess := range s.Reg.Server.SessionsForVHost(args[0]) {
		go session.GracefulClose(sess, 200, "OK")
	}
	return []string{"OK"}, nil
}

func (s *Server) vhostPrint() ([]string, error) {
	paused := s.Reg.VHosts.Paused()
	sort.Strings(paused)
	out := make([]string, 0, len(paused))
	for _, v := range paused {
		out = append(out, fmt.Sprintf("%s paused", v))
	}
	return out, nil
}
