package control

import (
	"fmt"
	"strings"

	"github.com/amqpprox/amqpprox/internal/farm"
	"github.com/amqpprox/amqpprox/internal/logging"
	"github.com/amqpprox/amqpprox/internal/stats"
)

// cmdStat implements "STAT" (spec §6 Statistics, §9 C.1 "Human stat
// formatter"): an optional trailing "human" token selects
// docker/go-units-formatted output over the default key=value rendering.
func (s *Server) cmdStat(args []string) ([]string, error) {
	if s.Reg.Stats == nil {
		return nil, fmt.Errorf("STAT: statistics collector not configured")
	}
	snap := s.Reg.Stats.Snapshot()
	human := len(args) == 1 && strings.EqualFold(args[0], "human")
	var rendered string
	if human {
		rendered = stats.FormatHuman(snap)
	} else {
		rendered = stats.FormatMachine(snap)
	}
	return strings.Split(strings.TrimRight(rendered, "\n"), "\n"), nil
}

// cmdDatacenter implements "DATACENTER SET|PRINT". SET replaces the tag
// under the datacenter registry's own mutex only; it takes no farm lock and
// re-materializes nothing. The new tag is visible the next time any farm's
// AffinityPolicy runs, since Farm.Materialize always recomputes from current
// members and policies.
func (s *Server) cmdDatacenter(args []string) ([]string, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("DATACENTER requires a sub-verb")
	}
	switch args[0] {
	case "SET":
		if len(args) != 2 {
			return nil, fmt.Errorf("DATACENTER SET requires exactly one tag")
		}
		s.Reg.Datacenter.Set(args[1])
		return []string{"OK"}, nil
	case "PRINT":
		return []string{s.Reg.Datacenter.Get()}, nil
	default:
		return nil, fmt.Errorf("DATACENTER: unknown sub-verb %q", args[0])
	}
}

// cmdLog implements "LOG CONSOLE|FILE <verbosity>" (spec §4.5, A.1).
func (s *Server) cmdLog(args []string) ([]string, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("LOG requires a sub-verb")
	}
	switch args[0] {
	case "CONSOLE":
		if len(args) != 2 {
			return nil, fmt.Errorf("LOG CONSOLE requires a verbosity level")
		}
		lvl, err := logging.ParseLevel(args[1])
		if err != nil {
			return nil, err
		}
		s.Reg.Log.ToConsole(lvl)
		return []string{"OK"}, nil
	case "FILE":
		if len(args) != 3 {
			return nil, fmt.Errorf("LOG FILE requires a path and a verbosity level")
		}
		lvl, err := logging.ParseLevel(args[2])
		if err != nil {
			return nil, err
		}
		if err := s.Reg.Log.ToFile(args[1], lvl); err != nil {
			return nil, err
		}
		return []string{"OK"}, nil
	default:
		return nil, fmt.Errorf("LOG: unknown sub-verb %q", args[0])
	}
}

// cmdLimit implements "LIMIT CONN_RATE|CONN_COUNT|DATA_RATE|
// DATA_RATE_ALARM ..." (spec §4.6).
func (s *Server) cmdLimit(args []string) ([]string, error) {
	if len(args) < 2 {
		return nil, fmt.Errorf("LIMIT requires a sub-verb and a vhost")
	}
	sub, vhost := args[0], args[1]
	rest := args[2:]
	lim := s.Reg.Limiters.Get(vhost)
	switch sub {
	case "CONN_RATE":
		// Only N is applied. W_ms must be present but is not parsed or
		// used: the limiter keeps its existing window (1000 ms for one
		// created by Registry.Get).
		if len(rest) != 2 {
			return nil, fmt.Errorf("LIMIT CONN_RATE requires vhost N W_ms")
		}
		n, err := parseInt64(rest[0])
		if err != nil {
			return nil, err
		}
		lim.ConnRate.SetLimit(int(n))
		return []string{"OK"}, nil
	case "CONN_COUNT":
		if len(rest) != 1 {
			return nil, fmt.Errorf("LIMIT CONN_COUNT requires vhost M")
		}
		n, err := parseInt64(rest[0])
		if err != nil {
			return nil, err
		}
		lim.ConnCount.SetLimit(int(n))
		return []string{"OK"}, nil
	case "DATA_RATE":
		if len(rest) != 1 {
			return nil, fmt.Errorf("LIMIT DATA_RATE requires vhost Q")
		}
		q, err := parseInt64(rest[0])
		if err != nil {
			return nil, err
		}
		lim.DataRate.SetQuota(q)
		return []string{"OK"}, nil
	case "DATA_RATE_ALARM":
		if len(rest) != 1 {
			return nil, fmt.Errorf("LIMIT DATA_RATE_ALARM requires vhost Q'")
		}
		q, err := parseInt64(rest[0])
		if err != nil {
			return nil, err
		}
		vh := vhost
		lim.DataRate.SetAlarm(q, func(used int64) {
			s.Log.WithField("vhost", vh).WithField("used", used).Warn("data-rate alarm threshold crossed")
		})
		return []string{"OK"}, nil
	default:
		return nil, fmt.Errorf("LIMIT: unknown sub-verb %q", sub)
	}
}

// cmdTLS implements "TLS ..." (spec §1: TLS context setup is an external,
// out-of-scope collaborator named only by interface). PRINT is the one
// sub-verb the control plane can answer meaningfully without constructing a
// real *tls.Config.
func (s *Server) cmdTLS(args []string) ([]string, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("TLS requires a sub-verb")
	}
	switch args[0] {
	case "PRINT":
		if s.Reg.TLS == nil {
			return []string{"none"}, nil
		}
		return []string{s.Reg.TLS.Describe()}, nil
	default:
		return nil, fmt.Errorf("TLS: unimplemented sub-verb %q (TLS context setup is an external collaborator, spec §1)", args[0])
	}
}

// cmdAuth implements "AUTH SERVICE|PRINT" (spec §6 "Auth service
// (optional)").
func (s *Server) cmdAuth(args []string) ([]string, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("AUTH requires a sub-verb")
	}
	switch args[0] {
	case "SERVICE":
		if len(args) != 2 {
			return nil, fmt.Errorf("AUTH SERVICE requires exactly one URL (or \"none\" to disable)")
		}
		if args[1] == "none" {
			s.Reg.Auth.SetAllowAll()
		} else {
			s.Reg.Auth.SetHTTP(args[1])
		}
		return []string{"OK"}, nil
	case "PRINT":
		return []string{s.Reg.Auth.Describe()}, nil
	default:
		return nil, fmt.Errorf("AUTH: unknown sub-verb %q", args[0])
	}
}

// registerDefaultPolicies installs the one specified partition policy
// (affinity) into a fresh PolicyStore, resolving the local datacenter
// through reg at Apply time so DATACENTER SET is picked up without
// re-registering (spec §3 "PartitionPolicy").
func registerDefaultPolicies(store *farm.PolicyStore, localDC func() string) {
	store.Register(farm.NewAffinityPolicy(localDC))
}
