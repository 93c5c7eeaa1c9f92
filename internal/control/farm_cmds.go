package control

import (
	"fmt"

	"github.com/amqpprox/amqpprox/internal/farm"
)

// cmdFarm implements "FARM ADD|DELETE|PRINT|SET_SELECTOR|ADD_POLICY" (spec
// §4.5).
func (s *Server) cmdFarm(args []string) ([]string, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("FARM requires a sub-verb")
	}
	switch args[0] {
	case "ADD":
		return s.farmAdd(args[1:])
	case "DELETE":
		return s.farmDelete(args[1:])
	case "PRINT":
		return s.farmPrint(args[1:])
	case "SET_SELECTOR":
		return s.farmSetSelector(args[1:])
	case "ADD_POLICY":
		return s.farmAddPolicy(args[1:])
	default:
		return nil, fmt.Errorf("FARM: unknown sub-verb %q", args[0])
	}
}

// farmAdd expects: <name> <selector> [member...] -- member backend names
// are resolved against backend.Store lazily at Materialize time (spec §3
// "referenced by farms by name only"), so a member need not already exist.
func (s *Server) farmAdd(args []string) ([]string, error) {
	if len(args) < 2 {
		return nil, fmt.Errorf("FARM ADD requires name selector [member...]")
	}
	name, selector := args[0], args[1]
	if _, err := s.Reg.Farms.Get(name); err == nil {
		return nil, fmt.Errorf("FARM ADD: farm %q already exists", name)
	}
	f := farm.NewFarm(name, selector)
	for _, member := range args[2:] {
		f.AddBackend(member)
	}
	if err := s.Reg.Farms.Insert(f); err != nil {
		return nil, err
	}
	return []string{"OK"}, nil
}

func (s *Server) farmDelete(args []string) ([]string, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("FARM DELETE requires exactly one name")
	}
	if err := s.Reg.Farms.Remove(args[0]); err != nil {
		return nil, err
	}
	return []string{"OK"}, nil
}

func (s *Server) farmPrint(args []string) ([]string, error) {
	var farms []*farm.Farm
	if len(args) == 1 {
		f, err := s.Reg.Farms.Get(args[0])
		if err != nil {
			return nil, err
		}
		farms = []*farm.Farm{f}
	} else {
		farms = s.Reg.Farms.List()
	}
	var out []string
	for _, f := range farms {
		out = append(out, fmt.Sprintf("%s selector=%s members=%v", f.Name(), f.SelectorName(), f.Members()))
	}
	return out, nil
}

func (s *Server) farmSetSelector(args []string) ([]string, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("FARM SET_SELECTOR requires farm selector")
	}
	f, err := s.Reg.Farms.Get(args[0])
	if err != nil {
		return nil, err
	}
	if _, ok := s.Reg.Selectors.Get(args[1]); !ok {
		return nil, fmt.Errorf("FARM SET_SELECTOR: unknown selector %q", args[1])
	}
	f.SetSelector(args[1])
	return []string{"OK"}, nil
}

func (s *Server) farmAddPolicy(args []string) ([]string, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("FARM ADD_POLICY requires farm policy")
	}
	f, err := s.Reg.Farms.Get(args[0])
	if err != nil {
		return nil, err
	}
	p, ok := s.Reg.Policies.Get(args[1])
	if !ok {
		return nil, fmt.Errorf("FARM ADD_POLICY: unknown policy %q", args[1])
	}
	f.AddPolicy(p)
	return []string{"OK"}, nil
}
