package mockrules

import (
	"github.com/GriffinCanCode/envsandbox/internal/sandbox/mock"
)

// Target receives mocks as JavaScript source.
type Target interface {
	SetMockSource(kind mock.Kind, path, src string) error
}

// Failure is a rule that could not be registered.
type Failure struct {
	ID    string `json:"id"`
	Path  string `json:"path"`
	Error string `json:"error"`
}

// Report is the outcome of Apply.
type Report struct {
	Applied int       `json:"applied"`
	Skipped int       `json:"skipped"`
	Failed  []Failure `json:"failed"`
}

// Apply registers every enabled rule on t in file order. A rule that fails
// is recorded and the rest are still applied. An empty value means
// undefined.
func Apply(t Target, rules []Rule) Report {
	rep := Report{Failed: []Failure{}}
	for _, r := range rules {
		if !r.Enabled {
			rep.Skipped++
			continue
		}
		src := r.Value
		if src == "" {
			src = "undefined"
		}
		if err := t.SetMockSource(r.Type, r.Path, src); err != nil {
			rep.Failed = append(rep.Failed, Failure{ID: r.ID, Path: r.Path, Error: err.Error()})
			continue
		}
		rep.Applied++
	}
	return rep
}

// Apply loads the rules file and applies its enabled rules to t.
func (s *Store) Apply(t Target) (Report, error) {
	rules, err := s.List()
	if err != nil {
		return Report{}, err
	}
	return Apply(t, rules), nil
}
