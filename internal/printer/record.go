package printer

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// BackendName is the fixed tag carried by every record this backend reports.
const BackendName = "CUPS"

type State int

const (
	Idle State = iota
	Processing
	Stopped
)

var stateNames = map[State]string{
	Idle:       "idle",
	Processing: "processing",
	Stopped:    "stopped",
}

var stateFromName = map[string]State{
	"idle":       Idle,
	"processing": Processing,
	"printing":   Processing,
	"stopped":    Stopped,
	"disabled":   Stopped,
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "unknown"
}

// ParseState maps a provider state word onto the fixed vocabulary.
func ParseState(name string) (State, error) {
	if s, ok := stateFromName[strings.ToLower(strings.TrimSpace(name))]; ok {
		return s, nil
	}
	return Idle, fmt.Errorf("unknown printer state %q", name)
}

func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *State) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	v, err := ParseState(name)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

func (s State) MarshalYAML() (interface{}, error) {
	return s.String(), nil
}

func (s *State) UnmarshalYAML(value *yaml.Node) error {
	var name string
	if err := value.Decode(&name); err != nil {
		return err
	}
	v, err := ParseState(name)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Record is one printer as it crosses the provider and bus boundaries.
type Record struct {
	Name          string `json:"name" yaml:"name"`
	Presentation  string `json:"presentationName" yaml:"presentation_name"`
	Info          string `json:"info" yaml:"info"`
	Location      string `json:"location" yaml:"location"`
	MakeModel     string `json:"makeAndModel" yaml:"make_and_model"`
	AcceptingJobs bool   `json:"acceptingJobs" yaml:"accepting_jobs"`
	State         State  `json:"state" yaml:"state"`
	Remote        bool   `json:"remote" yaml:"remote"`
	Temporary     bool   `json:"temporary" yaml:"temporary"`
	Backend       string `json:"backend" yaml:"-"`
}

// Normalize fills the presentation name and backend tag when the provider
// left them empty.
func (r Record) Normalize() Record {
	if r.Presentation == "" {
		r.Presentation = r.Name
	}
	r.Backend = BackendName
	return r
}

// Filter is the per-dialog visibility predicate. The zero value keeps
// every printer.
type Filter struct {
	HideRemote    bool
	HideTemporary bool
}

// Keep reports whether rec is visible under the filter.
func (f Filter) Keep(rec Record) bool {
	if f.HideRemote && rec.Remote {
		return false
	}
	if f.HideTemporary && rec.Temporary {
		return false
	}
	return true
}
