package harness

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Scenario is one scripted run of a worker.
type Scenario struct {
	Name        string      `yaml:"name"`
	Description string      `yaml:"description"`
	// Worker is the worker id. Defaults to DefaultWorker.
	Worker     string      `yaml:"worker,omitempty"`
	Steps      []Step      `yaml:"steps"`
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// DefaultWorker is the worker id used when a scenario names none.
const DefaultWorker = "scenario-worker"

// Step is one action. Exactly one of the action fields is set.
type Step struct {
	Invoke string `yaml:"invoke,omitempty"`
	Args   string `yaml:"args,omitempty"`
	// Key is the idempotency key of an invoke, and names it for await.
	Key string `yaml:"key,omitempty"`

	Await     string        `yaml:"await,omitempty"`
	Advance   time.Duration `yaml:"advance,omitempty"`
	Crash     bool          `yaml:"crash,omitempty"`
	Interrupt string        `yaml:"interrupt,omitempty"`
	Resume    bool          `yaml:"resume,omitempty"`
	Upgrade   *Upgrade      `yaml:"upgrade,omitempty"`

	Expect *Expect `yaml:"expect,omitempty"`
}

// Upgrade replaces the code of one function and restarts the worker.
type Upgrade struct {
	Function string `yaml:"function"`
	With     string `yaml:"with"`
}

// Expect is checked after a step settles.
type Expect struct {
	// Output is compared with the invocation's output.
	Output *string `yaml:"output,omitempty"`
	// Error must be contained in the invocation's error.
	Error string `yaml:"error,omitempty"`
	// Suspended expects the invocation to be pending on a suspended worker.
	Suspended bool `yaml:"suspended,omitempty"`
	// Fatal expects the worker to have failed.
	Fatal bool `yaml:"fatal,omitempty"`
}

// Assertion checks the run after the last step.
type Assertion struct {
	Type string `yaml:"type"`

	// Kinds is the exact sequence of entry kinds (oplog_kinds).
	Kinds []string `yaml:"kinds,omitempty"`

	// Kind, Name and Count: entries of Kind, optionally with function Name,
	// appear Count times (kind_count).
	Kind  string `yaml:"kind,omitempty"`
	Name  string `yaml:"name,omitempty"`
	Count int    `yaml:"count,omitempty"`

	// State and Interrupt match the status folded from the oplog (status).
	State     string `yaml:"state,omitempty"`
	Interrupt string `yaml:"interrupt,omitempty"`

	// Draws and KVWrites count real side effects (side_effects).
	Draws    *uint64 `yaml:"draws,omitempty"`
	KVWrites *int    `yaml:"kv_writes,omitempty"`
}

// Assertion types.
const (
	AssertOplogKinds  = "oplog_kinds"
	AssertKindCount   = "kind_count"
	AssertStatus      = "status"
	AssertSideEffects = "side_effects"
)

// LoadScenario reads and validates a scenario file. Unknown fields are
// rejected.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if s.Worker == "" {
		s.Worker = DefaultWorker
	}
	if err := validateScenario(&s); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &s, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return errors.New("name is required")
	}
	if s.Description == "" {
		return errors.New("description is required")
	}
	if len(s.Steps) == 0 {
		return errors.New("steps list is required and must be non-empty")
	}
	for i, step := range s.Steps {
		if n := step.actions(); n != 1 {
			return fmt.Errorf("step %d: want exactly one action, got %d", i+1, n)
		}
		if step.Upgrade != nil && (step.Upgrade.Function == "" || step.Upgrade.With == "") {
			return fmt.Errorf("step %d: upgrade needs function and with", i+1)
		}
	}
	for i, a := range s.Assertions {
		switch a.Type {
		case AssertOplogKinds, AssertKindCount, AssertStatus, AssertSideEffects:
		default:
			return fmt.Errorf("assertion %d: unknown type %q", i+1, a.Type)
		}
	}
	return nil
}

func (s Step) actions() int {
	n := 0
	for _, set := range []bool{
		s.Invoke != "",
		s.Await != "",
		s.Advance != 0,
		s.Crash,
		s.Interrupt != "",
		s.Resume,
		s.Upgrade != nil,
	} {
		if set {
			n++
		}
	}
	return n
}
