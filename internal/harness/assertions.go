package harness

import (
	"fmt"
	"slices"

	"github.com/roach88/durable/internal/oplog"
)

// checkAssertions returns one message per failed assertion.
func checkAssertions(assertions []Assertion, res *Result) []string {
	var errs []string
	for i, a := range assertions {
		if err := checkAssertion(a, res); err != nil {
			errs = append(errs, fmt.Sprintf("assertion %d (%s): %v", i+1, a.Type, err))
		}
	}
	return errs
}

func checkAssertion(a Assertion, res *Result) error {
	switch a.Type {
	case AssertOplogKinds:
		return assertOplogKinds(a, res)
	case AssertKindCount:
		return assertKindCount(a, res)
	case AssertStatus:
		return assertStatus(a, res)
	case AssertSideEffects:
		return assertSideEffects(a, res)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

// assertOplogKinds compares the kinds of the live entries, in order.
// Entries inside deleted regions are left out.
func assertOplogKinds(a Assertion, res *Result) error {
	got := []string{}
	for _, te := range res.Trace {
		if !te.Deleted {
			got = append(got, string(te.Kind))
		}
	}
	if !slices.Equal(got, a.Kinds) {
		return fmt.Errorf("expected kinds %v, got %v", a.Kinds, got)
	}
	return nil
}

func assertKindCount(a Assertion, res *Result) error {
	n := 0
	for _, te := range res.Trace {
		if te.Deleted || te.Kind != oplog.Kind(a.Kind) {
			continue
		}
		if a.Name != "" && te.Name != a.Name {
			continue
		}
		n++
	}
	if n != a.Count {
		what := a.Kind
		if a.Name != "" {
			what += " " + a.Name
		}
		return fmt.Errorf("expected %d %s entries, got %d", a.Count, what, n)
	}
	return nil
}

func assertStatus(a Assertion, res *Result) error {
	if a.State != "" && res.Status.State.String() != a.State {
		return fmt.Errorf("expected state %s, got %s", a.State, res.Status.State)
	}
	if a.Interrupt != "" && res.Status.Interrupt.String() != a.Interrupt {
		return fmt.Errorf("expected interrupt %s, got %s", a.Interrupt, res.Status.Interrupt)
	}
	return nil
}

func assertSideEffects(a Assertion, res *Result) error {
	if a.Draws != nil && res.Draws != *a.Draws {
		return fmt.Errorf("expected %d random draws, got %d", *a.Draws, res.Draws)
	}
	if a.KVWrites != nil && res.KVWrites != *a.KVWrites {
		return fmt.Errorf("expected %d kv writes, got %d", *a.KVWrites, res.KVWrites)
	}
	return nil
}
