package harness

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/cachekit/internal/record"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  %s\n", event)
		}
	}
	return buf.String()
}

// AssertionContext gives assertions access to the final state.
type AssertionContext struct {
	Ctx     context.Context
	harness *Harness
}

// EvaluateAssertions runs every assertion and returns the failure messages.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string
	for _, a := range assertions {
		if err := evaluate(result, a, actx); err != nil {
			errs = append(errs, err.Error())
		}
	}
	return errs
}

func evaluate(result *Result, a Assertion, actx *AssertionContext) error {
	h := actx.harness
	fail := func(expected, actual string) error {
		return &AssertionError{Type: a.Type, Expected: expected, Actual: actual, Trace: result.Trace}
	}

	switch a.Type {
	case AssertListOrder:
		got := record.IDs(h.list.Snapshot())
		if !slices.Equal(got, a.IDs) && !(len(got) == 0 && len(a.IDs) == 0) {
			return fail(fmt.Sprintf("order %v", a.IDs), fmt.Sprintf("order %v", got))
		}

	case AssertListCount:
		if got := h.list.Count(); got != a.Count {
			return fail(fmt.Sprintf("count %d", a.Count), fmt.Sprintf("count %d", got))
		}

	case AssertKVPresent, AssertKVAbsent:
		resident := h.kv.Keys()
		want := a.Type == AssertKVPresent
		for _, id := range a.IDs {
			if slices.Contains(resident, id) != want {
				return fail(
					fmt.Sprintf("id %d %s", id, presence(want)),
					fmt.Sprintf("id %d %s, resident %v", id, presence(!want), resident),
				)
			}
		}

	case AssertStoreCount:
		var (
			got int
			err error
		)
		if a.Store == "list" {
			got, err = h.listTable.Count(actx.Ctx)
		} else {
			got, err = h.kvTable.Count(actx.Ctx)
		}
		if err != nil {
			return fmt.Errorf("store_count: %w", err)
		}
		if got != a.Count {
			return fail(fmt.Sprintf("%s store rows %d", a.Store, a.Count), fmt.Sprintf("%s store rows %d", a.Store, got))
		}

	default:
		return fmt.Errorf("unknown assertion type: %s", a.Type)
	}
	return nil
}

func presence(resident bool) string {
	if resident {
		return "resident"
	}
	return "not resident"
}
