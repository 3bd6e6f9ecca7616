package loader

import (
	"errors"
	"fmt"
)

// ErrTimeout marks a resource whose global timeout elapsed before it
// settled. If the underlying operation completes later anyway, the late
// result is logged and discarded; it never settles the call a second time.
var ErrTimeout = errors.New("resource load timed out")

// Failure is the structured marker standing in for a failed resource inside
// an otherwise-positional result array.
type Failure struct {
	// Call is the original variadic call the resource belonged to.
	Call []any
	// Request is the offending resource descriptor.
	Request *Request
	// Cause is the raw failure data.
	Cause error
}

func (f *Failure) Error() string {
	if f.Request != nil {
		return fmt.Sprintf("resource %q failed: %v", f.Request.URL, f.Cause)
	}
	return fmt.Sprintf("resource failed: %v", f.Cause)
}

func (f *Failure) Unwrap() error { return f.Cause }

// Error is the rejection of a whole Load call. Results holds the complete
// positional result array: successes intact, failures replaced by *Failure
// markers.
type Error struct {
	Call    []any
	Results []any
}

func (e *Error) Error() string {
	return fmt.Sprintf("%d of %d resources failed", countFailures(e.Results), len(e.Results))
}

func countFailures(results []any) int {
	n := 0
	for _, r := range results {
		switch v := r.(type) {
		case *Failure:
			n++
		case []any:
			if countFailures(v) > 0 {
				n++
			}
		}
	}
	return n
}

// Failures flattens every failure marker in the result array, depth first.
func (e *Error) Failures() []*Failure {
	return collectFailures(e.Results, nil)
}

func collectFailures(results []any, acc []*Failure) []*Failure {
	for _, r := range results {
		switch v := r.(type) {
		case *Failure:
			acc = append(acc, v)
		case []any:
			acc = collectFailures(v, acc)
		}
	}
	return acc
}
