package reporting

import "fmt"

// AggregationError records which dashboard section failed. The wrapped
// error is kept for logs and errors.Is checks; callers should not echo it
// to clients.
type AggregationError struct {
	Section string
	Err     error
}

func (e *AggregationError) Error() string {
	return fmt.Sprintf("aggregate %s: %v", e.Section, e.Err)
}

func (e *AggregationError) Unwrap() error { return e.Err }

// Wrap returns nil for a nil err, otherwise an AggregationError for section.
func Wrap(section string, err error) error {
	if err == nil {
		return nil
	}
	return &AggregationError{Section: section, Err: err}
}
