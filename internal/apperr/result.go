package apperr

import "errors"

// Issue is one failing rule in a validation result.
type Issue struct {
	Code    Code   `json:"code"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// Result reports every failing rule for validate-before-post flows.
type Result struct {
	Valid  bool    `json:"valid"`
	Errors []Issue `json:"errors"`

	causes []error
}

// NewResult returns a valid, empty result.
func NewResult() *Result {
	return &Result{Valid: true, Errors: []Issue{}}
}

// Add records err as a failing rule. Nil errors are ignored.
func (r *Result) Add(errs ...error) {
	for _, err := range errs {
		if err == nil {
			continue
		}
		r.Valid = false
		r.causes = append(r.causes, err)

		var e *Error
		if errors.As(err, &e) {
			r.Errors = append(r.Errors, Issue{Code: e.Code, Field: e.Field, Message: e.Message})
			continue
		}
		r.Errors = append(r.Errors, Issue{Code: CodePersistence, Message: err.Error()})
	}
}

// First returns the first failing rule, or nil when the result is valid.
func (r *Result) First() error {
	if len(r.causes) == 0 {
		return nil
	}
	return r.causes[0]
}

// Causes returns the recorded errors in the order they were added.
func (r *Result) Causes() []error {
	return r.causes
}
