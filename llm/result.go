package llm

import "errors"

// ErrNoResult is reported by the zero Result.
var ErrNoResult = errors.New("no result")

// Result is the outcome of one prompt: either generated text or a failure
// reason. An empty successful text is not a failure.
type Result struct {
	text string
	err  error
	ok   bool
}

// Success builds the success variant carrying text, which may be empty.
func Success(text string) Result {
	return Result{text: text, ok: true}
}

// Failure builds the failure variant. A nil err is reported as ErrNoResult.
func Failure(err error) Result {
	if err == nil {
		err = ErrNoResult
	}
	return Result{err: err}
}

// Text returns the generated text and true, or "" and false on failure.
func (r Result) Text() (string, bool) {
	if !r.ok {
		return "", false
	}
	return r.text, true
}

// Err returns the failure reason, or nil on success.
func (r Result) Err() error {
	if r.ok {
		return nil
	}
	if r.err == nil {
		return ErrNoResult
	}
	return r.err
}

// Ok reports whether r is the success variant.
func (r Result) Ok() bool {
	return r.ok
}
