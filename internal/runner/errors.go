package runner

// Kind classifies job failures for the API boundary.
type Kind int

const (
	// KindInternal unexpected failures, including broken deployment config
	KindInternal Kind = iota
	// KindInput caller-supplied input is invalid; the server was never contacted
	KindInput
	// KindUnavailable the render server did not answer within the readiness budget
	KindUnavailable
	// KindRejected the server refused the submitted workflow; not retried
	KindRejected
	// KindEmpty the job completed but produced no image
	KindEmpty
	// KindTimeout the completion wait expired
	KindTimeout
)

// Error carries a failure class alongside the underlying cause.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func fail(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// KindOf extracts the failure class, defaulting to internal.
func KindOf(err error) Kind {
	if jobErr, ok := err.(*Error); ok {
		return jobErr.Kind
	}
	return KindInternal
}
