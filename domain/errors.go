package domain

import (
	"errors"
	"fmt"
)

var ErrFundNotFound = errors.New("crowdloan fund not found")
var ErrValueNotFound = errors.New("contribution value not found")

// FailureKind classifies why an export run failed.
type FailureKind int

const (
	KindUnknown FailureKind = iota
	KindConnection
	KindQuery
	KindMissingRecord
	KindDecode
	KindWrite
	KindPublish
)

func (k FailureKind) String() string {
	switch k {
	case KindConnection:
		return "connection"
	case KindQuery:
		return "query"
	case KindMissingRecord:
		return "missing_record"
	case KindDecode:
		return "decode"
	case KindWrite:
		return "write"
	case KindPublish:
		return "publish"
	default:
		return "unknown"
	}
}

// Failure is the terminal outcome of a failed run. Err keeps the wrapped cause.
type Failure struct {
	Kind FailureKind
	Err  error
}

func NewFailure(kind FailureKind, err error) *Failure {
	return &Failure{Kind: kind, Err: err}
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s failure: %v", f.Kind, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// KindOf returns the kind of the first Failure in the error chain.
func KindOf(err error) FailureKind {
	var failure *Failure
	if errors.As(err, &failure) {
		return failure.Kind
	}
	return KindUnknown
}
