package pipeline

import (
	"fmt"
	"time"
)

// Kind classifies why a question could not be answered.
type Kind int

const (
	KindInvalidQuestion Kind = iota + 1
	KindNotRelevant
	KindQuotaExceeded
	// KindNoSubscription means the user has no quota record, which is an
	// account provisioning fault rather than a user error.
	KindNoSubscription
	KindQuotaUnavailable
	KindProvider
	KindEmptyAnswer
)

func (k Kind) String() string {
	switch k {
	case KindInvalidQuestion:
		return "invalid_question"
	case KindNotRelevant:
		return "not_relevant"
	case KindQuotaExceeded:
		return "quota_exceeded"
	case KindNoSubscription:
		return "no_subscription_data"
	case KindQuotaUnavailable:
		return "quota_unavailable"
	case KindProvider:
		return "provider_error"
	case KindEmptyAnswer:
		return "empty_answer"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error is returned by Orchestrator.Answer for every failure.
type Error struct {
	Kind Kind
	Err  error
	// ResetAt is set for KindQuotaExceeded.
	ResetAt time.Time
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

func fail(k Kind, err error) *Error {
	return &Error{Kind: k, Err: err}
}
