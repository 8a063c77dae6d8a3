package agent

import (
	"errors"
	"fmt"
)

// Kind classifies a processing failure.
type Kind int

const (
	// KindDocumentFailed is a permanent failure caused by the paper's own
	// data. The triggering record is checkpointed anyway.
	KindDocumentFailed Kind = iota + 1

	// KindIndexingFailed is a transient infrastructure failure. The record is
	// not checkpointed and is redelivered later.
	KindIndexingFailed
)

// String returns the metric and log label of the kind.
func (k Kind) String() string {
	switch k {
	case KindDocumentFailed:
		return "document_failed"
	case KindIndexingFailed:
		return "indexing_failed"
	default:
		return "unknown"
	}
}

// Operations that can fail while processing a paper.
const (
	OpDecode         = "decode"
	OpGetMetadata    = "get_metadata"
	OpGetAllVersions = "get_all_versions"
	OpTransform      = "transform"
	OpAddToIndex     = "add_to_index"
	OpBulkAddToIndex = "bulk_add_to_index"
	OpReconcile      = "reconcile"
)

// Sentinels matched by errors.Is against an *Error of the same kind.
var (
	// ErrDocumentFailed matches every permanent failure.
	ErrDocumentFailed = errors.New("document failed")

	// ErrIndexingFailed matches every transient failure.
	ErrIndexingFailed = errors.New("indexing failed")

	// ErrTooManyFailures is returned by Handle once the document failure
	// budget is exhausted.
	ErrTooManyFailures = errors.New("too many document failures")
)

// Error is a classified processing failure.
type Error struct {
	Kind    Kind
	PaperID string
	Op      string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Kind.sentinel().Error()
	if e.Op != "" {
		msg += ": " + e.Op
	}
	if e.PaperID != "" {
		msg += " " + e.PaperID
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel of the error's kind.
func (e *Error) Is(target error) bool {
	return target == e.Kind.sentinel()
}

func (k Kind) sentinel() error {
	if k == KindDocumentFailed {
		return ErrDocumentFailed
	}
	return ErrIndexingFailed
}

// IsTransient reports whether err should be retried by redelivering the
// record.
func IsTransient(err error) bool {
	return errors.Is(err, ErrIndexingFailed)
}

// KindOf returns the kind of a classified error, or zero if err is not one.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

func documentFailed(op, paperID string, err error) *Error {
	return &Error{Kind: KindDocumentFailed, PaperID: paperID, Op: op, Err: err}
}

func indexingFailed(op, paperID string, err error) *Error {
	return &Error{Kind: KindIndexingFailed, PaperID: paperID, Op: op, Err: err}
}

func documentFailedf(op, paperID, format string, args ...any) *Error {
	return documentFailed(op, paperID, fmt.Errorf(format, args...))
}
