package groupcache

import (
	"log"

	"github.com/pkg/errors"
)

// Logger is the package-level logger used at the same sparing, anomaly-only
// call sites the teacher's node.go reaches for log.Printf: discarded
// duplicate entries, rejected stale messages, fatal invariant trips.
// Callers may replace it (e.g. log.New(os.Stderr, "groupcache: ", 0))
// before wiring an Engine.
var Logger = log.Default()

// Kind distinguishes the error categories of §7. Kind values are
// comparable with ==, the way the source's error enum is.
type Kind int

const (
	KindNotInGroup Kind = iota + 1
	KindNotFound
	KindCacheInconsistent
	KindSeqNumMismatch
	KindTransportError
	KindAlreadyRegistered
	KindPoolExhausted
	KindRevoked
)

func (k Kind) String() string {
	switch k {
	case KindNotInGroup:
		return "NotInGroup"
	case KindNotFound:
		return "NotFound"
	case KindCacheInconsistent:
		return "CacheInconsistent"
	case KindSeqNumMismatch:
		return "SeqNumMismatch"
	case KindTransportError:
		return "TransportError"
	case KindAlreadyRegistered:
		return "AlreadyRegistered"
	case KindPoolExhausted:
		return "PoolExhausted"
	case KindRevoked:
		return "Revoked"
	default:
		return "Unknown"
	}
}

// Error is a typed failure carrying one of the §7 Kinds. Recoverable kinds
// (NotInGroup, NotFound) are returned bare by query functions; the two
// fatal kinds (CacheInconsistent, SeqNumMismatch) are wrapped with
// github.com/pkg/errors so a caller that logs err.Error() sees the
// triggering detail, while errors.Is/Kind comparisons still work against
// the sentinel Kind.
type Error struct {
	Kind Kind
	msg  string
}

func (e *Error) Error() string {
	if e.msg == "" {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.msg
}

// newError constructs a recoverable, unwrapped error of the given kind.
func newError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, msg: msg}
}

// fatal wraps a fatal invariant violation (SeqNumMismatch, CacheInconsistent)
// with github.com/pkg/errors so the stack at the point of detection is
// preserved for the abort/log path §7 calls for.
func fatal(kind Kind, msg string) error {
	Logger.Printf("E: fatal group cache invariant violated (%s): %s", kind, msg)
	return errors.Wrap(&Error{Kind: kind, msg: msg}, "fatal group cache invariant violated")
}

// KindOf extracts the Kind from err if it is (or wraps) an *Error.
func KindOf(err error) (Kind, bool) {
	type causer interface{ Cause() error }
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Kind, true
		}
		c, ok := err.(causer)
		if !ok {
			return 0, false
		}
		err = c.Cause()
	}
	return 0, false
}

var (
	// ErrNotInGroup is returned by queries when this process (or the
	// referenced rank) is not a member of the requested group.
	ErrNotInGroup = newError(KindNotInGroup, "not in group")
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = newError(KindNotFound, "not found")
	// ErrRevoked is the sentinel of the Revoked kind. It is not delivered to
	// pending lookup events: a revoke reset completes them through their
	// completion callback with no status, the same way an arrived entry does
	// (§5 "Cancellation").
	ErrRevoked = newError(KindRevoked, "group revoked")
	// ErrPoolExhausted signals a bounded pool could not grow further.
	ErrPoolExhausted = newError(KindPoolExhausted, "pool exhausted")
)
