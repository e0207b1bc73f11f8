// Package recovery classifies operational failures and drives the recovery
// strategies that keep cache operations soft-failing instead of surfacing raw
// errors to callers.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgconn"
)

// FailureKind names one class of operational failure.
type FailureKind string

const (
	KindTimeout      FailureKind = "timeout"
	KindConnection   FailureKind = "connection"
	KindStorage      FailureKind = "storage"
	KindMemory       FailureKind = "memory"
	KindCorruption   FailureKind = "corruption"
	KindNetwork      FailureKind = "network"
	KindPermission   FailureKind = "permission"
	KindUnclassified FailureKind = "unclassified"
)

// Failure is an error carrying an explicit classification. Stores and layers
// wrap errors they can already attribute; everything else goes through
// Classify.
type Failure struct {
	Kind FailureKind
	Op   string
	Err  error
}

func (f *Failure) Error() string {
	if f.Op != "" {
		return fmt.Sprintf("%s: %s failure: %v", f.Op, f.Kind, f.Err)
	}
	return fmt.Sprintf("%s failure: %v", f.Kind, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// NewFailure wraps err with an explicit kind.
func NewFailure(kind FailureKind, op string, err error) *Failure {
	return &Failure{Kind: kind, Op: op, Err: err}
}

// Classify maps an error onto the failure taxonomy. Errors that fit no known
// kind come back as KindUnclassified and receive no automatic recovery.
func Classify(err error) FailureKind {
	if err == nil {
		return KindUnclassified
	}

	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return KindNetwork
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return KindConnection
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return KindConnection
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "53200": // out_of_memory
			return KindMemory
		case pgErr.Code == "53300": // too_many_connections
			return KindConnection
		case strings.HasPrefix(pgErr.Code, "28"): // invalid authorization
			return KindPermission
		case pgErr.Code == "42501": // insufficient_privilege
			return KindPermission
		case strings.HasPrefix(pgErr.Code, "XX"): // internal error / data corrupted
			return KindCorruption
		case pgErr.Code == "57014": // query_canceled (statement timeout)
			return KindTimeout
		default:
			return KindStorage
		}
	}
	if pgconn.Timeout(err) {
		return KindTimeout
	}

	return KindUnclassified
}
