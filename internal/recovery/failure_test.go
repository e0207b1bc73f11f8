package recovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want FailureKind
	}{
		{"nil", nil, KindUnclassified},
		{"explicit failure", NewFailure(KindMemory, "set", errors.New("oom")), KindMemory},
		{"wrapped failure", fmt.Errorf("layer: %w", NewFailure(KindNetwork, "get", errors.New("down"))), KindNetwork},
		{"deadline exceeded", context.DeadlineExceeded, KindTimeout},
		{"wrapped deadline", fmt.Errorf("get: %w", context.DeadlineExceeded), KindTimeout},
		{"net timeout", timeoutError{}, KindTimeout},
		{"dns error", &net.DNSError{Err: "no such host", Name: "db"}, KindNetwork},
		{"connection refused", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), KindConnection},
		{"connection reset", fmt.Errorf("read: %w", syscall.ECONNRESET), KindConnection},
		{"broken pipe", fmt.Errorf("write: %w", syscall.EPIPE), KindConnection},
		{"op error", &net.OpError{Op: "dial", Err: errors.New("down")}, KindConnection},
		{"pg out of memory", &pgconn.PgError{Code: "53200"}, KindMemory},
		{"pg too many connections", &pgconn.PgError{Code: "53300"}, KindConnection},
		{"pg invalid password", &pgconn.PgError{Code: "28P01"}, KindPermission},
		{"pg insufficient privilege", &pgconn.PgError{Code: "42501"}, KindPermission},
		{"pg internal error", &pgconn.PgError{Code: "XX000"}, KindCorruption},
		{"pg data corrupted", &pgconn.PgError{Code: "XX001"}, KindCorruption},
		{"pg statement timeout", &pgconn.PgError{Code: "57014"}, KindTimeout},
		{"pg unique violation", &pgconn.PgError{Code: "23505"}, KindStorage},
		{"plain error", errors.New("something odd"), KindUnclassified},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestFailureErrorAndUnwrap(t *testing.T) {
	inner := errors.New("disk full")
	f := NewFailure(KindStorage, "set", inner)

	assert.Contains(t, f.Error(), "set")
	assert.Contains(t, f.Error(), "storage")
	assert.ErrorIs(t, f, inner)

	bare := NewFailure(KindTimeout, "", inner)
	assert.Contains(t, bare.Error(), "timeout failure")
}
