package payment

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassifyNetError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
	}{
		{"deadline", context.DeadlineExceeded, true},
		{"wrapped deadline", fmt.Errorf("query: %w", context.DeadlineExceeded), true},
		{"connection reset", &net.OpError{Op: "read", Err: syscall.ECONNRESET}, true},
		{"timed out", syscall.ETIMEDOUT, true},
		{"dns", &net.DNSError{Err: "no such host", Name: "db.internal"}, true},
		{"net timeout", timeoutErr{}, true},
		{"cancelled", context.Canceled, false},
		{"generic", errors.New("constraint violation"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyNetError("op", tt.err)
			assert.Equal(t, tt.transient, IsTransient(got))
			assert.ErrorIs(t, got, tt.err)
		})
	}
}

func TestClassifyNetError_KeepsExistingKind(t *testing.T) {
	fatal := Fatal("inner", context.DeadlineExceeded)
	assert.Same(t, fatal, ClassifyNetError("outer", fatal))
	assert.Nil(t, ClassifyNetError("op", nil))
}

func TestStoreError_Message(t *testing.T) {
	err := Transient("set_subscription", errors.New("boom"))
	assert.Equal(t, "transient store error in set_subscription: boom", err.Error())
	assert.True(t, IsTransient(fmt.Errorf("wrapped: %w", err)))
	assert.False(t, IsTransient(errors.New("plain")))
}
