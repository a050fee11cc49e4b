package storage

import (
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "deadline exceeded" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"connection refused", syscall.ECONNREFUSED, true},
		{"connection reset", syscall.ECONNRESET, true},
		{"broken pipe", syscall.EPIPE, true},
		{"wrapped refused", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), true},
		{"dns failure", &net.DNSError{Err: "no such host", Name: "db.example.com"}, true},
		{"eof", io.EOF, true},
		{"unexpected eof", io.ErrUnexpectedEOF, true},
		{"net timeout", timeoutErr{}, true},
		{"op error", &net.OpError{Op: "read", Err: errors.New("closed")}, true},
		{"marked transient", markTransient(errors.New("status 503")), true},
		{"auth failure", errors.New("NOAUTH Authentication required"), false},
		{"decode failure", decodeError("k", errors.New("invalid character")), false},
		{"plain error", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestMarkTransientPreservesCause(t *testing.T) {
	cause := errors.New("status 500")
	err := markTransient(cause)
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, cause.Error(), err.Error())
	assert.Nil(t, markTransient(nil))
}
