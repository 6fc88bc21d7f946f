package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConnectionState_String(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "retrying", StateRetrying.String())
	assert.Equal(t, "failed", StateFailed.String())
	assert.Equal(t, "unknown", ConnectionState(42).String())
}

func TestSession_Valid(t *testing.T) {
	assert.True(t, Session{Token: "t"}.Valid())
	assert.False(t, Session{ID: "1", Name: "bob"}.Valid())
}

func TestListenerFuncs_NilFieldsAreSkipped(t *testing.T) {
	var l ListenerFuncs
	assert.NotPanics(t, func() {
		l.OnOpen(nil)
		l.OnClosed()
		l.OnFailed(errors.New("x"))
	})
}

func TestListenerFuncs_Dispatch(t *testing.T) {
	var opened, closed bool
	var failed error
	l := ListenerFuncs{
		Open:   func(Conn) { opened = true },
		Closed: func() { closed = true },
		Failed: func(err error) { failed = err },
	}

	l.OnOpen(nil)
	l.OnClosed()
	l.OnFailed(ErrRetriesExhausted)

	assert.True(t, opened)
	assert.True(t, closed)
	assert.ErrorIs(t, failed, ErrRetriesExhausted)
}
