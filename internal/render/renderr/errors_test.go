package renderr

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKind_String(t *testing.T) {
	tests := []struct {
		kind     Kind
		expected string
	}{
		{KindConnection, "connection"},
		{KindTransport, "transport"},
		{KindProtocol, "protocol"},
		{KindBrowserRender, "browser_render"},
		{KindDecode, "decode"},
		{KindTimeout, "timeout"},
		{KindResource, "resource"},
		{Kind(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.kind.String())
		})
	}
}

func TestError_IsAndUnwrap(t *testing.T) {
	cause := errors.New("dial tcp 127.0.0.1:9222: connection refused")
	err := New(KindConnection, "create tab", cause)

	assert.ErrorIs(t, err, ErrConnection)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrTransport)
	assert.Equal(t, KindConnection, KindOf(err))
	assert.Equal(t, "browser control plane connection failed: create tab: dial tcp 127.0.0.1:9222: connection refused", err.Error())
}

func TestError_WrappedChain(t *testing.T) {
	err := fmt.Errorf("render req-1: %w", New(KindTimeout, "await print", context.DeadlineExceeded))

	assert.ErrorIs(t, err, ErrTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, KindTimeout, KindOf(err))
}

func TestError_Messages(t *testing.T) {
	assert.Equal(t, "browser returned no PDF data", New(KindBrowserRender, "", nil).Error())
	assert.Equal(t, "browser returned no PDF data: print", New(KindBrowserRender, "print", nil).Error())
	assert.Equal(t, "PDF payload decode failed: boom", New(KindDecode, "", errors.New("boom")).Error())
}

func TestKindOf_Unclassified(t *testing.T) {
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.Equal(t, KindUnknown, KindOf(nil))
}
