package apperrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/palemoky/danmaku-sync/internal/protocol"
)

func TestError_IsMatchesByKind(t *testing.T) {
	t.Parallel()

	err := Validation("text too long")
	assert.ErrorIs(t, err, ErrValidation)
	assert.NotErrorIs(t, err, ErrForbidden)

	wrapped := fmt.Errorf("submit: %w", err)
	assert.ErrorIs(t, wrapped, ErrValidation)
}

func TestError_UnwrapExposesCause(t *testing.T) {
	t.Parallel()

	cause := errors.New("dial tcp: connection refused")
	err := StoreUnavailable(cause)

	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestCodeOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", Validation("bad"), protocol.ErrCodeValidation},
		{"forbidden", Forbidden("muted"), protocol.ErrCodeForbidden},
		{"store", StoreUnavailable(errors.New("x")), protocol.ErrCodeStoreUnavailable},
		{"bridge", BridgeUnavailable(errors.New("x")), protocol.ErrCodeBridgeUnavailable},
		{"delivery", DeliveryTimeout("c1"), protocol.ErrCodeDeliveryTimeout},
		{"plain", errors.New("boom"), protocol.ErrCodeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CodeOf(tt.err))
		})
	}
}

func TestMessageOf_HidesCause(t *testing.T) {
	t.Parallel()

	err := StoreUnavailable(errors.New("password authentication failed"))
	assert.Equal(t, "存储不可用", MessageOf(err))
	assert.Equal(t, protocol.ErrorMessages[protocol.ErrCodeUnknown], MessageOf(errors.New("boom")))
}
