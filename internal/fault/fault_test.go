package fault_test

import (
	"errors"
	"fmt"
	"testing"

	"vaultrouter/internal/fault"

	"github.com/stretchr/testify/assert"
)

func TestError_MatchesKind(t *testing.T) {
	err := fault.New(fault.ErrSolvency, "InsufficientVirtualBalance")
	wrapped := fmt.Errorf("pull request: %w", err)

	assert.True(t, errors.Is(wrapped, fault.ErrSolvency))
	assert.True(t, errors.Is(wrapped, err))
	assert.False(t, errors.Is(wrapped, fault.ErrValidation))
	assert.Equal(t, "solvency", fault.KindOf(wrapped))
}

func TestRetryable(t *testing.T) {
	assert.True(t, fault.Retryable(fault.NewRetryable(fault.ErrStateViolation, "CooldownNotPassed")))
	assert.True(t, fault.Retryable(fault.New(fault.ErrPaused, "Paused")))
	assert.False(t, fault.Retryable(fault.New(fault.ErrValidation, "ZeroAmount")))
	assert.False(t, fault.Retryable(errors.New("plain")))
}
