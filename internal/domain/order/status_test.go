package order

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition_AllowedPath(t *testing.T) {
	path := []Status{StatusPending, StatusProcessing, StatusCompleted, StatusPickedUp}
	for i := 0; i < len(path)-1; i++ {
		assert.True(t, CanTransition(path[i], path[i+1]), "%s -> %s", path[i], path[i+1])
	}
}

func TestCanTransition_Cancellation(t *testing.T) {
	assert.True(t, CanTransition(StatusPending, StatusCancelled))
	assert.True(t, CanTransition(StatusProcessing, StatusCancelled))
	assert.False(t, CanTransition(StatusCompleted, StatusCancelled))
	assert.False(t, CanTransition(StatusPickedUp, StatusCancelled))
}

func TestCanTransition_Rejected(t *testing.T) {
	assert.False(t, CanTransition(StatusPending, StatusCompleted), "no skipping forward")
	assert.False(t, CanTransition(StatusPending, StatusPickedUp))
	assert.False(t, CanTransition(StatusProcessing, StatusPending), "no moving backward")
	assert.False(t, CanTransition(StatusCancelled, StatusPending), "terminal")
	assert.False(t, CanTransition(StatusPickedUp, StatusCompleted), "terminal")
	assert.False(t, CanTransition(StatusPending, StatusPending), "self loop")
}

func TestStatus_Terminal(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusProcessing.Terminal())
	assert.False(t, StatusCompleted.Terminal())
	assert.True(t, StatusPickedUp.Terminal())
	assert.True(t, StatusCancelled.Terminal())
}

func TestStatus_Valid(t *testing.T) {
	for _, s := range []Status{StatusPending, StatusProcessing, StatusCompleted, StatusPickedUp, StatusCancelled} {
		assert.True(t, s.Valid())
	}
	assert.False(t, Status("shipped").Valid())
	assert.False(t, Status("").Valid())
}
