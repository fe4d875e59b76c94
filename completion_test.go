package avesync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompletion_ResolvesOnce(t *testing.T) {
	c := newCompletion()
	assert.NoError(t, c.Err())
	select {
	case <-c.Done():
		t.Fatal("resolved too early")
	default:
	}

	boom := errors.New("boom")
	assert.True(t, c.resolve(boom))
	assert.False(t, c.resolve(nil))
	assert.ErrorIs(t, c.Err(), boom)
	assert.ErrorIs(t, c.Wait(context.Background()), boom)
}

func TestCompletion_WaitContext(t *testing.T) {
	c := newCompletion()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, c.Wait(ctx), context.DeadlineExceeded)
}
