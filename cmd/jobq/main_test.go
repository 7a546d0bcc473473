package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingStopper struct {
	name  string
	order *[]string
	err   error
	ctxOK bool
}

func (r *recordingStopper) Stop(ctx context.Context) error {
	*r.order = append(*r.order, r.name)
	r.ctxOK = ctx.Err() == nil
	return r.err
}

func TestUnwindStopsStartedInOrder(t *testing.T) {
	var order []string
	pub := &recordingStopper{name: "publisher", order: &order}
	eng := &recordingStopper{name: "engine", order: &order, err: errors.New("close store")}

	// The startup context is already cancelled when unwinding after a signal.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cause := errors.New("listener: connection refused")
	err := unwind(ctx, time.Second, cause, pub, eng)

	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.ErrorContains(t, err, "close store")
	assert.Equal(t, []string{"publisher", "engine"}, order)
	assert.True(t, pub.ctxOK, "stop context must outlive the startup context")
	assert.True(t, eng.ctxOK)
}

func TestUnwindWithNothingStarted(t *testing.T) {
	cause := errors.New("boom")
	err := unwind(context.Background(), time.Second, cause)
	assert.ErrorIs(t, err, cause)
}
