package io

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/OpenListTeam/elastic-hal/resource"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelPollable(t *testing.T) {
	p := NewPollable(nil)
	assert.False(t, p.IsReady())
	p.SetReady()
	p.SetReady()
	assert.True(t, p.IsReady())
	require.NoError(t, p.Wait(context.Background()))

	p.Reset()
	assert.False(t, p.IsReady())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Wait(ctx), context.DeadlineExceeded)

	assert.True(t, NewReadyPollable().IsReady())
}

func TestTimerPollableClose(t *testing.T) {
	p := NewTimerPollable(time.Hour)
	p.Close()
	assert.False(t, p.IsReady())

	p = NewTimerPollable(time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.Wait(ctx))
}

func TestPollManagerClosesOnRemove(t *testing.T) {
	pm := NewPollManager()
	closed := false
	h, err := pm.Add(NewPollable(func() { closed = true }))
	require.NoError(t, err)
	require.NoError(t, pm.Remove(h))
	assert.True(t, closed)
	assert.ErrorIs(t, pm.Remove(h), resource.ErrNotFound)
}

func TestAny(t *testing.T) {
	a, b, c := NewPollable(nil), NewPollable(nil), NewReadyPollable()
	ready, err := Any(context.Background(), []Pollable{a, b, c})
	require.NoError(t, err)
	assert.Equal(t, []int{2}, ready)

	go func() {
		time.Sleep(5 * time.Millisecond)
		b.SetReady()
	}()
	ready, err = Any(context.Background(), []Pollable{a, b})
	require.NoError(t, err)
	assert.Equal(t, []int{1}, ready)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Any(ctx, []Pollable{a})
	assert.ErrorIs(t, err, context.Canceled)

	ready, err = Any(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, ready)
}

func TestMultiCloser(t *testing.T) {
	var order []int
	boom := errors.New("boom")
	mc := NewMultiCloser(
		CloserFunc(func() error { order = append(order, 1); return boom }),
		nil,
		CloserFunc(func() error { order = append(order, 2); return nil }),
	)
	assert.ErrorIs(t, mc.Close(), boom)
	assert.Equal(t, []int{1, 2}, order)
	assert.NoError(t, mc.Close())
	assert.Equal(t, []int{1, 2}, order)
}
