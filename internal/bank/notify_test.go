package bank

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifications_Synchronous(t *testing.T) {
	// Arrange
	b := newTestBank(t, Config{}, &testBuilder{})
	require.NoError(t, b.Add("ui.icon", newSource("x", 8)))

	var loads []LoadEvent
	var levels []LevelEvent
	b.ObserveLoad(func(e LoadEvent) { loads = append(loads, e) })
	cancel := b.ObserveCacheLevel(func(e LevelEvent) { levels = append(levels, e) })

	// Act
	require.NoError(t, b.Load("ui.icon", RunNow))
	require.NoError(t, b.Unload("ui.icon", Hot, RunNow))
	require.NoError(t, b.Load("ui.icon", RunNow))

	// Assert
	assert.Equal(t, []LoadEvent{{Path: "ui.icon"}, {Path: "ui.icon"}}, loads)
	assert.Equal(t, []LevelEvent{
		{Path: "ui.icon", From: Cold, To: Memory},
		{Path: "ui.icon", From: Memory, To: Hot},
		{Path: "ui.icon", From: Hot, To: Memory},
	}, levels)

	cancel()
	require.NoError(t, b.Unload("ui.icon", Cold, RunNow))
	assert.Len(t, levels, 3, "cancelled observers hear nothing")
}

func TestNotifications_NoEventForNoop(t *testing.T) {
	b := newTestBank(t, Config{}, &testBuilder{})
	require.NoError(t, b.Add("ui.icon", newSource("x", 8)))

	var levels int
	b.ObserveCacheLevel(func(LevelEvent) { levels++ })

	require.NoError(t, b.Unload("ui.icon", Cold, RunNow))
	require.NoError(t, b.Load("ui.icon", RunNow))
	require.NoError(t, b.Load("ui.icon", RunNow))

	assert.Equal(t, 1, levels)
}

func TestNotifications_Background(t *testing.T) {
	// Arrange
	b := newTestBank(t, Config{Flags: BackgroundThread}, &testBuilder{})
	require.NoError(t, b.Add("ui.icon", newSource("x", 8)))

	var loads, levels int
	b.ObserveLoad(func(LoadEvent) { loads++ })
	b.ObserveCacheLevel(func(LevelEvent) { levels++ })

	// Act
	require.NoError(t, b.Load("ui.icon", AfterQueued))
	select {
	case <-b.NotifyReady():
	case <-time.After(5 * time.Second):
		t.Fatal("no notification signalled")
	}
	b.queue.DrainAll()

	// Assert
	assert.Zero(t, loads, "nothing is delivered before dispatch")
	assert.Equal(t, 2, b.Stats().PendingEvents)

	assert.Equal(t, 2, b.DispatchNotifications())
	assert.Equal(t, 1, loads)
	assert.Equal(t, 1, levels)
	assert.Zero(t, b.DispatchNotifications())
}

func TestNotifications_FailedBackgroundLoad(t *testing.T) {
	builder := &testBuilder{}
	builder.fail.Store(true)
	b := newTestBank(t, Config{Flags: BackgroundThread}, builder)
	require.NoError(t, b.Add("ui.icon", newSource("x", 8)))

	require.NoError(t, b.Load("ui.icon", AfterQueued), "queued jobs report nothing to the caller")
	b.queue.DrainAll()

	assert.Zero(t, b.DispatchNotifications())
	assert.Equal(t, Cold, b.Level("ui.icon"))
}
