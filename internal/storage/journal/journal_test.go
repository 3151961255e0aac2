package journal

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ChuLiYu/deadlock-sim/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func grantEvent(cycle, task int) types.SimEvent {
	return types.SimEvent{Cycle: cycle, Type: types.EventGrant, Task: task, Resource: 0, Amount: 1}
}

func readAll(t *testing.T, path string) []Event {
	t.Helper()
	var events []Event
	require.NoError(t, Replay(path, func(e Event) error {
		events = append(events, e)
		return nil
	}))
	return events
}

func TestAppendAndReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sim.journal")
	j, err := Open(path, 0)
	require.NoError(t, err)

	require.NoError(t, j.Append("run-1", grantEvent(0, 0)))
	require.NoError(t, j.Append("run-1", types.SimEvent{Cycle: 0, Type: types.EventBlock, Task: 1, Resource: 0, Amount: 5}))
	require.NoError(t, j.Append("run-1", types.SimEvent{Cycle: 1, Type: types.EventCycle, Task: -1, Resource: -1}))
	assert.Equal(t, uint64(3), j.LastSeq())
	require.NoError(t, j.Close())

	events := readAll(t, path)
	require.Len(t, events, 3)
	for i, e := range events {
		assert.Equal(t, uint64(i+1), e.Seq)
		assert.Equal(t, "run-1", e.RunID)
	}
	assert.Equal(t, types.EventBlock, events[1].Type)
	assert.Equal(t, types.SimEvent{Cycle: 0, Type: types.EventBlock, Task: 1, Resource: 0, Amount: 5}, events[1].SimEvent())
}

func TestBufferedUntilFlush(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sim.journal")
	j, err := Open(path, 3)
	require.NoError(t, err)
	defer j.Close()

	require.NoError(t, j.Append("r", grantEvent(0, 0)))
	require.NoError(t, j.Append("r", grantEvent(0, 1)))
	assert.Empty(t, readAll(t, path), "events stay buffered below the threshold")

	require.NoError(t, j.Append("r", grantEvent(0, 2)))
	assert.Len(t, readAll(t, path), 3, "reaching the threshold flushes")

	require.NoError(t, j.Append("r", grantEvent(1, 0)))
	require.NoError(t, j.Flush())
	assert.Len(t, readAll(t, path), 4)
}

func TestReopenContinuesSequence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sim.journal")

	j, err := Open(path, 0)
	require.NoError(t, err)
	require.NoError(t, j.Append("a", grantEvent(0, 0)))
	require.NoError(t, j.Append("a", grantEvent(0, 1)))
	require.NoError(t, j.Close())

	j, err = Open(path, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), j.LastSeq())
	require.NoError(t, j.Append("b", grantEvent(0, 0)))
	require.NoError(t, j.Close())

	events := readAll(t, path)
	require.Len(t, events, 3)
	assert.Equal(t, uint64(3), events[2].Seq)
	assert.Equal(t, "b", events[2].RunID)
}

func TestClosedJournal(t *testing.T) {
	j, err := Open(filepath.Join(t.TempDir(), "sim.journal"), 0)
	require.NoError(t, err)
	require.NoError(t, j.Close())
	require.NoError(t, j.Close(), "second close is a no-op")

	assert.ErrorIs(t, j.Append("r", grantEvent(0, 0)), ErrJournalClosed)
	assert.ErrorIs(t, j.Flush(), ErrJournalClosed)
}

func TestReplayDetectsTampering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sim.journal")
	j, err := Open(path, 0)
	require.NoError(t, err)
	require.NoError(t, j.Append("r", types.SimEvent{Type: types.EventGrant, Amount: 2}))
	require.NoError(t, j.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	tampered := strings.Replace(string(data), `"amount":2`, `"amount":9`, 1)
	require.NoError(t, os.WriteFile(path, []byte(tampered), 0644))

	err = Replay(path, func(Event) error { return nil })
	assert.ErrorIs(t, err, ErrChecksumMismatch)

	var csErr *ChecksumError
	require.True(t, errors.As(err, &csErr))
	assert.Equal(t, uint64(1), csErr.Seq)
}

func TestReplayDetectsCorruption(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sim.journal")
	require.NoError(t, os.WriteFile(path, []byte("{not json\n"), 0644))

	err := Replay(path, func(Event) error { return nil })
	assert.ErrorIs(t, err, ErrCorruptedJournal)

	_, err = Open(path, 0)
	assert.ErrorIs(t, err, ErrCorruptedJournal)
}

func TestReplayStopsOnHandlerError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sim.journal")
	j, err := Open(path, 0)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		require.NoError(t, j.Append("r", grantEvent(i, 0)))
	}
	require.NoError(t, j.Close())

	stop := errors.New("stop")
	seen := 0
	err = Replay(path, func(Event) error {
		seen++
		if seen == 2 {
			return stop
		}
		return nil
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 2, seen)
}

func TestReplayMissingFile(t *testing.T) {
	err := Replay(filepath.Join(t.TempDir(), "nope"), func(Event) error { return nil })
	assert.ErrorIs(t, err, os.ErrNotExist)
}
