package state

import (
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileTracker_PersistsAcrossRestarts(t *testing.T) {
	dir := t.TempDir()

	tracker, err := NewFileTracker(dir, true)
	require.NoError(t, err)
	require.NoError(t, tracker.MarkForwarded(Record{Hash: "h1", MessageID: "m1", Recipient: "a@example.org"}))
	require.NoError(t, tracker.MarkForwarded(Record{Hash: "h1", MessageID: "m1"}))
	require.NoError(t, tracker.MarkForwarded(Record{Hash: ""}))
	require.NoError(t, tracker.Close())

	data, err := os.ReadFile(tracker.Path())
	require.NoError(t, err)
	assert.Equal(t, 1, countLines(data))

	reloaded, err := NewFileTracker(dir, false)
	require.NoError(t, err)
	defer reloaded.Close()

	assert.True(t, reloaded.AlreadyForwarded("h1"))
	assert.False(t, reloaded.AlreadyForwarded("h2"))
	assert.False(t, reloaded.AlreadyForwarded(""))
	assert.Equal(t, 1, reloaded.Snapshot().Forwarded)
}

func TestFileTracker_DryRunDoesNotWrite(t *testing.T) {
	dir := t.TempDir()

	tracker, err := NewFileTracker(dir, false)
	require.NoError(t, err)
	require.NoError(t, tracker.MarkForwarded(Record{Hash: "h"}))
	assert.True(t, tracker.AlreadyForwarded("h"))
	require.NoError(t, tracker.Close())

	_, err = os.Stat(tracker.Path())
	assert.True(t, os.IsNotExist(err))
}

func TestFileTracker_CorruptStateFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(dir+"/"+fileName, []byte("{not json}\n"), 0o600))

	_, err := NewFileTracker(dir, false)
	assert.Error(t, err)
}

func TestNewFileTracker_EmptyDir(t *testing.T) {
	_, err := NewFileTracker("  ", true)
	assert.Error(t, err)
}

func countLines(data []byte) int {
	n := 0
	for _, b := range data {
		if b == '\n' {
			n++
		}
	}
	return n
}

func BenchmarkFileTracker_MarkForwarded(b *testing.B) {
	tracker, err := NewFileTracker(b.TempDir(), true)
	if err != nil {
		b.Fatal(err)
	}
	defer tracker.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := tracker.MarkForwarded(Record{Hash: fmt.Sprintf("hash-%d", i)}); err != nil {
			b.Fatal(err)
		}
	}
}
