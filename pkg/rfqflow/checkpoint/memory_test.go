package checkpoint_test

import (
	"sync"
	"testing"

	"github.com/rfqflow/rfqflow/pkg/rfqflow/checkpoint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_Len(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	defer store.Close()

	assert.Equal(t, 0, store.Len())

	require.NoError(t, store.Save("thread-1", []byte("a")))
	assert.Equal(t, 1, store.Len())

	require.NoError(t, store.Save("thread-1", []byte("b")))
	assert.Equal(t, 2, store.Len())

	require.NoError(t, store.Save("thread-2", []byte("x")))
	assert.Equal(t, 3, store.Len())

	require.NoError(t, store.Clear("thread-1"))
	assert.Equal(t, 1, store.Len())
}

func TestMemoryStore_Concurrent(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	defer store.Close()

	const numGoroutines = 100
	const numOps = 50

	var wg sync.WaitGroup
	wg.Add(numGoroutines)

	for i := 0; i < numGoroutines; i++ {
		go func(id int) {
			defer wg.Done()

			threadID := "thread-" + string(rune('a'+id%26))
			for j := 0; j < numOps; j++ {
				data := []byte("data")

				// Mix of operations
				switch j % 5 {
				case 0, 1:
					_ = store.Save(threadID, data)
				case 2:
					_, _ = store.LoadLatest(threadID)
				case 3:
					_, _ = store.List(threadID)
				case 4:
					_ = store.Clear(threadID)
				}
			}
		}(i)
	}

	wg.Wait()

	// Should not panic or deadlock
	// Final state doesn't matter, just verifying concurrent safety
}

func TestMemoryStore_SaveCopiesData(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	defer store.Close()

	data := []byte("original")
	require.NoError(t, store.Save("thread-1", data))

	// Mutating the caller's slice must not corrupt the stored snapshot.
	data[0] = 'X'

	loaded, err := store.LoadLatest("thread-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("original"), loaded)
}

func TestMemoryStore_InfoMetadata(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	defer store.Close()

	require.NoError(t, store.Save("thread-1", []byte("short")))

	infos, err := store.List("thread-1")
	require.NoError(t, err)
	require.Len(t, infos, 1)

	info := infos[0]
	assert.Equal(t, "thread-1", info.ThreadID)
	assert.Equal(t, 1, info.Sequence)
	assert.Equal(t, int64(5), info.Size) // len("short")
	assert.False(t, info.Timestamp.IsZero())
}
