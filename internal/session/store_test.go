package session

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state", "session_state.json")
	store, err := NewStore(path, zap.NewNop())
	require.NoError(t, err)
	return store
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	store := newTestStore(t)
	blob := []byte(`{"cookies":[{"name":"_session","value":"abc"}]}`)

	require.NoError(t, store.Save(blob))

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, blob, loaded)

	info, err := os.Stat(store.Path())
	require.NoError(t, err)
	assert.Equal(t, fs.FileMode(0o600), info.Mode().Perm())
}

func TestLoadMissingBlobWrapsNotExist(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Load()
	require.Error(t, err)
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestSaveOverwritesPreviousBlob(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Save([]byte("first")))
	require.NoError(t, store.Save([]byte("second")))

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), loaded)
}

func TestConcurrentSavesLeaveIntactBlob(t *testing.T) {
	store := newTestStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			blob := []byte(fmt.Sprintf(`{"writer":%d}`, i))
			assert.NoError(t, store.Save(blob))
		}(i)
	}
	wg.Wait()

	// Last-write-wins is fine; a torn or truncated file is not.
	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Regexp(t, `^\{"writer":\d\}$`, string(loaded))
}

func TestNewStoreExpandsHome(t *testing.T) {
	store, err := NewStore("~/state.json", zap.NewNop())
	require.NoError(t, err)
	assert.NotContains(t, store.Path(), "~")
}
