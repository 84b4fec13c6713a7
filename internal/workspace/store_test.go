package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/faber/internal/common"
	"github.com/ternarybob/faber/internal/models"
)

type stubRegistry struct {
	repos map[string]string
}

func (r *stubRegistry) Lookup(name string) (string, error) {
	path, ok := r.repos[name]
	if !ok {
		return "", models.NewError(models.ErrInvalidInput, "unknown repository "+name)
	}
	return path, nil
}

func (r *stubRegistry) List() ([]string, error) {
	var names []string
	for name := range r.repos {
		names = append(names, name)
	}
	return names, nil
}

func newTestStoreWithRepo(t *testing.T) (*Store, string) {
	t.Helper()
	repoDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(repoDir, "README.md"), []byte("# repo"), 0644))

	reg := &stubRegistry{repos: map[string]string{"webapp": repoDir}}
	store := NewStore(t.TempDir(), reg, common.GetLogger())
	return store, repoDir
}

func TestStore_CloneFallsBackThroughStrategies(t *testing.T) {
	store, _ := newTestStoreWithRepo(t)

	var attempts []string
	store.SetRunner(func(name string, args ...string) error {
		attempts = append(attempts, name)
		if name == "rsync" {
			return nil
		}
		return fmt.Errorf("%s unsupported here", name)
	})

	path, err := store.Clone("webapp", "job_1")
	require.NoError(t, err)
	assert.Equal(t, []string{"cp", "btrfs", "rsync"}, attempts)
	assert.Equal(t, store.Path("job_1"), path)

	// files/ subdir is always provisioned.
	info, err := os.Stat(filepath.Join(path, FilesDir))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestStore_CloneCachesStrategy(t *testing.T) {
	store, _ := newTestStoreWithRepo(t)

	var attempts []string
	store.SetRunner(func(name string, args ...string) error {
		attempts = append(attempts, name)
		if name == "rsync" {
			return nil
		}
		return fmt.Errorf("no")
	})

	_, err := store.Clone("webapp", "job_1")
	require.NoError(t, err)

	attempts = nil
	_, err = store.Clone("webapp", "job_2")
	require.NoError(t, err)
	assert.Equal(t, []string{"rsync"}, attempts, "cached strategy should be tried directly")
}

func TestStore_CloneSkipsSnapshotWhenTargetExists(t *testing.T) {
	store, _ := newTestStoreWithRepo(t)
	// Staging created the job directory before dispatch.
	require.NoError(t, os.MkdirAll(filepath.Join(store.Path("job_1"), "staging"), 0755))

	var attempts []string
	store.SetRunner(func(name string, args ...string) error {
		attempts = append(attempts, name)
		if name == "rsync" {
			return nil
		}
		return fmt.Errorf("no")
	})

	_, err := store.Clone("webapp", "job_1")
	require.NoError(t, err)
	assert.NotContains(t, attempts, "btrfs")
}

func TestStore_CloneAllStrategiesFail(t *testing.T) {
	store, _ := newTestStoreWithRepo(t)
	store.SetRunner(func(name string, args ...string) error {
		return fmt.Errorf("nope")
	})

	_, err := store.Clone("webapp", "job_1")
	assert.True(t, models.IsKind(err, models.ErrWorkspaceCreateFailed))

	// No partial workspace left behind.
	_, statErr := os.Stat(store.Path("job_1"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestStore_CloneUnknownRepository(t *testing.T) {
	store, _ := newTestStoreWithRepo(t)
	_, err := store.Clone("nope", "job_1")
	assert.True(t, models.IsKind(err, models.ErrInvalidInput))
}

func TestStore_RemoveIdempotent(t *testing.T) {
	store, _ := newTestStoreWithRepo(t)
	store.SetRunner(func(name string, args ...string) error {
		if name == "rsync" {
			return nil
		}
		return fmt.Errorf("no")
	})

	path, err := store.Clone("webapp", "job_1")
	require.NoError(t, err)

	require.NoError(t, store.Remove(path))
	assert.False(t, store.Exists(path))
	require.NoError(t, store.Remove(path))
	require.NoError(t, store.Remove(""))
}
