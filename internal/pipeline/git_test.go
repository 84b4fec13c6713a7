package pipeline

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/faber/internal/common"
)

func newTestGitClient(retries int) *GitClient {
	return NewGitClient(&common.GitConfig{
		Command:     "git",
		PullTimeout: "5s",
		PullRetries: retries,
	}, common.GetLogger())
}

func TestGitClient_IsGitRepository(t *testing.T) {
	client := newTestGitClient(0)
	assert.False(t, client.IsGitRepository(t.TempDir()))
}

func TestGitClient_PullSucceeds(t *testing.T) {
	client := newTestGitClient(1)

	calls := 0
	client.SetRunner(func(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
		calls++
		assert.Equal(t, "git", name)
		assert.Equal(t, []string{"pull"}, args)
		return []byte("Already up to date."), nil
	})

	require.NoError(t, client.Pull(context.Background(), "/ws"))
	assert.Equal(t, 1, calls)
}

func TestGitClient_PullRetriesOnce(t *testing.T) {
	client := newTestGitClient(1)

	calls := 0
	client.SetRunner(func(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
		calls++
		if calls == 1 {
			return []byte("fatal: early EOF"), fmt.Errorf("exit status 128")
		}
		return nil, nil
	})

	require.NoError(t, client.Pull(context.Background(), "/ws"))
	assert.Equal(t, 2, calls)
}

func TestGitClient_PullExhaustsRetries(t *testing.T) {
	client := newTestGitClient(1)

	calls := 0
	client.SetRunner(func(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
		calls++
		return []byte("fatal: could not read from remote"), fmt.Errorf("exit status 128")
	})

	err := client.Pull(context.Background(), "/ws")
	require.Error(t, err)
	assert.Equal(t, 2, calls)
	assert.Contains(t, err.Error(), "could not read from remote")
}

func TestGitClient_PullStopsOnCancelledContext(t *testing.T) {
	client := newTestGitClient(5)

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	client.SetRunner(func(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
		calls++
		cancel()
		return nil, fmt.Errorf("signal: killed")
	})

	err := client.Pull(ctx, "/ws")
	require.Error(t, err)
	assert.Equal(t, 1, calls, "no retries after the context is cancelled")
}
