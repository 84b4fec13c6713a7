package executor

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRollingBuffer_UnderCap(t *testing.T) {
	buf := NewRollingBuffer(64)
	_, err := buf.Write([]byte("hello "))
	require.NoError(t, err)
	_, err = buf.Write([]byte("world"))
	require.NoError(t, err)

	assert.Equal(t, "hello world", buf.String())
}

func TestRollingBuffer_DiscardsOldest(t *testing.T) {
	buf := NewRollingBuffer(10)
	_, err := buf.Write([]byte("0123456789abcdef"))
	require.NoError(t, err)

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "[output truncated]\n"))
	assert.True(t, strings.HasSuffix(out, "abcdef"))
	assert.Len(t, strings.TrimPrefix(out, "[output truncated]\n"), 10)
}

func TestRollingBuffer_ManySmallWrites(t *testing.T) {
	buf := NewRollingBuffer(5)
	for i := 0; i < 100; i++ {
		_, err := buf.Write([]byte("x"))
		require.NoError(t, err)
	}
	assert.Equal(t, "[output truncated]\nxxxxx", buf.String())
}
