package connector

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchAny(t *testing.T) {
	t.Parallel()

	assert.True(t, MatchAny([]string{"**/*.md"}, "docs/readme.md"))
	assert.True(t, MatchAny([]string{"**/*.md"}, "readme.md"))
	assert.True(t, MatchAny([]string{"*.txt", "*.md"}, "notes.md"))
	assert.False(t, MatchAny([]string{"*.txt"}, "docs/notes.txt"))
	assert.False(t, MatchAny(nil, "anything"))
}

func TestRetryableStatus(t *testing.T) {
	t.Parallel()

	assert.True(t, RetryableStatus(429))
	assert.True(t, RetryableStatus(500))
	assert.True(t, RetryableStatus(503))
	assert.False(t, RetryableStatus(404))
	assert.False(t, RetryableStatus(400))
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	t.Parallel()

	calls := 0
	_, err := Retry(t.Context(), func() (int, error) {
		calls++
		return 0, errors.New("not found")
	}, func(error) bool { return false })

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryRecovers(t *testing.T) {
	t.Parallel()

	calls := 0
	v, err := Retry(t.Context(), func() (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("throttled")
		}
		return 42, nil
	}, func(error) bool { return true })

	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, 3, calls)
}
