package spanlog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemLog(t *testing.T) {
	m := NewMemLog(`{"a":1}`)
	require.NoError(t, m.Append([]byte(`{"b":2}`)))
	assert.ErrorIs(t, m.Append([]byte("x\ny")), ErrEmbeddedNewline)

	n, err := m.Count()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	lines, err := m.ReadFrom(1)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, `{"b":2}`, string(lines[0]))

	lines, err = m.ReadFrom(9)
	require.NoError(t, err)
	assert.Empty(t, lines)
}

func TestMemLog_Feed(t *testing.T) {
	m := NewMemLog()
	ch := make(chan []byte, 2)
	ch <- []byte(`{"a":1}`)
	ch <- []byte(`{"b":2}`)
	close(ch)

	require.NoError(t, m.Feed(context.Background(), ch))

	n, _ := m.Count()
	assert.Equal(t, 2, n)
}

func TestMemLog_FeedCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := NewMemLog().Feed(ctx, make(chan []byte))
	assert.ErrorIs(t, err, context.Canceled)
}
