package services

import (
	"bytes"
	"context"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSession_WiresComponents(t *testing.T) {
	remote := sampleTree()
	s := NewSession("alice", remote, RetryPolicy{MaxAttempts: 2}, nil)

	require.NotNil(t, s.Lister())
	require.NotNil(t, s.Crawler())
	require.NotNil(t, s.Assembler())
	require.NotNil(t, s.Executor())
	require.NotNil(t, s.UndoEngine())
	assert.Equal(t, 2, s.Lister().policy.MaxAttempts)

	res, err := s.Crawler().Crawl(context.Background(), CrawlOptions{})
	require.NoError(t, err)
	tree := s.Assembler().AssembleScan(res)
	assert.Equal(t, 5, tree.Count())
}

func TestNewSession_LogsCarryUser(t *testing.T) {
	var buf bytes.Buffer
	logger := log.NewWithOptions(&buf, log.Options{Level: log.InfoLevel})

	s := NewSession("alice", sampleTree(), DefaultRetryPolicy(), logger)
	_, err := s.Crawler().Crawl(context.Background(), CrawlOptions{})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "user=alice")
	assert.Contains(t, out, "crawler")
}

func TestSessions_DoNotShareUndoGuard(t *testing.T) {
	a := NewSession("a", newFakeRemote(), DefaultRetryPolicy(), nil)
	b := NewSession("b", newFakeRemote(), DefaultRetryPolicy(), nil)
	assert.NotSame(t, a.UndoEngine(), b.UndoEngine())
}
