package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerCommandRegistered(t *testing.T) {
	cmd, _, err := rootCmd.Find([]string{"worker"})
	require.NoError(t, err)
	assert.Equal(t, "worker", cmd.Name())

	poll := cmd.Flags().Lookup("poll")
	require.NotNil(t, poll)
	assert.Equal(t, "30s", poll.DefValue)
}
