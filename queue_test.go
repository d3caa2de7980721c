package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quizlink/service/offline"
)

func TestPrintActions(t *testing.T) {
	now := time.UnixMilli(1_700_000_100_000)
	actions := []offline.Action{
		{ID: "action_1", Type: offline.ActionSendEnvelope, Payload: map[string]any{"type": "matchmaking:find"}, Timestamp: 1_700_000_000_000},
		{ID: "action_2", Type: offline.ActionSubmitAnswer, Timestamp: 1_700_000_090_000, RetryCount: 2},
	}
	var buf bytes.Buffer
	require.NoError(t, printActions(&buf, actions, now))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, []string{"ID", "KIND", "TYPE", "AGE", "RETRIES"}, strings.Fields(lines[0]))
	assert.Equal(t, []string{"action_1", "SEND_ENVELOPE", "matchmaking:find", "1m40s", "0"}, strings.Fields(lines[1]))
	assert.Equal(t, []string{"action_2", "SUBMIT_ANSWER", "-", "10s", "2"}, strings.Fields(lines[2]))
}

func TestQueueSubcommands(t *testing.T) {
	var names []string
	for _, c := range queueCmd().Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"ls", "clear", "prune"}, names)
}
