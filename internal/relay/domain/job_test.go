package domain

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMessageID(t *testing.T) {
	id := NewMessageID()

	parts := strings.SplitN(id, "-", 2)
	require.Len(t, parts, 2)

	_, err := strconv.ParseInt(parts[0], 10, 64)
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprint(os.Getpid()), parts[1])
}

func TestJob_JSONFieldNames(t *testing.T) {
	job := Job{
		Channel:   "telegram",
		Sender:    "alice",
		SenderID:  "a-1",
		Message:   "hi",
		Timestamp: 1700000000000,
		MessageID: "1700000000000-42",
	}

	data, err := json.Marshal(job)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	for _, key := range []string{"channel", "sender", "senderId", "message", "timestamp", "messageId"} {
		assert.Contains(t, raw, key)
	}
}

func TestJob_SenderIDOmittedWhenEmpty(t *testing.T) {
	data, err := json.Marshal(Job{Channel: "telegram"})
	require.NoError(t, err)
	assert.NotContains(t, string(data), "senderId")
}
