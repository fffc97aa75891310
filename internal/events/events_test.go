package events

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/near-outlayer/execution-plane/internal/models"
)

func TestExecutionCompletedEnvelope(t *testing.T) {
	var buf bytes.Buffer
	e := NewEmitter(&buf)
	e.now = func() time.Time { return time.Unix(1700000000, 0) }

	err := e.ExecutionCompleted(models.Settlement{
		RequestID:   7,
		Payer:       "alice.near",
		Success:     true,
		ChargedUSD:  120,
		RefundedUSD: 380,
	}, models.CodeSource{Repo: "github.com/alice/oracle", Commit: "abc123"},
		models.ResourceUsage{Instructions: 5000})
	require.NoError(t, err)

	line := buf.String()
	require.True(t, strings.HasPrefix(line, "EVENT_JSON:"), "indexers match on the prefix")
	require.True(t, strings.HasSuffix(line, "\n"))

	var env struct {
		Standard string             `json:"standard"`
		Version  string             `json:"version"`
		Event    string             `json:"event"`
		Data     []CompletedPayload `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(line), "EVENT_JSON:")), &env))

	assert.Equal(t, "near-outlayer", env.Standard)
	assert.Equal(t, "1.0.0", env.Version)
	assert.Equal(t, "execution_completed", env.Event)
	require.Len(t, env.Data, 1)
	assert.Equal(t, uint64(7), env.Data[0].RequestID)
	assert.Equal(t, uint64(120), env.Data[0].PaymentCharged)
	assert.Equal(t, int64(1700000000), env.Data[0].Timestamp)
}

func TestExecutionRequestedOmitsEmptyError(t *testing.T) {
	var buf bytes.Buffer
	e := NewEmitter(&buf)

	require.NoError(t, e.ExecutionRequested(models.ExecutionRequest{
		RequestID:   8,
		Payer:       "bob.near",
		AttachedUSD: 50,
	}))

	assert.Contains(t, buf.String(), `"event":"execution_requested"`)
	assert.NotContains(t, buf.String(), "error_message")
}
