package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

const twoConsumers = `
broker:
  driver: memory
idempotency:
  driver: memory
consumers:
  - name: notifier
    effect: notify
    rules: ["EventType=OrderCreated|RefundRequested"]
    concurrency: 4
  - name: wholesale-desk
    effect: notify
    rules: ["EventType=OrderCreated", "Segment=Wholesale"]
`

func TestSimulateCommand(t *testing.T) {
	path := writeConfig(t, twoConsumers)

	out, err := execute(t, "simulate", "--config", path, "--orders", "6", "--refund-every", "2", "--duplicates", "2", "--seed", "3")
	require.NoError(t, err)

	assert.Contains(t, out, "published 9 events")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.GreaterOrEqual(t, len(lines), 4)
	assert.Contains(t, lines[2], "CONSUMER")
	assert.Contains(t, lines[2], "DUPLICATE EFFECTS")

	var notifier string
	for _, l := range lines {
		if strings.HasPrefix(l, "notifier") {
			notifier = l
		}
	}
	require.NotEmpty(t, notifier)
	// processed skipped ignored dropped retryable failed effects duplicates
	assert.Equal(t, []string{"notifier", "9", "18", "0", "0", "0", "0", "9", "0"}, strings.Fields(notifier))
}

func TestConsumersCommand(t *testing.T) {
	path := writeConfig(t, twoConsumers)

	out, err := execute(t, "consumers", "--config", path)
	require.NoError(t, err)

	assert.Contains(t, out, "notifier")
	assert.Contains(t, out, "EventType=OrderCreated AND Segment=Wholesale")
}

func TestSimulateCommand_InvalidConfig(t *testing.T) {
	path := writeConfig(t, `
broker:
  driver: carrier-pigeon
`)

	_, err := execute(t, "simulate", "--config", path)
	assert.ErrorContains(t, err, "unknown broker driver")
}

func TestDeliveriesCommand_RequiresEventID(t *testing.T) {
	_, err := execute(t, "deliveries")
	assert.Error(t, err)
}
