package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ulrichjack/institut-app-backend/internal/service"
)

func TestParseSince(t *testing.T) {
	now := time.Date(2024, 3, 10, 15, 0, 0, 0, time.UTC)

	got, err := parseSince("48h", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 8, 15, 0, 0, 0, time.UTC), got)

	got, err = parseSince("2024-03-01", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), got)

	got, err = parseSince("2024-03-01T08:30:00Z", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 1, 8, 30, 0, 0, time.UTC), got)

	for _, raw := range []string{"", "-2h", "yesterday", "01/03/2024"} {
		_, err := parseSince(raw, now)
		assert.Error(t, err, raw)
	}
}

func TestPrintResults(t *testing.T) {
	since := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	var empty bytes.Buffer
	require.NoError(t, printResults(&empty, since, nil))
	assert.Equal(t, "nothing to resend since 2024-03-01T00:00:00Z\n", empty.String())

	var out bytes.Buffer
	require.NoError(t, printResults(&out, since, []service.DeliveryResult{
		{Channel: service.ChannelEmail, Recipient: "user", Outcome: service.OutcomeSent, Attempts: 1},
		{Channel: service.ChannelWhatsApp, Recipient: "user", Outcome: service.OutcomeFailed, Attempts: 3},
	}))
	assert.Contains(t, out.String(), "CHANNEL")
	assert.Contains(t, out.String(), "1/2 deliveries sent")
}

func TestRootCommandRegistersSubcommands(t *testing.T) {
	root := newRootCommand()
	names := make([]string, 0)
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Contains(t, names, "resend")
	assert.Contains(t, names, "create-admin")

	resend, _, err := root.Find([]string{"resend"})
	require.NoError(t, err)
	assert.Equal(t, "24h", resend.Flag("since").DefValue)
	assert.Equal(t, "100", resend.Flag("limit").DefValue)
}
