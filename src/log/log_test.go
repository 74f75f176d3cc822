package log_test

import (
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/go-logr/logr/funcr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docrag/src/log"
)

func TestSetup(t *testing.T) {
	prev := log.Logger()
	t.Cleanup(func() { log.SetLogger(prev) })

	testCases := []struct {
		name    string
		level   string
		wantErr bool
	}{
		{name: "info", level: "info"},
		{name: "debug development", level: "debug"},
		{name: "unknown level", level: "loud", wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := log.Setup(tc.level, tc.name == "debug development")
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestWatermillLogger(t *testing.T) {
	prev := log.Logger()
	t.Cleanup(func() { log.SetLogger(prev) })

	var lines []string
	log.SetLogger(funcr.New(func(prefix, args string) {
		lines = append(lines, prefix+" "+args)
	}, funcr.Options{Verbosity: 1}))

	wl := log.NewWatermillLogger().With(watermill.LogFields{"topic": "ingest_file"})
	wl.Info("Starting handler", watermill.LogFields{"handler": "ingest_file_processor_0"})
	wl.Debug("Message acked", nil)
	wl.Trace("Hidden at verbosity 1", nil)
	wl.Error("Handler failed", errors.New("boom"), nil)

	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "watermill")
	assert.Contains(t, lines[0], `"topic"="ingest_file"`)
	assert.Contains(t, lines[0], `"handler"="ingest_file_processor_0"`)
	assert.Contains(t, lines[1], "Message acked")
	assert.Contains(t, lines[2], `"error"="boom"`)
}
