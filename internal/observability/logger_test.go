package observability

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func TestLoggerFields(t *testing.T) {
	prev := log.Logger
	t.Cleanup(func() { log.Logger = prev })

	var buf bytes.Buffer
	log.Logger = zerolog.New(&buf)
	InitLogger("streamctl")
	InitLogger("streamctl")
	logger := Component("stream")
	logger.Info().Msg("hello")

	line := buf.String()
	if strings.Count(line, `"app":"streamctl"`) != 1 || !strings.Contains(line, `"component":"stream"`) {
		t.Fatalf("unexpected log line: %s", line)
	}
}
