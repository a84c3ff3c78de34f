package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

func TestCronLoggerError(t *testing.T) {
	var buf bytes.Buffer
	l := CronLogger{Log: zerolog.New(&buf)}

	l.Error(errors.New("boom"), "panic", "entry", 3)

	var got map[string]any
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if got["error"] != "boom" || got["message"] != "panic" {
		t.Fatalf("unexpected log line: %v", got)
	}
	if got["entry"] != float64(3) {
		t.Fatalf("entry field = %v, want 3", got["entry"])
	}
}
