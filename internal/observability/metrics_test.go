package observability

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestObserveFirstChunkLatencyFeedsStageWindow(t *testing.T) {
	m := NewMetrics(fmt.Sprintf("tutor_test_metrics_%d", time.Now().UnixNano()))
	m.ObserveFirstChunkLatency(120 * time.Millisecond)
	snap := m.Stages.Snapshot()
	if len(snap.Stages) != 1 || snap.Stages[0].Stage != StageFirstChunk {
		t.Fatalf("stages = %+v, want one first_chunk entry", snap.Stages)
	}
}

func TestNewLoggerHonoursDebugAndFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, true, "json")
	logger.Debug("ping", "k", "v")

	out := buf.String()
	if !strings.Contains(out, `"msg":"ping"`) {
		t.Fatalf("log output = %q, want json debug record", out)
	}

	buf.Reset()
	NewLogger(&buf, false, "text").Debug("hidden")
	if buf.Len() != 0 {
		t.Fatalf("debug record emitted at info level: %q", buf.String())
	}
}

func TestLoggerWithoutSpanHasNoTraceID(t *testing.T) {
	var buf bytes.Buffer
	NewLogger(&buf, false, "text")
	Logger(context.Background()).Info("plain")
	if strings.Contains(buf.String(), "trace_id") {
		t.Fatalf("unexpected trace_id in %q", buf.String())
	}
}
