package logging

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewBuildsBothModes(t *testing.T) {
	t.Parallel()

	for _, development := range []bool{true, false} {
		logger, err := New(development)
		if err != nil {
			t.Fatalf("New(%v) error = %v", development, err)
		}
		if logger == nil {
			t.Fatalf("New(%v) returned nil logger", development)
		}
		_ = logger.Sync()
	}
}

func TestScopedLoggersCarryRunAndEntryFields(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	run := ForRun(zap.New(core), "run-1", "houses")
	ForEntry(run, "ID4abc", "audit-7").Info("fetched")
	ForResource(run, "ID4abd").Warn("geocoding failed")

	entries := logs.AllUntimed()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	first := entries[0].ContextMap()
	for key, want := range map[string]string{
		KeyRunID: "run-1", KeyEntity: "houses", KeyResourceID: "ID4abc", KeyAuditID: "audit-7",
	} {
		if first[key] != want {
			t.Errorf("field %s = %v, want %s", key, first[key], want)
		}
	}
	second := entries[1].ContextMap()
	if second[KeyResourceID] != "ID4abd" || second[KeyRunID] != "run-1" {
		t.Errorf("unexpected resource scope: %v", second)
	}
	if _, ok := second[KeyAuditID]; ok {
		t.Error("resource scope must not carry an audit id")
	}
}
