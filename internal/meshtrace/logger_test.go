package meshtrace

import "testing"

func TestWithCorrelationAndRequestScopeIndependently(t *testing.T) {
	base, err := New(DefaultConfig(), "registry")
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	scoped := base.WithCorrelation("corr-1").WithRequest()
	if scoped.CorrelationID() != "corr-1" {
		t.Errorf("CorrelationID() = %q, want corr-1", scoped.CorrelationID())
	}
	if scoped.RequestID() == "" {
		t.Error("expected WithRequest to assign a non-empty request ID")
	}
	if base.CorrelationID() != "" || base.RequestID() != "" {
		t.Error("expected the base logger to remain unscoped")
	}
}

func TestNewIDIsUnique(t *testing.T) {
	a := NewID()
	b := NewID()
	if a == b {
		t.Error("expected successive NewID calls to differ")
	}
}

func TestTracerPresentWhenEnabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnableTracing = true
	l, err := New(cfg, "discovery")
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if l.Tracer() == nil {
		t.Fatal("expected a non-nil tracer when EnableTracing is set")
	}

	cfg.EnableTracing = false
	l2, err := New(cfg, "discovery")
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if l2.Tracer() != nil {
		t.Error("expected a nil tracer when EnableTracing is unset")
	}
}

func TestLevelString(t *testing.T) {
	cases := map[Level]string{
		LevelTrace: "trace",
		LevelDebug: "debug",
		LevelInfo:  "info",
		LevelWarn:  "warn",
		LevelError: "error",
		LevelFatal: "fatal",
	}
	for level, want := range cases {
		if got := level.String(); got != want {
			t.Errorf("Level(%d).String() = %q, want %q", level, got, want)
		}
	}
}
