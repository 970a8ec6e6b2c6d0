package logger

import (
	"testing"

	"github.com/coproc-io/coproc/internal/ports"
)

func TestNew_RejectsUnknownNames(t *testing.T) {
	if _, err := New("verbose", "text"); err == nil {
		t.Fatal("expected error for unknown level")
	}
	if _, err := New("info", "xml"); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestNew_AcceptsAllConfiguredNames(t *testing.T) {
	for level := range levelNames {
		for format := range formatters {
			if _, err := New(level, format); err != nil {
				t.Fatalf("New(%q, %q) failed: %v", level, format, err)
			}
		}
	}
}

func TestWithFields_Chains(t *testing.T) {
	l, err := New("debug", "json")
	if err != nil {
		t.Fatal(err)
	}

	chained := l.WithFields(ports.Field{Key: "component", Value: "test"})
	// The chain must produce a usable logger sharing the same sink.
	chained.Debug("message", ports.Field{Key: "extra", Value: 1})

	impl, ok := chained.(*Logger)
	if !ok {
		t.Fatalf("WithFields returned %T", chained)
	}
	if impl.entry.Logger != l.entry.Logger {
		t.Fatal("chained logger must share the underlying logrus instance")
	}
	if impl.entry.Data["component"] != "test" {
		t.Fatal("chained field missing")
	}
}

func TestNop_Discards(t *testing.T) {
	n := Nop()
	// Must not panic or write anywhere.
	n.Info("ignored", ports.Field{Key: "k", Value: "v"})
	n.Error("ignored")
}
