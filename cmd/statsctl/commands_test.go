package main

import (
	"bytes"
	"testing"
)

func TestPrintCountersText(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	err := printCounters(&buf, map[string]int64{"b": 2, "a": 1}, "text")
	if err != nil {
		t.Fatalf("printCounters returned error: %v", err)
	}

	if got := buf.String(); got != "a=1\nb=2\n" {
		t.Fatalf("unexpected output %q", got)
	}
}

func TestPrintCountersJSON(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	err := printCounters(&buf, map[string]int64{"a": 1}, "json")
	if err != nil {
		t.Fatalf("printCounters returned error: %v", err)
	}

	if got := buf.String(); got != "{\n  \"a\": 1\n}\n" {
		t.Fatalf("unexpected output %q", got)
	}
}

func TestPrintCountersRejectsFormat(t *testing.T) {
	t.Parallel()

	err := printCounters(&bytes.Buffer{}, nil, "xml")
	if err == nil {
		t.Fatal("expected error for unknown format")
	}
}
