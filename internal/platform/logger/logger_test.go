package logger

import (
	"strings"
	"testing"
)

func TestSanitizeKVsRedactsSecrets(t *testing.T) {
	redactionEnabled = true
	redactOnce.Do(func() {})

	out := sanitizeKVs([]interface{}{
		"api_key", "sk-123",
		"authorization", "Bearer abc",
		"batch_id", "b-1",
	})
	if len(out) != 6 {
		t.Fatalf("kv length: want=6 got=%d", len(out))
	}
	if out[1] != "[REDACTED]" {
		t.Fatalf("api_key: want=[REDACTED] got=%v", out[1])
	}
	if out[3] != "[REDACTED]" {
		t.Fatalf("authorization: want=[REDACTED] got=%v", out[3])
	}
	if out[5] != "b-1" {
		t.Fatalf("batch_id should pass through, got=%v", out[5])
	}
}

func TestSanitizeKVsHashesStudentName(t *testing.T) {
	redactionEnabled = true
	redactOnce.Do(func() {})

	out := sanitizeKVs([]interface{}{"student_name", "Jane Doe"})
	got, ok := out[1].(string)
	if !ok {
		t.Fatalf("hashed value not a string: %T", out[1])
	}
	if !strings.HasPrefix(got, "hash:") {
		t.Fatalf("want hash: prefix, got=%q", got)
	}
	if strings.Contains(got, "Jane") {
		t.Fatalf("raw name leaked: %q", got)
	}
	// Same input hashes identically so logs stay correlatable.
	again := sanitizeKVs([]interface{}{"student_name", "Jane Doe"})
	if again[1] != out[1] {
		t.Fatalf("hash not stable: %v vs %v", again[1], out[1])
	}
}

func TestSanitizeKVsOddTrailingKey(t *testing.T) {
	redactionEnabled = true
	redactOnce.Do(func() {})

	out := sanitizeKVs([]interface{}{"key", "value", "dangling"})
	if len(out) != 3 {
		t.Fatalf("kv length: want=3 got=%d", len(out))
	}
	if out[2] != "dangling" {
		t.Fatalf("dangling key mangled: %v", out[2])
	}
}
