package logger

import (
	"strings"
	"testing"
)

func TestSanitizeKVs(t *testing.T) {
	t.Setenv("LOG_REDACTION_ENABLED", "true")
	big := strings.Repeat("a", maxValueLen+10)
	out := sanitizeKVs([]interface{}{"authorization", "Bearer x", "user_id", "u-1", "summary", big, "slide_number", 3})
	if out[1] != "[REDACTED]" {
		t.Fatalf("authorization not redacted: %v", out[1])
	}
	if s, _ := out[3].(string); !strings.HasPrefix(s, "hash:") {
		t.Fatalf("user_id not hashed: %v", out[3])
	}
	if s, _ := out[5].(string); len(s) >= len(big) {
		t.Fatalf("long value not truncated")
	}
	if out[7] != 3 {
		t.Fatalf("plain value changed: %v", out[7])
	}
}
