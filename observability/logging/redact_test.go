package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"sort"
	"testing"
)

func TestMaskFieldRedactsSensitiveValues(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{}))

	sensitiveToken := "bearer-secret-1234"
	logger.Warn("rejecting request",
		MaskField("token", sensitiveToken),
		slog.String("reason", "unit test"))

	if IsAllowlisted("token") {
		t.Fatalf("token should not be allowlisted for logging: %v", RedactionAllowlist())
	}

	raw := buf.Bytes()
	if bytes.Contains(raw, []byte(sensitiveToken)) {
		t.Fatalf("log output leaked sensitive token: %s", raw)
	}

	var entry map[string]any
	if err := json.Unmarshal(raw, &entry); err != nil {
		t.Fatalf("failed to decode log payload: %v", err)
	}
	value, ok := entry["token"].(string)
	if !ok {
		t.Fatalf("expected string token attribute, got %T", entry["token"])
	}
	if value != RedactedValue {
		t.Fatalf("expected redacted token, got %q", value)
	}
	if got := entry["reason"]; got != "unit test" {
		t.Fatalf("allowlisted reason should pass through, got %v", got)
	}
}

func TestMaskFieldPreservesAllowlistedAndEmpty(t *testing.T) {
	attr := MaskField("symbol", "USDC")
	if attr.Value.String() != "USDC" {
		t.Fatalf("allowlisted symbol should not be masked, got %q", attr.Value.String())
	}
	attr = MaskField("token", "")
	if attr.Value.String() != "" {
		t.Fatalf("empty value should pass through, got %q", attr.Value.String())
	}
	if got := MaskValue("anything"); got != RedactedValue {
		t.Fatalf("expected placeholder, got %q", got)
	}
	if got := MaskValue("  "); got != "  " {
		t.Fatalf("blank value should pass through, got %q", got)
	}
}

func TestRedactionAllowlistSorted(t *testing.T) {
	keys := RedactionAllowlist()
	if len(keys) == 0 {
		t.Fatal("expected a non-empty allowlist")
	}
	if !sort.StringsAreSorted(keys) {
		t.Fatalf("allowlist should be sorted: %v", keys)
	}
	for _, key := range []string{"service", "error", "component"} {
		if !IsAllowlisted(key) {
			t.Fatalf("expected %q to be allowlisted", key)
		}
	}
}
