package passphrase

import (
	"strings"
	"testing"
)

func TestSourceReadsEnvironment(t *testing.T) {
	t.Setenv("PASSPHRASE_TEST_SECRET", "hunter2")
	source := NewSource("PASSPHRASE_TEST_SECRET", "Secret: ")
	value, err := source.Get()
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if value != "hunter2" {
		t.Fatalf("value = %q", value)
	}
}

func TestSourceRejectsBlankEnvironment(t *testing.T) {
	t.Setenv("PASSPHRASE_TEST_SECRET", "   ")
	source := NewSource("PASSPHRASE_TEST_SECRET", "Secret: ")
	if _, err := source.Get(); err == nil {
		t.Fatalf("expected error for blank value")
	} else if !strings.Contains(err.Error(), "set but empty") {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestSourceCachesFirstResult(t *testing.T) {
	t.Setenv("PASSPHRASE_TEST_SECRET", "first")
	source := NewSource("PASSPHRASE_TEST_SECRET", "Secret: ")
	if value, err := source.Get(); err != nil || value != "first" {
		t.Fatalf("get = %q, %v", value, err)
	}
	t.Setenv("PASSPHRASE_TEST_SECRET", "second")
	if value, err := source.Get(); err != nil || value != "first" {
		t.Fatalf("cached get = %q, %v", value, err)
	}
}

func TestOptionalSourceResolvesEmptyWithoutTerminal(t *testing.T) {
	// Test binaries run without a controlling terminal on stdin, so the
	// optional source falls through to the empty value.
	source := NewOptionalSource("PASSPHRASE_TEST_UNSET_VAR", "Secret: ")
	value, err := source.Get()
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if value != "" {
		t.Fatalf("value = %q, want empty", value)
	}
}

func TestRequiredSourceFailsWithoutTerminal(t *testing.T) {
	source := NewSource("PASSPHRASE_TEST_UNSET_VAR", "Secret: ")
	if _, err := source.Get(); err == nil {
		t.Fatalf("expected error when secret unavailable")
	}
}
