package validation

import (
	"strings"
	"testing"
)

func TestRequiredPaths(t *testing.T) {
	SetRules(Rules{Required: []string{"title", "meta.source"}})
	defer SetRules(Rules{})

	if err := ValidatePayload([]byte(`{"title":"x","meta":{"source":"feed"}}`)); err != nil {
		t.Fatalf("valid payload rejected: %v", err)
	}
	err := ValidatePayload([]byte(`{"title":"x","meta":{}}`))
	if err == nil {
		t.Fatal("expected error for missing meta.source")
	}
	if !strings.Contains(err.Error(), "meta.source") {
		t.Fatalf("err = %v", err)
	}
}

func TestMaxPayloadBytes(t *testing.T) {
	SetRules(Rules{MaxPayloadBytes: 10})
	defer SetRules(Rules{})

	if err := ValidatePayload([]byte(`{"a":1}`)); err != nil {
		t.Fatalf("small payload rejected: %v", err)
	}
	if err := ValidatePayload([]byte(`{"key":"long value here"}`)); err == nil {
		t.Fatal("expected size error")
	}
}

func TestPayloadShape(t *testing.T) {
	SetRules(Rules{})
	if err := ValidatePayload(nil); err == nil {
		t.Fatal("nil payload must fail")
	}
	if err := ValidatePayload([]byte(`[1,2,3]`)); err == nil {
		t.Fatal("array payload must fail")
	}
	if err := ValidatePayload([]byte(`{}`)); err != nil {
		t.Fatalf("empty object rejected: %v", err)
	}
}
