package cli

import (
	"testing"
)

func TestParseParams(t *testing.T) {
	params, err := ParseParams([]string{"name=world", "count=3", "ratio=0.5", "verbose=true", "flag=1", "empty=", "none=null", "url=a=b"})
	if err != nil {
		t.Fatalf("ParseParams failed: %v", err)
	}

	want := map[string]interface{}{
		"name":    "world",
		"count":   float64(3),
		"ratio":   0.5,
		"verbose": true,
		"flag":    float64(1),
		"empty":   "",
		"none":    nil,
		"url":     "a=b",
	}
	if len(params) != len(want) {
		t.Fatalf("Expected %d params, got %d: %v", len(want), len(params), params)
	}
	for k, v := range want {
		if got, ok := params[k]; !ok || got != v {
			t.Errorf("Param %s: expected %v (%T), got %v (%T)", k, v, v, got, got)
		}
	}

	for _, bad := range []string{"novalue", "=x"} {
		if _, err := ParseParams([]string{bad}); err == nil {
			t.Errorf("Expected error for %q", bad)
		}
	}
}
