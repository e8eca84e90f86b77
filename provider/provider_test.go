package provider

import (
	"errors"
	"testing"

	"github.com/mohammad-safakhou/researchd/config"
)

func TestStripFences(t *testing.T) {
	cases := map[string]string{
		"```json\n{\"a\":1}\n```": `{"a":1}`,
		"```\n{\"a\":1}\n```":     `{"a":1}`,
		"  {\"a\":1}  ":           `{"a":1}`,
		"```{\"a\":1}```":         `{"a":1}`,
	}
	for in, want := range cases {
		if got := StripFences(in); got != want {
			t.Errorf("StripFences(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNewRequiresAPIKey(t *testing.T) {
	if _, err := New(config.LLMConfig{}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("expected ErrDisabled, got %v", err)
	}
	c, err := New(config.LLMConfig{APIKey: "k"})
	if err != nil || c == nil {
		t.Fatalf("expected client, got %v", err)
	}
}
