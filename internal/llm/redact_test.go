package llm

import (
	"strings"
	"testing"
)

func TestRedactSecrets(t *testing.T) {
	tests := []struct {
		name   string
		in     string
		hidden string
	}{
		{"openai key", "call failed with key sk-proj1234567890abcdef", "sk-proj1234567890abcdef"},
		{"anthropic key", "401 for sk-ant-api03-zzzzzzzzzz", "sk-ant-api03-zzzzzzzzzz"},
		{"bearer header", "Authorization: Bearer tok_abc123 rejected", "tok_abc123"},
		{"api key pair", "bad request: api_key=supersecret", "supersecret"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := redactSecrets(tt.in)
			if strings.Contains(out, tt.hidden) {
				t.Errorf("secret survived: %q", out)
			}
			if !strings.Contains(out, "[REDACTED]") {
				t.Errorf("no redaction marker in %q", out)
			}
		})
	}
}

func TestRedactSecrets_PlainTextUntouched(t *testing.T) {
	in := "the upstream provider returned an empty response"
	if out := redactSecrets(in); out != in {
		t.Errorf("benign text altered: %q", out)
	}
}
