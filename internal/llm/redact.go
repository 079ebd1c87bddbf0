package llm

import "regexp"

// Error text surfaced to callers passes through redactSecrets first: the
// upstream SDKs occasionally echo request headers into error messages.
var secretPatterns = []*regexp.Regexp{
	// Vendor API key shapes (OpenAI sk-..., Anthropic sk-ant-...).
	regexp.MustCompile(`\bsk-[A-Za-z0-9_-]{8,}`),
	// Authorization headers, with or without a scheme prefix.
	regexp.MustCompile(`(?i)\bauthorization\b[=: ]+(?:bearer\s+|basic\s+)?[^\s"']+`),
	// Other header-style credentials: "Bearer xyz", "api_key=xyz".
	regexp.MustCompile(`(?i)\b(api[_-]?key|bearer|x-api-key|token)\b[=: ]+[^\s"']+`),
}

func redactSecrets(s string) string {
	for _, re := range secretPatterns {
		s = re.ReplaceAllString(s, "[REDACTED]")
	}
	return s
}
