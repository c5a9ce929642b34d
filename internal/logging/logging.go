// Package logging builds the relay's zap.Logger and carries a URL
// redaction helper — endpoint URLs routinely embed provider API keys,
// and every log line that names one must not leak it.
package logging

import (
	"net/url"
	"strings"

	"go.uber.org/zap"
)

// New builds a production-config logger at info level, or a
// development-config logger at debug level with human-readable output.
func New(development bool) (*zap.Logger, error) {
	if development {
		cfg := zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		return cfg.Build()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	return cfg.Build()
}

// RedactURL strips userinfo, key/token/secret query parameters, and
// common provider API-key path segments from rawURL, so it's safe to
// pass to a log field. internal/httprpc runs it on every endpoint URL it
// puts into a transport-error message; the dashboard and /status print
// URLs unredacted.
func RedactURL(rawURL string) string {
	if rawURL == "" {
		return ""
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return redactAPIKeySegment(rawURL)
	}

	u.User = nil

	q := u.Query()
	for key := range q {
		lower := strings.ToLower(key)
		if strings.Contains(lower, "key") || strings.Contains(lower, "token") || strings.Contains(lower, "secret") {
			q.Del(key)
		}
	}
	u.RawQuery = q.Encode()
	// Redact the escaped form too, so String emits the "[REDACTED]" marker
	// literally instead of percent-encoding its brackets.
	u.RawPath = redactAPIKeySegment(u.EscapedPath())
	u.Path = redactAPIKeySegment(u.Path)

	return u.String()
}

// redactAPIKeySegment drops whatever follows a /v2/ or /v3/ path marker —
// the shape Infura, Alchemy, and similar providers use for their API key.
func redactAPIKeySegment(s string) string {
	s = strings.ReplaceAll(s, "/v3/", "/v3/[REDACTED]")
	s = strings.ReplaceAll(s, "/v2/", "/v2/[REDACTED]")

	parts := strings.Split(s, "/[REDACTED]")
	if len(parts) > 1 {
		return parts[0] + "/[REDACTED]"
	}
	return s
}
