package logging

import (
	"net/url"
	"strings"
)

// Header names whose values must never reach a log line.
var redactedHeaders = map[string]struct{}{
	"authorization": {},
	"cookie":        {},
	"set-cookie":    {},
	"x-api-key":     {},
}

// Query parameter name fragments that trigger redaction.
var sensitiveParamFragments = []string{
	"token", "key", "secret", "password", "credential",
}

// RedactHeaderValue returns "[REDACTED]" for sensitive headers and the
// original value otherwise.
func RedactHeaderValue(name, value string) string {
	if _, ok := redactedHeaders[strings.ToLower(name)]; ok {
		return "[REDACTED]"
	}
	return value
}

// IsSensitiveParam reports whether a query parameter name matches the
// redaction rule (contains token|key|secret|password|credential,
// case-insensitive).
func IsSensitiveParam(name string) bool {
	lower := strings.ToLower(name)
	for _, frag := range sensitiveParamFragments {
		if strings.Contains(lower, frag) {
			return true
		}
	}
	return false
}

// RedactQuery rewrites a raw query string with sensitive parameter values
// replaced. Malformed queries are dropped entirely rather than logged.
func RedactQuery(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return "[REDACTED]"
	}
	out := url.Values{}
	for name, vals := range values {
		if IsSensitiveParam(name) {
			out[name] = []string{"[REDACTED]"}
			continue
		}
		out[name] = vals
	}
	return out.Encode()
}

// RedactURL returns the path plus a redacted query for request logging.
func RedactURL(u *url.URL) string {
	q := RedactQuery(u.RawQuery)
	if q == "" {
		return u.Path
	}
	return u.Path + "?" + q
}
