package crypto

// Baseline security headers applied to every response. Overrides from the
// caller win over the baseline; an override with an empty value removes the
// header entirely.
var baselineSecurityHeaders = map[string]string{
	"X-Content-Type-Options":    "nosniff",
	"X-Frame-Options":           "DENY",
	"Strict-Transport-Security": "max-age=31536000; includeSubDomains",
	"Content-Security-Policy":   "default-src 'none'; frame-ancestors 'none'",
	"Permissions-Policy":        "camera=(), microphone=(), geolocation=()",
	"Referrer-Policy":           "no-referrer",
}

// SecurityHeaders returns the baseline header set merged with overrides.
func SecurityHeaders(overrides map[string]string) map[string]string {
	headers := make(map[string]string, len(baselineSecurityHeaders)+len(overrides))
	for name, value := range baselineSecurityHeaders {
		headers[name] = value
	}
	for name, value := range overrides {
		if value == "" {
			delete(headers, name)
			continue
		}
		headers[name] = value
	}
	return headers
}
