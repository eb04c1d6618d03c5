package httpx

import "net/url"

// secretParams are query parameters scrubbed from URLs before they reach
// logs or error messages.
var secretParams = []string{"apiKey", "api_key", "token"}

// Redact returns raw with secret query parameter values replaced by "REDACTED".
// Unparseable input is returned unchanged.
func Redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	changed := false
	for _, p := range secretParams {
		if q.Has(p) {
			q.Set(p, "REDACTED")
			changed = true
		}
	}
	if !changed {
		return raw
	}
	u.RawQuery = q.Encode()
	return u.String()
}
