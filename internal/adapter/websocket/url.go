package websocket

import "net/url"

// OriginFor returns the scheme://host origin of rawURL, or "" when rawURL
// has no host. The game server expects the origin of the web app, which is
// the backend's.
func OriginFor(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

// redact masks the token query parameter so dial errors can be logged.
func redact(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "<invalid url>"
	}
	q := u.Query()
	if q.Has("token") {
		q.Set("token", "REDACTED")
		u.RawQuery = q.Encode()
	}
	return u.String()
}
