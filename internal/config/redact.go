package config

import (
	"net/url"
	"strings"
)

const redactedPassword = "***"

// RedactURL replaces the password in a PostgreSQL connection URL with "***".
// If the URL cannot be parsed or has no password, it is returned unchanged.
func RedactURL(raw string) string {
	if raw == "" {
		return ""
	}

	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}

	if _, hasPassword := u.User.Password(); !hasPassword {
		return raw
	}

	// url.URL escapes '*' inside userinfo, so the marker is spliced in
	// after re-encoding the URL with the username only.
	u.User = url.User(u.User.Username())
	prefix := u.Scheme + "://" + u.User.String()

	return prefix + ":" + redactedPassword + strings.TrimPrefix(u.String(), prefix)
}
