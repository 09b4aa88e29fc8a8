package util

import (
	"net/url"
	"strings"
)

// RedactDSN hides the password in a connection string. URL forms
// ("postgres://u:p@h/db") and go-sql-driver forms ("u:p@tcp(h)/db") are
// handled; anything else, such as a sqlite path, is returned unchanged.
func RedactDSN(dsn string) string {
	if strings.Contains(dsn, "://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return dsn
		}
		return u.Redacted()
	}

	at := strings.LastIndex(dsn, "@")
	if at < 0 {
		return dsn
	}
	creds := dsn[:at]
	colon := strings.Index(creds, ":")
	if colon < 0 {
		return dsn
	}
	return creds[:colon+1] + "***" + dsn[at:]
}
