package s3

import (
	"fmt"
	"net/url"
	"strings"
)

// DefaultEndpointSuffix completes bare account names.
const DefaultEndpointSuffix = "s3.amazonaws.com"

// NormalizeAccountURL turns an account name, host, or URL into an absolute
// base URL ending in "/":
//
//	""                    -> https://<suffix>/
//	"acct"                -> https://acct.<suffix>/
//	"minio.local:9000"    -> https://minio.local:9000/
//	"http://127.0.0.1:9000" unchanged apart from the trailing slash
func NormalizeAccountURL(account, suffix string) (*url.URL, error) {
	if suffix == "" {
		suffix = DefaultEndpointSuffix
	}
	account = strings.TrimSpace(account)
	var raw string
	switch {
	case account == "":
		raw = "https://" + suffix + "/"
	case strings.Contains(account, "://"):
		raw = account
	case !strings.ContainsAny(account, ".:/"):
		raw = "https://" + account + "." + suffix + "/"
	default:
		raw = "https://" + account
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("account url: %w", err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("account url %q has no host", account)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	return u, nil
}
