// Package sigv4 mints read-only query signatures for blob URLs using AWS
// Signature Version 4, so simulated backends hand out URLs shaped exactly
// like the S3 driver's presigned URLs.
package sigv4

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
)

const (
	// DefaultRegion is used when a simulated backend has no region configured.
	DefaultRegion = "us-east-1"
	service       = "s3"
	unsignedBody  = "UNSIGNED-PAYLOAD"
	// maxExpiry is the longest lifetime SigV4 accepts.
	maxExpiry = 7 * 24 * time.Hour
)

// Key is a shared key credential.
type Key struct {
	ID     string
	Secret string
}

// Valid reports whether both halves of the key are present.
func (k Key) Valid() bool { return k.ID != "" && k.Secret != "" }

// Presign signs a GET of target starting at start for expiry and returns the
// signed query parameters individually.
func Presign(ctx context.Context, key Key, region string, target *url.URL, start time.Time, expiry time.Duration) (url.Values, error) {
	if !key.Valid() {
		return nil, fmt.Errorf("presign: empty key")
	}
	if expiry <= 0 || expiry > maxExpiry {
		return nil, fmt.Errorf("presign: expiry %s out of range", expiry)
	}
	if region == "" {
		region = DefaultRegion
	}
	u := *target
	q := u.Query()
	q.Set("X-Amz-Expires", strconv.FormatInt(int64(expiry/time.Second), 10))
	u.RawQuery = q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("presign: %w", err)
	}
	creds := aws.Credentials{AccessKeyID: key.ID, SecretAccessKey: key.Secret, Source: "blobkit"}
	signed, _, err := v4.NewSigner().PresignHTTP(ctx, creds, req, unsignedBody, service, region, start.UTC(), func(o *v4.SignerOptions) {
		// S3 signs the path as sent, without a second escaping pass.
		o.DisableURIPathEscaping = true
	})
	if err != nil {
		return nil, fmt.Errorf("presign: %w", err)
	}
	su, err := url.Parse(signed)
	if err != nil {
		return nil, fmt.Errorf("presign: %w", err)
	}
	return su.Query(), nil
}
