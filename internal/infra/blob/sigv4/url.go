package sigv4

import (
	"context"
	"net/url"
	"time"

	"blobkit/internal/blob/core"

	"github.com/jonboulle/clockwork"
)

// Signer mints signatures for URLs built by a backend. A zero Key means the
// backend holds no key credential.
type Signer struct {
	Key    Key
	Region string
	Clock  clockwork.Clock
}

// BuildURL joins container and object onto base and applies opts: without
// IncludeSignature the query is stripped; with it the base query is kept and
// fresh signature parameters are added one by one.
func (s Signer) BuildURL(ctx context.Context, base *url.URL, container, object string, opts core.URLOptions) (string, error) {
	u := core.JoinURL(base, container, object, opts.EncodeObjectName)
	if !opts.IncludeSignature {
		return core.StripQuery(u).String(), nil
	}
	if !s.Key.Valid() {
		return "", core.ErrSigningKeyRequired
	}
	start := opts.Start
	if start.IsZero() {
		start = s.now()
	}
	expiry := opts.Expiry
	if expiry <= 0 {
		expiry = core.DefaultSignatureExpiry
	}
	q, err := Presign(ctx, s.Key, s.Region, core.StripQuery(u), start, expiry)
	if err != nil {
		return "", err
	}
	return core.AddQuery(u, q).String(), nil
}

func (s Signer) now() time.Time {
	if s.Clock == nil {
		return time.Now()
	}
	return s.Clock.Now()
}
