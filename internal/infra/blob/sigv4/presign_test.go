package sigv4

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"blobkit/internal/blob/core"
)

var testKey = Key{ID: "AKIATEST", Secret: "test-secret"}

func TestPresignParameters(t *testing.T) {
	target, _ := url.Parse("https://acct.example.com/box/a%20b.txt")
	start := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)
	q, err := Presign(context.Background(), testKey, "", target, start, 30*time.Minute)
	if err != nil {
		t.Fatalf("Presign: %v", err)
	}
	want := map[string]string{
		"X-Amz-Algorithm":     "AWS4-HMAC-SHA256",
		"X-Amz-Credential":    "AKIATEST/20300102/us-east-1/s3/aws4_request",
		"X-Amz-Date":          "20300102T030405Z",
		"X-Amz-Expires":       "1800",
		"X-Amz-SignedHeaders": "host",
	}
	for k, v := range want {
		if got := q.Get(k); got != v {
			t.Fatalf("%s = %q, want %q", k, got, v)
		}
	}
	sig := q.Get("X-Amz-Signature")
	if len(sig) != 64 {
		t.Fatalf("signature %q", sig)
	}

	again, err := Presign(context.Background(), testKey, "", target, start, 30*time.Minute)
	if err != nil || again.Get("X-Amz-Signature") != sig {
		t.Fatalf("signing is deterministic for fixed inputs")
	}
	other, err := Presign(context.Background(), Key{ID: "AKIATEST", Secret: "other"}, "", target, start, 30*time.Minute)
	if err != nil || other.Get("X-Amz-Signature") == sig {
		t.Fatalf("signature must depend on the secret")
	}
}

func TestPresignRejectsBadInput(t *testing.T) {
	target, _ := url.Parse("https://acct.example.com/box/x")
	now := time.Now()
	if _, err := Presign(context.Background(), Key{ID: "only-id"}, "", target, now, time.Minute); err == nil {
		t.Fatalf("expected empty key error")
	}
	for _, expiry := range []time.Duration{0, -time.Second, 8 * 24 * time.Hour} {
		if _, err := Presign(context.Background(), testKey, "", target, now, expiry); err == nil {
			t.Fatalf("expiry %s should be rejected", expiry)
		}
	}
}

func TestBuildURL(t *testing.T) {
	ctx := context.Background()
	base, _ := url.Parse("https://acct.example.com/?existing=1")
	clock := clockwork.NewFakeClockAt(time.Date(2031, 5, 6, 7, 8, 9, 0, time.UTC))
	s := Signer{Key: testKey, Region: "eu-west-1", Clock: clock}

	plain, err := s.BuildURL(ctx, base, "box", "a b", core.URLOptions{})
	if err != nil || plain != "https://acct.example.com/box/a%20b" {
		t.Fatalf("plain: %s %v", plain, err)
	}
	signed, err := s.BuildURL(ctx, base, "box", "a b", core.URLOptions{IncludeSignature: true, EncodeObjectName: true})
	if err != nil {
		t.Fatalf("signed: %v", err)
	}
	u, _ := url.Parse(signed)
	q := u.Query()
	if q.Get("existing") != "1" || q.Get("X-Amz-Date") != "20310506T070809Z" || q.Get("X-Amz-Expires") != "3600" {
		t.Fatalf("signed query: %v", q)
	}
	if !strings.Contains(q.Get("X-Amz-Credential"), "/eu-west-1/s3/") {
		t.Fatalf("credential scope: %s", q.Get("X-Amz-Credential"))
	}

	if _, err := (Signer{}).BuildURL(ctx, base, "box", "x", core.URLOptions{IncludeSignature: true}); !errors.Is(err, core.ErrSigningKeyRequired) {
		t.Fatalf("expected ErrSigningKeyRequired, got %v", err)
	}
}
