package core

import (
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7/pkg/s3utils"
)

// ValidateContainerName rejects names the service would refuse. Casing is
// checked first so a mixed-case name is always InvalidResourceName, whether
// or not a lower-cased twin exists.
func ValidateContainerName(op, name string) error {
	if name == "" || name != strings.ToLower(name) {
		return NewError(KindInvalidResourceName, op, name, nil)
	}
	if err := s3utils.CheckValidBucketNameStrict(name); err != nil {
		return NewError(KindInvalidResourceName, op, name, err)
	}
	return nil
}

// ValidateBlobPath checks the container name, then requires a non-empty
// object name.
func ValidateBlobPath(op string, p Path) error {
	if err := ValidateContainerName(op, p.Container); err != nil {
		return err
	}
	if p.Object == "" {
		return NewError(KindInvalidURI, op, p.String(), nil)
	}
	return nil
}

// JoinURL appends container and object segments to the account URL. The
// object segment is percent-encoded when encode is set. The base query is
// kept; callers strip it when they need to.
func JoinURL(base *url.URL, container, object string, encode bool) *url.URL {
	u := *base
	prefix := strings.TrimSuffix(u.Path, "/") + "/"
	if container == "" {
		u.Path = prefix
		u.RawPath = ""
		return &u
	}
	path := prefix + container
	if object != "" {
		path += "/" + object
	}
	u.Path = path
	u.RawPath = ""
	if encode && object != "" {
		u.RawPath = prefix + container + "/" + s3utils.EncodePath(object)
	}
	return &u
}

// StripQuery returns a copy of u without query or fragment.
func StripQuery(u *url.URL) *url.URL {
	c := *u
	c.RawQuery = ""
	c.Fragment = ""
	c.RawFragment = ""
	return &c
}

// AddQuery copies every value in q onto u as an individual parameter.
func AddQuery(u *url.URL, q url.Values) *url.URL {
	c := *u
	existing := c.Query()
	for k, vs := range q {
		existing.Del(k)
		for _, v := range vs {
			existing.Add(k, v)
		}
	}
	c.RawQuery = existing.Encode()
	return &c
}
