package s3

import (
	"bufio"
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/minio/minio-go/v7/pkg/s3utils"
)

// Mock endpoint and key pair used by NewMockForTests.
const (
	MockEndpoint  = "https://mock.s3.local"
	MockAccessKey = "AKIA"
	MockSecretKey = "SECRET"
)

// NewMockForTests returns a *Store backed by an in-memory fake S3 transport.
// The fake implements the subset of the REST surface the store uses,
// including conditional headers and paged listings.
func NewMockForTests() *Store {
	s, _ := newMock(Config{})
	return s
}

// newMock builds a store over a fresh fake. Unset Config fields are filled
// with the mock endpoint, key, and path-style addressing.
func newMock(cfg Config) (*Store, *mockTransport) {
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	rt := &mockTransport{buckets: make(map[string]*mockBucket), clock: clock, calls: make(map[string]int)}
	if cfg.Account == "" {
		cfg.Account = MockEndpoint
	}
	if cfg.Credential.kind == credentialDefault {
		cfg.Credential = SharedKeyCredential(MockAccessKey, MockSecretKey)
	}
	cfg.PathStyle = true
	cfg.Clock = clock
	cfg.HTTPClient = &http.Client{Transport: rt}
	s, err := New(context.Background(), cfg)
	if err != nil {
		panic(fmt.Sprintf("s3 mock: %v", err))
	}
	return s, rt
}

type mockObject struct {
	body        []byte
	contentType string
	meta        map[string]string
	etag        string
	modified    time.Time
}

type mockBucket struct {
	created time.Time
	policy  string
	objects map[string]*mockObject
}

// mockTransport is a path-style S3 fake at the http.RoundTripper boundary.
type mockTransport struct {
	mu      sync.Mutex
	buckets map[string]*mockBucket
	clock   clockwork.Clock
	calls   map[string]int // operation name -> request count
	// fail, when set, may answer a request before the fake sees it.
	fail func(*http.Request) *http.Response
}

func (m *mockTransport) count(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

func (m *mockTransport) RoundTrip(req *http.Request) (*http.Response, error) { //nolint:cyclop
	if m.fail != nil {
		if resp := m.fail(req); resp != nil {
			return resp, nil
		}
	}
	bucket, key, _ := strings.Cut(strings.TrimPrefix(req.URL.Path, "/"), "/")
	q := req.URL.Query()
	body, err := readBody(req)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	head := req.Method == http.MethodHead
	switch {
	case bucket == "" && req.Method == http.MethodGet:
		return m.listBuckets(q), nil
	case key == "" && q.Has("policy"):
		return m.bucketPolicy(req.Method, bucket, body), nil
	case key == "" && req.Method == http.MethodGet && q.Get("list-type") == "2":
		return m.listObjects(bucket, q), nil
	case key == "":
		return m.bucketOp(req.Method, bucket, body), nil
	}
	b, ok := m.buckets[bucket]
	if !ok {
		return xmlError(http.StatusNotFound, "NoSuchBucket", bucket, head), nil
	}
	switch req.Method {
	case http.MethodHead, http.MethodGet:
		m.calls[req.Method+"Object"]++
		obj, ok := b.objects[key]
		if !ok {
			return xmlError(http.StatusNotFound, "NoSuchKey", key, head), nil
		}
		resp := response(http.StatusOK, objectHeaders(obj), nil)
		if !head {
			resp.Body = io.NopCloser(bytes.NewReader(obj.body))
		}
		return resp, nil
	case http.MethodPut:
		if src := req.Header.Get("X-Amz-Copy-Source"); src != "" {
			return m.copyObject(req, b, key, src), nil
		}
		return m.putObject(req, b, key, body), nil
	case http.MethodDelete:
		m.calls["DeleteObject"]++
		delete(b.objects, key)
		return response(http.StatusNoContent, nil, nil), nil
	}
	return xmlError(http.StatusNotImplemented, "NotImplemented", req.URL.Path, head), nil
}

// bucketOp serves bucket-level HEAD, PUT and DELETE. A PUT without a
// LocationConstraint body is a us-east-1 create, which S3 answers with 200 OK
// even when the caller already owns the bucket.
func (m *mockTransport) bucketOp(method, bucket string, body []byte) *http.Response {
	b, exists := m.buckets[bucket]
	switch method {
	case http.MethodHead:
		m.calls["HeadBucket"]++
		if !exists {
			return xmlError(http.StatusNotFound, "NotFound", bucket, true)
		}
		return response(http.StatusOK, nil, nil)
	case http.MethodPut:
		m.calls["CreateBucket"]++
		if err := s3utils.CheckValidBucketNameStrict(bucket); err != nil {
			return xmlError(http.StatusBadRequest, "InvalidBucketName", bucket, false)
		}
		if exists && len(bytes.TrimSpace(body)) == 0 {
			return response(http.StatusOK, http.Header{"Location": {"/" + bucket}}, nil)
		}
		if exists {
			return xmlError(http.StatusConflict, "BucketAlreadyOwnedByYou", bucket, false)
		}
		m.buckets[bucket] = &mockBucket{created: m.clock.Now().UTC(), objects: make(map[string]*mockObject)}
		return response(http.StatusOK, http.Header{"Location": {"/" + bucket}}, nil)
	case http.MethodDelete:
		m.calls["DeleteBucket"]++
		if !exists {
			return xmlError(http.StatusNotFound, "NoSuchBucket", bucket, false)
		}
		if len(b.objects) > 0 {
			return xmlError(http.StatusConflict, "BucketNotEmpty", bucket, false)
		}
		delete(m.buckets, bucket)
		return response(http.StatusNoContent, nil, nil)
	}
	return xmlError(http.StatusNotImplemented, "NotImplemented", bucket, method == http.MethodHead)
}

func (m *mockTransport) bucketPolicy(method, bucket string, body []byte) *http.Response {
	b, ok := m.buckets[bucket]
	if !ok {
		return xmlError(http.StatusNotFound, "NoSuchBucket", bucket, false)
	}
	switch method {
	case http.MethodGet:
		if b.policy == "" {
			return xmlError(http.StatusNotFound, "NoSuchBucketPolicy", bucket, false)
		}
		return response(http.StatusOK, http.Header{"Content-Type": {"application/json"}}, []byte(b.policy))
	case http.MethodPut:
		b.policy = string(body)
		return response(http.StatusNoContent, nil, nil)
	case http.MethodDelete:
		b.policy = ""
		return response(http.StatusNoContent, nil, nil)
	}
	return xmlError(http.StatusNotImplemented, "NotImplemented", bucket, false)
}

type xmlBucket struct {
	Name         string `xml:"Name"`
	CreationDate string `xml:"CreationDate"`
}

type xmlListBuckets struct {
	XMLName           xml.Name    `xml:"ListAllMyBucketsResult"`
	Buckets           []xmlBucket `xml:"Buckets>Bucket"`
	ContinuationToken string      `xml:"ContinuationToken,omitempty"`
}

// listBuckets returns buckets by name; the continuation token is the last
// name on the page.
func (m *mockTransport) listBuckets(q url.Values) *http.Response {
	m.calls["ListBuckets"]++
	names := make([]string, 0, len(m.buckets))
	for name := range m.buckets {
		if name > q.Get("continuation-token") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	var out xmlListBuckets
	if limit, _ := strconv.Atoi(q.Get("max-buckets")); limit > 0 && len(names) > limit {
		names = names[:limit]
		out.ContinuationToken = names[limit-1]
	}
	for _, name := range names {
		out.Buckets = append(out.Buckets, xmlBucket{Name: name, CreationDate: isoTime(m.buckets[name].created)})
	}
	return xmlResponse(out)
}

type xmlContents struct {
	Key          string `xml:"Key"`
	LastModified string `xml:"LastModified"`
	ETag         string `xml:"ETag"`
	Size         int64  `xml:"Size"`
	StorageClass string `xml:"StorageClass"`
}

type xmlListObjects struct {
	XMLName               xml.Name      `xml:"ListBucketResult"`
	Name                  string        `xml:"Name"`
	Prefix                string        `xml:"Prefix"`
	KeyCount              int           `xml:"KeyCount"`
	MaxKeys               int           `xml:"MaxKeys"`
	IsTruncated           bool          `xml:"IsTruncated"`
	NextContinuationToken string        `xml:"NextContinuationToken,omitempty"`
	Contents              []xmlContents `xml:"Contents"`
}

func (m *mockTransport) listObjects(bucket string, q url.Values) *http.Response {
	m.calls["ListObjectsV2"]++
	b, ok := m.buckets[bucket]
	if !ok {
		return xmlError(http.StatusNotFound, "NoSuchBucket", bucket, false)
	}
	prefix, after := q.Get("prefix"), q.Get("continuation-token")
	var keys []string
	for k := range b.objects {
		if strings.HasPrefix(k, prefix) && k > after {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	out := xmlListObjects{Name: bucket, Prefix: prefix, MaxKeys: 1000}
	if limit, _ := strconv.Atoi(q.Get("max-keys")); limit > 0 {
		out.MaxKeys = limit
	}
	if len(keys) > out.MaxKeys {
		keys = keys[:out.MaxKeys]
		out.IsTruncated = true
		out.NextContinuationToken = keys[len(keys)-1]
	}
	for _, k := range keys {
		obj := b.objects[k]
		out.Contents = append(out.Contents, xmlContents{
			Key:          k,
			LastModified: isoTime(obj.modified),
			ETag:         quote(obj.etag),
			Size:         int64(len(obj.body)),
			StorageClass: "STANDARD",
		})
	}
	out.KeyCount = len(out.Contents)
	return xmlResponse(out)
}

func (m *mockTransport) putObject(req *http.Request, b *mockBucket, key string, body []byte) *http.Response {
	m.calls["PutObject"]++
	prev, exists := b.objects[key]
	if req.Header.Get("If-None-Match") == "*" && exists {
		return xmlError(http.StatusPreconditionFailed, "PreconditionFailed", key, false)
	}
	if want := req.Header.Get("If-Match"); want != "" {
		if !exists {
			return xmlError(http.StatusNotFound, "NoSuchKey", key, false)
		}
		if unquote(want) != prev.etag {
			return xmlError(http.StatusPreconditionFailed, "PreconditionFailed", key, false)
		}
	}
	obj := &mockObject{
		body:        body,
		contentType: req.Header.Get("Content-Type"),
		meta:        requestMeta(req.Header),
		etag:        md5Hex(body),
		modified:    m.clock.Now().UTC(),
	}
	b.objects[key] = obj
	h := http.Header{}
	h.Set("ETag", quote(obj.etag))
	return response(http.StatusOK, h, nil)
}

type xmlCopyResult struct {
	XMLName      xml.Name `xml:"CopyObjectResult"`
	ETag         string   `xml:"ETag"`
	LastModified string   `xml:"LastModified"`
}

func (m *mockTransport) copyObject(req *http.Request, dst *mockBucket, key, rawSrc string) *http.Response {
	m.calls["CopyObject"]++
	src, err := url.PathUnescape(rawSrc)
	if err != nil {
		return xmlError(http.StatusBadRequest, "InvalidArgument", rawSrc, false)
	}
	srcBucket, srcKey, _ := strings.Cut(strings.TrimPrefix(src, "/"), "/")
	sb, ok := m.buckets[srcBucket]
	if !ok {
		return xmlError(http.StatusNotFound, "NoSuchBucket", srcBucket, false)
	}
	from, ok := sb.objects[srcKey]
	if !ok {
		return xmlError(http.StatusNotFound, "NoSuchKey", srcKey, false)
	}
	if want := req.Header.Get("X-Amz-Copy-Source-If-Match"); want != "" && unquote(want) != from.etag {
		return xmlError(http.StatusPreconditionFailed, "PreconditionFailed", srcKey, false)
	}
	obj := &mockObject{
		body:        append([]byte(nil), from.body...),
		contentType: from.contentType,
		meta:        from.meta,
		etag:        from.etag,
		modified:    m.clock.Now().UTC(),
	}
	if strings.EqualFold(req.Header.Get("X-Amz-Metadata-Directive"), "REPLACE") {
		obj.contentType = req.Header.Get("Content-Type")
		obj.meta = requestMeta(req.Header)
	}
	dst.objects[key] = obj
	return xmlResponse(xmlCopyResult{ETag: quote(obj.etag), LastModified: isoTime(obj.modified)})
}

type xmlErrorBody struct {
	XMLName   xml.Name `xml:"Error"`
	Code      string   `xml:"Code"`
	Message   string   `xml:"Message"`
	Resource  string   `xml:"Resource"`
	RequestID string   `xml:"RequestId"`
}

// xmlError mimics S3 error responses. HEAD responses never carry a body.
func xmlError(status int, code, resource string, head bool) *http.Response {
	if head {
		return response(status, nil, nil)
	}
	b, _ := xml.Marshal(xmlErrorBody{Code: code, Message: code, Resource: resource, RequestID: "mock"})
	return response(status, http.Header{"Content-Type": {"application/xml"}}, append([]byte(xml.Header), b...))
}

func xmlResponse(v any) *http.Response {
	b, err := xml.Marshal(v)
	if err != nil {
		return xmlError(http.StatusInternalServerError, "InternalError", err.Error(), false)
	}
	return response(http.StatusOK, http.Header{"Content-Type": {"application/xml"}}, append([]byte(xml.Header), b...))
}

func response(status int, h http.Header, body []byte) *http.Response {
	if h == nil {
		h = http.Header{}
	}
	h.Set("X-Amz-Request-Id", "mock")
	return &http.Response{
		StatusCode:    status,
		Status:        fmt.Sprintf("%d %s", status, http.StatusText(status)),
		Header:        h,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
	}
}

func objectHeaders(obj *mockObject) http.Header {
	h := http.Header{
		"Content-Length": {strconv.Itoa(len(obj.body))},
		"Content-Type":   {obj.contentType},
		"Etag":           {quote(obj.etag)},
		"Last-Modified":  {obj.modified.Format(http.TimeFormat)},
	}
	for k, v := range obj.meta {
		h.Set("X-Amz-Meta-"+k, v)
	}
	return h
}

func requestMeta(h http.Header) map[string]string {
	meta := make(map[string]string)
	for k, v := range h {
		lk := strings.ToLower(k)
		if strings.HasPrefix(lk, "x-amz-meta-") && len(v) > 0 {
			meta[strings.TrimPrefix(lk, "x-amz-meta-")] = v[0]
		}
	}
	return meta
}

func readBody(req *http.Request) ([]byte, error) {
	if req.Body == nil {
		return nil, nil
	}
	defer req.Body.Close()
	body, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, err
	}
	if strings.Contains(req.Header.Get("Content-Encoding"), "aws-chunked") || req.Header.Get("X-Amz-Decoded-Content-Length") != "" {
		return decodeChunked(body)
	}
	return body, nil
}

// decodeChunked strips aws-chunked framing: "<hex>[;ext]\r\n<data>\r\n"
// repeated until a zero-length chunk, followed by optional trailers.
func decodeChunked(b []byte) ([]byte, error) {
	r := bufio.NewReader(bytes.NewReader(b))
	var out []byte
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("aws-chunked: %w", err)
		}
		sizeHex, _, _ := strings.Cut(strings.TrimRight(line, "\r\n"), ";")
		size, err := strconv.ParseInt(strings.TrimSpace(sizeHex), 16, 64)
		if err != nil {
			return nil, fmt.Errorf("aws-chunked size %q: %w", sizeHex, err)
		}
		if size == 0 {
			return out, nil
		}
		chunk := make([]byte, size)
		if _, err := io.ReadFull(r, chunk); err != nil {
			return nil, fmt.Errorf("aws-chunked: %w", err)
		}
		out = append(out, chunk...)
		if _, err := r.ReadString('\n'); err != nil {
			return nil, fmt.Errorf("aws-chunked: %w", err)
		}
	}
}

func md5Hex(b []byte) string {
	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:])
}

func isoTime(t time.Time) string { return t.UTC().Format("2006-01-02T15:04:05.000Z") }
