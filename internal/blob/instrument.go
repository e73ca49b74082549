package blob

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// OutcomeOK is the outcome reported for calls that returned no error. Failed
// calls report their error kind.
const OutcomeOK = "ok"

// MetricsRecorder receives one observation per backend call.
type MetricsRecorder interface {
	Observe(ctx context.Context, driver, operation, outcome string, duration time.Duration)
}

// Instrumented wraps a Store, timing every call and logging failures.
type Instrumented struct {
	Store
	metrics MetricsRecorder
	log     zerolog.Logger
	now     func() time.Time
}

// Instrument wraps store. A nil recorder only logs.
func Instrument(store Store, metrics MetricsRecorder, log zerolog.Logger) *Instrumented {
	return &Instrumented{Store: store, metrics: metrics, log: log, now: time.Now}
}

func (s *Instrumented) observe(ctx context.Context, op string, started time.Time, err error) {
	elapsed := s.now().Sub(started)
	outcome := OutcomeOK
	if err != nil {
		outcome = string(KindOf(err))
		s.log.Warn().Err(err).Str("op", op).Str("kind", outcome).Dur("elapsed", elapsed).Msg("blob call failed")
	} else {
		s.log.Debug().Str("op", op).Dur("elapsed", elapsed).Msg("blob call")
	}
	if s.metrics != nil {
		s.metrics.Observe(ctx, string(s.Store.Driver()), op, outcome, elapsed)
	}
}

func (s *Instrumented) AccountURL(ctx context.Context, opts URLOptions) (u string, err error) {
	defer func(t time.Time) { s.observe(ctx, "AccountURL", t, err) }(s.now())
	return s.Store.AccountURL(ctx, opts)
}

func (s *Instrumented) ContainerURL(ctx context.Context, name string, opts URLOptions) (u string, err error) {
	defer func(t time.Time) { s.observe(ctx, "ContainerURL", t, err) }(s.now())
	return s.Store.ContainerURL(ctx, name, opts)
}

func (s *Instrumented) BlobURL(ctx context.Context, p Path, opts URLOptions) (u string, err error) {
	defer func(t time.Time) { s.observe(ctx, "BlobURL", t, err) }(s.now())
	return s.Store.BlobURL(ctx, p, opts)
}

func (s *Instrumented) ContainerExists(ctx context.Context, name string) (ok bool, err error) {
	defer func(t time.Time) { s.observe(ctx, "ContainerExists", t, err) }(s.now())
	return s.Store.ContainerExists(ctx, name)
}

func (s *Instrumented) CreateContainer(ctx context.Context, name string, policy AccessPolicy) (ok bool, err error) {
	defer func(t time.Time) { s.observe(ctx, "CreateContainer", t, err) }(s.now())
	return s.Store.CreateContainer(ctx, name, policy)
}

func (s *Instrumented) DeleteContainer(ctx context.Context, name string) (ok bool, err error) {
	defer func(t time.Time) { s.observe(ctx, "DeleteContainer", t, err) }(s.now())
	return s.Store.DeleteContainer(ctx, name)
}

func (s *Instrumented) ListContainers(ctx context.Context) (out []ContainerInfo, err error) {
	defer func(t time.Time) { s.observe(ctx, "ListContainers", t, err) }(s.now())
	return s.Store.ListContainers(ctx)
}

func (s *Instrumented) ContainerAccessPolicy(ctx context.Context, name string) (p AccessPolicy, err error) {
	defer func(t time.Time) { s.observe(ctx, "ContainerAccessPolicy", t, err) }(s.now())
	return s.Store.ContainerAccessPolicy(ctx, name)
}

func (s *Instrumented) SetContainerAccessPolicy(ctx context.Context, name string, policy AccessPolicy) (err error) {
	defer func(t time.Time) { s.observe(ctx, "SetContainerAccessPolicy", t, err) }(s.now())
	return s.Store.SetContainerAccessPolicy(ctx, name, policy)
}

func (s *Instrumented) ListBlobs(ctx context.Context, container, prefix string) (out []BlobInfo, err error) {
	defer func(t time.Time) { s.observe(ctx, "ListBlobs", t, err) }(s.now())
	return s.Store.ListBlobs(ctx, container, prefix)
}

func (s *Instrumented) BlobExists(ctx context.Context, p Path) (ok bool, err error) {
	defer func(t time.Time) { s.observe(ctx, "BlobExists", t, err) }(s.now())
	return s.Store.BlobExists(ctx, p)
}

func (s *Instrumented) BlobProperties(ctx context.Context, p Path) (props Properties, err error) {
	defer func(t time.Time) { s.observe(ctx, "BlobProperties", t, err) }(s.now())
	return s.Store.BlobProperties(ctx, p)
}

func (s *Instrumented) BlobContents(ctx context.Context, p Path) (c Contents, err error) {
	defer func(t time.Time) { s.observe(ctx, "BlobContents", t, err) }(s.now())
	return s.Store.BlobContents(ctx, p)
}

func (s *Instrumented) CreateOverwriteBlob(ctx context.Context, p Path, opts CreateOptions) (res CreateResult, err error) {
	defer func(t time.Time) { s.observe(ctx, "CreateOverwriteBlob", t, err) }(s.now())
	return s.Store.CreateOverwriteBlob(ctx, p, opts)
}

func (s *Instrumented) CreateAppendBlob(ctx context.Context, p Path, opts CreateOptions) (res CreateResult, err error) {
	defer func(t time.Time) { s.observe(ctx, "CreateAppendBlob", t, err) }(s.now())
	return s.Store.CreateAppendBlob(ctx, p, opts)
}

func (s *Instrumented) SetOverwriteBlobContents(ctx context.Context, p Path, content string, opts WriteOptions) (res WriteResult, err error) {
	defer func(t time.Time) { s.observe(ctx, "SetOverwriteBlobContents", t, err) }(s.now())
	return s.Store.SetOverwriteBlobContents(ctx, p, content, opts)
}

func (s *Instrumented) AppendBlobContents(ctx context.Context, p Path, content string, opts AppendOptions) (res AppendResult, err error) {
	defer func(t time.Time) { s.observe(ctx, "AppendBlobContents", t, err) }(s.now())
	return s.Store.AppendBlobContents(ctx, p, content, opts)
}

func (s *Instrumented) BlobContentType(ctx context.Context, p Path) (ct string, err error) {
	defer func(t time.Time) { s.observe(ctx, "BlobContentType", t, err) }(s.now())
	return s.Store.BlobContentType(ctx, p)
}

func (s *Instrumented) SetBlobContentType(ctx context.Context, p Path, contentType string) (err error) {
	defer func(t time.Time) { s.observe(ctx, "SetBlobContentType", t, err) }(s.now())
	return s.Store.SetBlobContentType(ctx, p, contentType)
}

func (s *Instrumented) DeleteBlob(ctx context.Context, p Path) (ok bool, err error) {
	defer func(t time.Time) { s.observe(ctx, "DeleteBlob", t, err) }(s.now())
	return s.Store.DeleteBlob(ctx, p)
}
