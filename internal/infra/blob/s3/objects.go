package s3

import (
	"blobkit/internal/blob/core"
	"context"
	"io"
	"strconv"
	"strings"
	"time"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/minio/minio-go/v7/pkg/s3utils"
)

// User metadata keys. The SDK lower-cases metadata keys on read.
const (
	metaBlobType = "blob-type"
	// metaGeneration counts mutations of the object and is bumped by every
	// write, append and content type change.
	metaGeneration = "generation"
)

// writeAttempts bounds how often an unconditional write is retried after
// losing a race to another writer.
const writeAttempts = 3

// object is what a HEAD or GET tells us about a blob.
type object struct {
	props core.Properties
	raw   string // service ETag, unquoted
	gen   uint64
	meta  map[string]string
	body  []byte
}

// ListBlobs lists the objects of a bucket whose key starts with prefix.
func (s *Store) ListBlobs(ctx context.Context, container, prefix string) ([]core.BlobInfo, error) {
	const op = "ListBlobs"
	if err := core.ValidateContainerName(op, container); err != nil {
		return nil, err
	}
	return s.listKeys(ctx, op, container, prefix)
}

// listKeys pages through ListObjectsV2. Listings carry no user metadata, so
// blob type, content type and the version token are left empty.
func (s *Store) listKeys(ctx context.Context, op, container, prefix string) ([]core.BlobInfo, error) {
	var infos []core.BlobInfo
	var token *string
	for {
		in := &s3.ListObjectsV2Input{Bucket: aws.String(container), ContinuationToken: token}
		if prefix != "" {
			in.Prefix = aws.String(prefix)
		}
		if s.pageSize > 0 {
			in.MaxKeys = aws.Int32(s.pageSize)
		}
		out, err := s.client.ListObjectsV2(ctx, in)
		if err != nil {
			return nil, mapError(op, container, containerEndpoint, err)
		}
		for _, obj := range out.Contents {
			infos = append(infos, core.BlobInfo{
				Path: core.Path{Container: container, Object: aws.ToString(obj.Key)},
				Properties: core.Properties{
					Size:         aws.ToInt64(obj.Size),
					LastModified: aws.ToTime(obj.LastModified),
				},
			})
		}
		if !aws.ToBool(out.IsTruncated) || aws.ToString(out.NextContinuationToken) == "" {
			break
		}
		token = out.NextContinuationToken
	}
	return infos, nil
}

// BlobExists issues a HEAD; a 404 of either kind reads as false.
func (s *Store) BlobExists(ctx context.Context, p core.Path) (bool, error) {
	const op = "BlobExists"
	if err := core.ValidateBlobPath(op, p); err != nil {
		return false, err
	}
	if _, err := s.head(ctx, op, p); err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// BlobProperties reads the object headers.
func (s *Store) BlobProperties(ctx context.Context, p core.Path) (core.Properties, error) {
	const op = "BlobProperties"
	if err := core.ValidateBlobPath(op, p); err != nil {
		return core.Properties{}, err
	}
	obj, err := s.head(ctx, op, p)
	if err != nil {
		return core.Properties{}, err
	}
	return obj.props, nil
}

// BlobContents downloads the whole object.
func (s *Store) BlobContents(ctx context.Context, p core.Path) (core.Contents, error) {
	const op = "BlobContents"
	if err := core.ValidateBlobPath(op, p); err != nil {
		return core.Contents{}, err
	}
	obj, err := s.get(ctx, op, p, blobReadEndpoint)
	if err != nil {
		return core.Contents{}, err
	}
	return core.Contents{Contents: string(obj.body), ETag: obj.props.ETag}, nil
}

// BlobContentType reads the Content-Type header with a HEAD.
func (s *Store) BlobContentType(ctx context.Context, p core.Path) (string, error) {
	const op = "BlobContentType"
	if err := core.ValidateBlobPath(op, p); err != nil {
		return "", err
	}
	obj, err := s.head(ctx, op, p)
	if err != nil {
		return "", err
	}
	return obj.props.ContentType, nil
}

// CreateOverwriteBlob creates an empty overwrite-style object unless the key
// is taken.
func (s *Store) CreateOverwriteBlob(ctx context.Context, p core.Path, opts core.CreateOptions) (core.CreateResult, error) {
	return s.create(ctx, "CreateOverwriteBlob", p, core.BlobTypeOverwrite, opts)
}

// CreateAppendBlob creates an empty append-style object unless the key is
// taken.
func (s *Store) CreateAppendBlob(ctx context.Context, p core.Path, opts core.CreateOptions) (core.CreateResult, error) {
	return s.create(ctx, "CreateAppendBlob", p, core.BlobTypeAppend, opts)
}

// create writes an empty object with If-None-Match: * so an existing blob is
// never clobbered.
func (s *Store) create(ctx context.Context, op string, p core.Path, typ core.BlobType, opts core.CreateOptions) (core.CreateResult, error) {
	if err := core.ValidateBlobPath(op, p); err != nil {
		return core.CreateResult{}, err
	}
	ct := opts.ContentType
	if ct == "" {
		ct = core.DefaultContentType
	}
	out, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(p.Container),
		Key:         aws.String(p.Object),
		Body:        strings.NewReader(""),
		ContentType: aws.String(ct),
		Metadata:    withGeneration(nil, typ, 1),
		IfNoneMatch: aws.String("*"),
	})
	if err != nil {
		err = mapError(op, p.String(), blobEndpoint, err)
		if core.IsKind(err, core.KindConditionNotMet) {
			return core.CreateResult{Created: false}, nil
		}
		return core.CreateResult{}, err
	}
	return core.CreateResult{Created: true, ETag: versionToken(aws.ToString(out.ETag), 1)}, nil
}

// SetOverwriteBlobContents replaces the object. The caller's ETag is checked
// against the version token read by HEAD; the PUT itself is guarded by the
// raw ETag (or If-None-Match for a new key) so a writer racing between the
// two requests is caught. Unconditional writes retry such races.
func (s *Store) SetOverwriteBlobContents(ctx context.Context, p core.Path, content string, opts core.WriteOptions) (core.WriteResult, error) {
	const op = "SetOverwriteBlobContents"
	if err := core.ValidateBlobPath(op, p); err != nil {
		return core.WriteResult{}, err
	}
	for attempt := 1; ; attempt++ {
		prev, err := s.head(ctx, op, p)
		exists := err == nil
		if err != nil && !isNotFound(err) {
			return core.WriteResult{}, err
		}
		if opts.ETag != "" {
			if !exists {
				return core.WriteResult{}, s.missingForWrite(ctx, op, p)
			}
			if prev.props.ETag != opts.ETag {
				return core.WriteResult{}, core.NewError(core.KindConditionNotMet, op, p.String(), nil)
			}
		}
		ct := opts.ContentType
		if ct == "" && exists {
			ct = prev.props.ContentType
		}
		if ct == "" {
			ct = core.DefaultContentType
		}
		gen := uint64(1)
		in := &s3.PutObjectInput{
			Bucket:      aws.String(p.Container),
			Key:         aws.String(p.Object),
			Body:        strings.NewReader(content),
			ContentType: aws.String(ct),
		}
		if exists {
			gen = prev.gen + 1
			in.IfMatch = aws.String(quote(prev.raw))
		} else {
			in.IfNoneMatch = aws.String("*")
		}
		in.Metadata = withGeneration(nil, core.BlobTypeOverwrite, gen)
		out, err := s.client.PutObject(ctx, in)
		if err == nil {
			return core.WriteResult{Created: !exists, ETag: versionToken(aws.ToString(out.ETag), gen)}, nil
		}
		err = mapError(op, p.String(), blobEndpoint, err)
		if !raced(err, exists) {
			return core.WriteResult{}, err
		}
		if opts.ETag != "" || attempt == writeAttempts {
			return core.WriteResult{}, core.NewError(core.KindConditionNotMet, op, p.String(), err)
		}
		s.log.Debug().Str("op", op).Str("blob", p.String()).Int("attempt", attempt).Msg("concurrent write, retrying")
	}
}

// AppendBlobContents reads the object, checks it, and writes the
// concatenation conditioned on the ETag it read. A concurrent writer makes a
// conditional append fail with ConditionNotMet; an unconditional one retries.
func (s *Store) AppendBlobContents(ctx context.Context, p core.Path, content string, opts core.AppendOptions) (core.AppendResult, error) {
	const op = "AppendBlobContents"
	if err := core.ValidateBlobPath(op, p); err != nil {
		return core.AppendResult{}, err
	}
	for attempt := 1; ; attempt++ {
		cur, err := s.get(ctx, op, p, blobEndpoint)
		if err != nil {
			return core.AppendResult{}, err
		}
		if opts.ETag != "" && cur.props.ETag != opts.ETag {
			return core.AppendResult{}, core.NewError(core.KindConditionNotMet, op, p.String(), nil)
		}
		if cur.props.BlobType != core.BlobTypeAppend {
			return core.AppendResult{}, core.NewError(core.KindInvalidBlobType, op, p.String(), nil)
		}
		data := make([]byte, 0, len(cur.body)+len(content))
		data = append(append(data, cur.body...), content...)
		gen := cur.gen + 1
		out, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(p.Container),
			Key:         aws.String(p.Object),
			Body:        strings.NewReader(string(data)),
			ContentType: aws.String(cur.props.ContentType),
			Metadata:    withGeneration(cur.meta, core.BlobTypeAppend, gen),
			IfMatch:     aws.String(quote(cur.raw)),
		})
		if err == nil {
			return core.AppendResult{ETag: versionToken(aws.ToString(out.ETag), gen)}, nil
		}
		err = mapError(op, p.String(), blobEndpoint, err)
		if !raced(err, true) {
			return core.AppendResult{}, err
		}
		if opts.ETag != "" || attempt == writeAttempts {
			return core.AppendResult{}, core.NewError(core.KindConditionNotMet, op, p.String(), err)
		}
		s.log.Debug().Str("op", op).Str("blob", p.String()).Int("attempt", attempt).Msg("concurrent append, retrying")
	}
}

// SetBlobContentType rewrites the object's metadata in place with a self
// copy guarded by the ETag just read. The copy bumps the generation, so the
// version token changes even though the content digest does not.
func (s *Store) SetBlobContentType(ctx context.Context, p core.Path, contentType string) error {
	const op = "SetBlobContentType"
	if err := core.ValidateBlobPath(op, p); err != nil {
		return err
	}
	for attempt := 1; ; attempt++ {
		cur, err := s.head(ctx, op, p)
		if err != nil {
			return err
		}
		_, err = s.client.CopyObject(ctx, &s3.CopyObjectInput{
			Bucket:            aws.String(p.Container),
			Key:               aws.String(p.Object),
			CopySource:        aws.String(s3utils.EncodePath(p.Container + "/" + p.Object)),
			CopySourceIfMatch: aws.String(quote(cur.raw)),
			ContentType:       aws.String(contentType),
			Metadata:          withGeneration(cur.meta, cur.props.BlobType, cur.gen+1),
			MetadataDirective: types.MetadataDirectiveReplace,
		})
		if err == nil {
			return nil
		}
		err = mapError(op, p.String(), blobEndpoint, err)
		if !core.IsKind(err, core.KindConditionNotMet) || attempt == writeAttempts {
			return err
		}
	}
}

// DeleteBlob checks existence first; S3 deletes succeed for missing keys.
func (s *Store) DeleteBlob(ctx context.Context, p core.Path) (bool, error) {
	const op = "DeleteBlob"
	if err := core.ValidateBlobPath(op, p); err != nil {
		return false, err
	}
	if _, err := s.head(ctx, op, p); err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(p.Container), Key: aws.String(p.Object)})
	if err != nil {
		err = mapError(op, p.String(), blobEndpoint, err)
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *Store) head(ctx context.Context, op string, p core.Path) (object, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(p.Container), Key: aws.String(p.Object)})
	if err != nil {
		return object{}, mapError(op, p.String(), blobReadEndpoint, err)
	}
	return newObject(out.ETag, out.ContentType, out.ContentLength, out.LastModified, out.Metadata, nil), nil
}

func (s *Store) get(ctx context.Context, op string, p core.Path, ep endpoint) (object, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(p.Container), Key: aws.String(p.Object)})
	if err != nil {
		return object{}, mapError(op, p.String(), ep, err)
	}
	defer out.Body.Close()
	body, err := io.ReadAll(out.Body)
	if err != nil {
		return object{}, core.Errorf(op, err)
	}
	return newObject(out.ETag, out.ContentType, out.ContentLength, out.LastModified, out.Metadata, body), nil
}

// missingForWrite distinguishes a missing container from a missing blob for
// a conditional write.
func (s *Store) missingForWrite(ctx context.Context, op string, p core.Path) error {
	ok, err := s.ContainerExists(ctx, p.Container)
	if err != nil {
		return err
	}
	if !ok {
		return core.NewError(core.KindContainerNotFound, op, p.Container, nil)
	}
	return core.NewError(core.KindConditionNotMet, op, p.String(), nil)
}

// raced reports whether a guarded write lost to a concurrent writer: the
// guard failed, or an object read a moment ago is gone.
func raced(err error, existed bool) bool {
	return core.IsKind(err, core.KindConditionNotMet) || (existed && core.IsKind(err, core.KindBlobNotFound))
}

func newObject(etag, contentType *string, size *int64, modified *time.Time, meta map[string]string, body []byte) object {
	raw := unquote(aws.ToString(etag))
	gen := generation(meta)
	typ := core.BlobType(meta[metaBlobType])
	if typ == "" {
		typ = core.BlobTypeOverwrite
	}
	return object{
		props: core.Properties{
			ETag:         versionToken(raw, gen),
			ContentType:  aws.ToString(contentType),
			BlobType:     typ,
			Size:         aws.ToInt64(size),
			LastModified: aws.ToTime(modified),
		},
		raw:  raw,
		gen:  gen,
		meta: meta,
		body: body,
	}
}

// generation is zero for objects written by other tools.
func generation(meta map[string]string) uint64 {
	n, _ := strconv.ParseUint(meta[metaGeneration], 10, 64)
	return n
}

// withGeneration copies meta, setting the blob type and generation.
func withGeneration(meta map[string]string, typ core.BlobType, gen uint64) map[string]string {
	out := make(map[string]string, len(meta)+2)
	for k, v := range meta {
		out[k] = v
	}
	out[metaBlobType] = string(typ)
	out[metaGeneration] = strconv.FormatUint(gen, 10)
	return out
}

// versionToken is the ETag reported to callers: the service ETag, which only
// digests the content, followed by the generation.
func versionToken(rawETag string, gen uint64) string {
	return unquote(rawETag) + "-" + strconv.FormatUint(gen, 10)
}

func unquote(etag string) string { return strings.Trim(etag, "\"") }

func quote(etag string) string {
	if strings.HasPrefix(etag, "\"") {
		return etag
	}
	return "\"" + etag + "\""
}
