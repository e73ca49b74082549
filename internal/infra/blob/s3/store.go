// Package s3 implements core.Backend against an S3-compatible service (AWS S3
// or MinIO). Containers are buckets, blobs are objects, and the blob type
// travels as object metadata.
package s3

import (
	"blobkit/internal/blob/core"
	"blobkit/internal/infra/blob/sigv4"
	"context"
	"fmt"
	"net/url"
	"strings"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/caarlos0/env/v11"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const defaultDeleteConcurrency = 8

// Store implements core.Backend over an S3 client. It holds no state beyond
// connection configuration.
type Store struct {
	client            *s3.Client
	base              *url.URL
	signer            sigv4.Signer
	pageSize          int32
	deleteConcurrency int
	log               zerolog.Logger
}

// Config holds explicit construction parameters. OpenFromEnv fills it from
// the environment.
type Config struct {
	// Account is an account name, a host, or a full endpoint URL. Empty
	// means the service default for EndpointSuffix.
	Account        string
	EndpointSuffix string // default s3.amazonaws.com
	Region         string // default us-east-1
	Credential     Credential
	PathStyle      bool
	// PageSize caps keys or buckets per listing page; zero lets the service
	// choose.
	PageSize          int32
	DeleteConcurrency int // parallel object deletes when emptying a bucket
	Clock             clockwork.Clock
	Logger            zerolog.Logger
	HTTPClient        s3.HTTPClient // optional; tests inject a fake transport here
}

// Environment variables:
//
//	BLOBKIT_S3_ACCOUNT=<name|host|url>
//	BLOBKIT_S3_ENDPOINT_SUFFIX=<suffix> (default s3.amazonaws.com)
//	BLOBKIT_S3_REGION=<region> (default us-east-1)
//	BLOBKIT_S3_PATH_STYLE=true|false
//	BLOBKIT_S3_ACCESS_KEY_ID / BLOBKIT_S3_SECRET_ACCESS_KEY (shared key; enables signed urls)
//	BLOBKIT_S3_ANONYMOUS=true|false
//	BLOBKIT_S3_PAGE_SIZE=<n>
//
// Without a key or the anonymous flag the SDK default credential chain is used.
type envConfig struct {
	Account         string `env:"BLOBKIT_S3_ACCOUNT"`
	EndpointSuffix  string `env:"BLOBKIT_S3_ENDPOINT_SUFFIX" envDefault:"s3.amazonaws.com"`
	Region          string `env:"BLOBKIT_S3_REGION" envDefault:"us-east-1"`
	PathStyle       bool   `env:"BLOBKIT_S3_PATH_STYLE"`
	AccessKeyID     string `env:"BLOBKIT_S3_ACCESS_KEY_ID"`
	SecretAccessKey string `env:"BLOBKIT_S3_SECRET_ACCESS_KEY"`
	Anonymous       bool   `env:"BLOBKIT_S3_ANONYMOUS"`
	PageSize        int32  `env:"BLOBKIT_S3_PAGE_SIZE"`
}

// ConfigFromEnv decodes the BLOBKIT_S3_* variables.
func ConfigFromEnv() (Config, error) {
	var ec envConfig
	if err := env.Parse(&ec); err != nil {
		return Config{}, fmt.Errorf("s3 env: %w", err)
	}
	cfg := Config{
		Account:        ec.Account,
		EndpointSuffix: ec.EndpointSuffix,
		Region:         ec.Region,
		PathStyle:      ec.PathStyle,
		PageSize:       ec.PageSize,
	}
	switch {
	case ec.AccessKeyID != "" || ec.SecretAccessKey != "":
		if ec.AccessKeyID == "" || ec.SecretAccessKey == "" {
			return Config{}, fmt.Errorf("s3 env: BLOBKIT_S3_ACCESS_KEY_ID and BLOBKIT_S3_SECRET_ACCESS_KEY must be set together")
		}
		cfg.Credential = SharedKeyCredential(ec.AccessKeyID, ec.SecretAccessKey)
	case ec.Anonymous:
		cfg.Credential = AnonymousCredential()
	}
	return cfg, nil
}

// OpenFromEnv constructs an S3 store from process environment.
func OpenFromEnv(ctx context.Context) (*Store, error) {
	cfg, err := ConfigFromEnv()
	if err != nil {
		return nil, err
	}
	return New(ctx, cfg)
}

// New creates an S3 store from Config.
func New(ctx context.Context, cfg Config) (*Store, error) {
	base, err := NormalizeAccountURL(cfg.Account, cfg.EndpointSuffix)
	if err != nil {
		return nil, err
	}
	region := cfg.Region
	if region == "" {
		region = sigv4.DefaultRegion
	}
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if p := cfg.Credential.credentialsProvider(); p != nil {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(p))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
		if cfg.Account != "" {
			o.BaseEndpoint = aws.String(strings.TrimSuffix(base.String(), "/"))
		}
		if cfg.HTTPClient != nil {
			o.HTTPClient = cfg.HTTPClient
		}
		// Older MinIO releases reject trailing checksums.
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
	})
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	conc := cfg.DeleteConcurrency
	if conc <= 0 {
		conc = defaultDeleteConcurrency
	}
	return &Store{
		client:            client,
		base:              base,
		signer:            sigv4.Signer{Key: cfg.Credential.signingKey(), Region: region, Clock: clock},
		pageSize:          cfg.PageSize,
		deleteConcurrency: conc,
		log:               cfg.Logger,
	}, nil
}

// Driver reports core.DriverS3.
func (s *Store) Driver() core.Driver { return core.DriverS3 }

// AccountURL returns the normalised account URL, signed on request.
func (s *Store) AccountURL(ctx context.Context, opts core.URLOptions) (string, error) {
	return s.signer.BuildURL(ctx, s.base, "", "", opts)
}

// ContainerURL returns the bucket URL under the account URL.
func (s *Store) ContainerURL(ctx context.Context, name string, opts core.URLOptions) (string, error) {
	if err := core.ValidateContainerName("ContainerURL", name); err != nil {
		return "", err
	}
	return s.signer.BuildURL(ctx, s.base, name, "", opts)
}

// BlobURL returns the object URL. Signed URLs need a SharedKeyCredential.
func (s *Store) BlobURL(ctx context.Context, p core.Path, opts core.URLOptions) (string, error) {
	if err := core.ValidateBlobPath("BlobURL", p); err != nil {
		return "", err
	}
	return s.signer.BuildURL(ctx, s.base, p.Container, p.Object, opts)
}

// ContainerExists issues a HEAD on the bucket.
func (s *Store) ContainerExists(ctx context.Context, name string) (bool, error) {
	const op = "ContainerExists"
	if err := core.ValidateContainerName(op, name); err != nil {
		return false, err
	}
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(name)})
	if err != nil {
		err = mapError(op, name, containerEndpoint, err)
		if core.IsKind(err, core.KindContainerNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// CreateContainer creates the bucket and, for a public policy, attaches the
// bucket policy. Existence is checked with HEAD first: in us-east-1 S3 answers
// a create of a bucket the caller already owns with 200 OK. If the policy
// cannot be attached the bucket is removed again; should that also fail, the
// result is (true, err) so the caller knows the bucket exists.
func (s *Store) CreateContainer(ctx context.Context, name string, policy core.AccessPolicy) (bool, error) {
	const op = "CreateContainer"
	if err := core.ValidateContainerName(op, name); err != nil {
		return false, err
	}
	policy, err := core.NormalizePolicy(policy)
	if err != nil {
		return false, err
	}
	exists, err := s.ContainerExists(ctx, name)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	in := &s3.CreateBucketInput{Bucket: aws.String(name)}
	if region := s.signer.Region; region != sigv4.DefaultRegion {
		in.CreateBucketConfiguration = &types.CreateBucketConfiguration{LocationConstraint: types.BucketLocationConstraint(region)}
	}
	if _, err := s.client.CreateBucket(ctx, in); err != nil {
		err = mapError(op, name, containerEndpoint, err)
		if core.IsKind(err, core.KindContainerAlreadyExists) {
			return false, nil
		}
		return false, err
	}
	s.log.Info().Str("container", name).Str("policy", string(policy)).Msg("bucket created")
	if policy == core.AccessPrivate {
		return true, nil
	}
	if err := s.putPolicy(ctx, op, name, policy); err != nil {
		if _, rbErr := s.client.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: aws.String(name)}); rbErr != nil {
			s.log.Warn().Err(rbErr).Str("container", name).Msg("bucket left behind after policy failure")
			return true, err
		}
		s.log.Warn().Err(err).Str("container", name).Msg("bucket removed after policy failure")
		return false, err
	}
	return true, nil
}

// DeleteContainer empties the bucket before dropping it; S3 refuses to delete
// a bucket that still holds objects.
func (s *Store) DeleteContainer(ctx context.Context, name string) (bool, error) {
	const op = "DeleteContainer"
	if err := core.ValidateContainerName(op, name); err != nil {
		return false, err
	}
	keys, err := s.listKeys(ctx, op, name, "")
	if err != nil {
		if core.IsKind(err, core.KindContainerNotFound) {
			return false, nil
		}
		return false, err
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.deleteConcurrency)
	for _, obj := range keys {
		g.Go(func() error {
			_, err := s.client.DeleteObject(gctx, &s3.DeleteObjectInput{Bucket: aws.String(name), Key: aws.String(obj.Path.Object)})
			return mapError(op, obj.Path.String(), blobEndpoint, err)
		})
	}
	if err := g.Wait(); err != nil {
		return false, err
	}
	if _, err := s.client.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: aws.String(name)}); err != nil {
		err = mapError(op, name, containerEndpoint, err)
		if core.IsKind(err, core.KindContainerNotFound) {
			return false, nil
		}
		return false, err
	}
	s.log.Info().Str("container", name).Int("objects", len(keys)).Msg("bucket deleted")
	return true, nil
}

// ListContainers follows continuation tokens page by page and keeps the
// service's order.
func (s *Store) ListContainers(ctx context.Context) ([]core.ContainerInfo, error) {
	const op = "ListContainers"
	var out []core.ContainerInfo
	var token *string
	for {
		in := &s3.ListBucketsInput{ContinuationToken: token}
		if s.pageSize > 0 {
			in.MaxBuckets = aws.Int32(s.pageSize)
		}
		page, err := s.client.ListBuckets(ctx, in)
		if err != nil {
			return nil, mapError(op, "", containerEndpoint, err)
		}
		for _, b := range page.Buckets {
			out = append(out, core.ContainerInfo{Name: aws.ToString(b.Name), LastModified: aws.ToTime(b.CreationDate)})
		}
		if aws.ToString(page.ContinuationToken) == "" {
			break
		}
		token = page.ContinuationToken
		s.log.Debug().Str("op", op).Int("so_far", len(out)).Msg("next page")
	}
	return out, nil
}

// ContainerAccessPolicy derives the level from the bucket policy; a bucket
// without one is private.
func (s *Store) ContainerAccessPolicy(ctx context.Context, name string) (core.AccessPolicy, error) {
	const op = "ContainerAccessPolicy"
	if err := core.ValidateContainerName(op, name); err != nil {
		return "", err
	}
	out, err := s.client.GetBucketPolicy(ctx, &s3.GetBucketPolicyInput{Bucket: aws.String(name)})
	if err != nil {
		if code, _ := errorCode(err); code == "NoSuchBucketPolicy" {
			return core.AccessPrivate, nil
		}
		return "", mapError(op, name, containerEndpoint, err)
	}
	return accessFromPolicy(aws.ToString(out.Policy))
}

// SetContainerAccessPolicy replaces the bucket policy, or deletes it for
// AccessPrivate.
func (s *Store) SetContainerAccessPolicy(ctx context.Context, name string, policy core.AccessPolicy) error {
	const op = "SetContainerAccessPolicy"
	if err := core.ValidateContainerName(op, name); err != nil {
		return err
	}
	policy, err := core.NormalizePolicy(policy)
	if err != nil {
		return err
	}
	if policy != core.AccessPrivate {
		return s.putPolicy(ctx, op, name, policy)
	}
	_, err = s.client.DeleteBucketPolicy(ctx, &s3.DeleteBucketPolicyInput{Bucket: aws.String(name)})
	if err != nil {
		if code, _ := errorCode(err); code == "NoSuchBucketPolicy" {
			return nil
		}
		return mapError(op, name, containerEndpoint, err)
	}
	return nil
}

func (s *Store) putPolicy(ctx context.Context, op, name string, policy core.AccessPolicy) error {
	doc, err := policyFor(name, policy)
	if err != nil {
		return err
	}
	_, err = s.client.PutBucketPolicy(ctx, &s3.PutBucketPolicyInput{Bucket: aws.String(name), Policy: aws.String(doc)})
	return mapError(op, name, containerEndpoint, err)
}
