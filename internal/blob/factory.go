package blob

import (
	"blobkit/internal/infra/blob/fs"
	memorystore "blobkit/internal/infra/blob/memory"
	infraS3 "blobkit/internal/infra/blob/s3"
	promrecorder "blobkit/internal/infra/metrics/prometheus"
	"blobkit/internal/infra/persistence/postgres"
	"blobkit/internal/infra/persistence/sqlite"
	"context"
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// Config selects and configures a backend for Open.
//
//	BLOBKIT_DRIVER: memory|fs|s3|sqlite|postgres (default memory)
//	BLOBKIT_ACCOUNT_URL: base for URL-shaped outputs of the local drivers
//	BLOBKIT_FS_ROOT: directory root when driver=fs (default ./blobdata)
//	BLOBKIT_SQLITE_PATH: database file when driver=sqlite (default blobkit.db)
//	BLOBKIT_POSTGRES_DSN: connection string when driver=postgres
//	BLOBKIT_SIGNING_KEY_ID / BLOBKIT_SIGNING_KEY_SECRET: signing key for local drivers
//	BLOBKIT_METRICS: wrap the backend with Prometheus instrumentation
//	(S3 specific variables documented in infra/blob/s3)
type Config struct {
	Driver           string `env:"BLOBKIT_DRIVER" envDefault:"memory"`
	AccountURL       string `env:"BLOBKIT_ACCOUNT_URL"`
	FSRoot           string `env:"BLOBKIT_FS_ROOT" envDefault:"./blobdata"`
	SQLitePath       string `env:"BLOBKIT_SQLITE_PATH" envDefault:"blobkit.db"`
	PostgresDSN      string `env:"BLOBKIT_POSTGRES_DSN"`
	SigningKeyID     string `env:"BLOBKIT_SIGNING_KEY_ID"`
	SigningKeySecret string `env:"BLOBKIT_SIGNING_KEY_SECRET"`
	Metrics          bool   `env:"BLOBKIT_METRICS"`
}

// ConfigFromEnv decodes the BLOBKIT_* variables.
func ConfigFromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("blob env: %w", err)
	}
	return cfg, nil
}

// Open selects a Store implementation using environment variables. It is
// the only place a backend is chosen implicitly; everything else takes a
// Store explicitly.
func Open(ctx context.Context, log zerolog.Logger) (Store, error) {
	cfg, err := ConfigFromEnv()
	if err != nil {
		return nil, err
	}
	return OpenConfig(ctx, cfg, log)
}

// OpenConfig builds the Store described by cfg.
func OpenConfig(ctx context.Context, cfg Config, log zerolog.Logger) (Store, error) {
	local := LocalOptions{
		AccountURL:       cfg.AccountURL,
		SigningKeyID:     cfg.SigningKeyID,
		SigningKeySecret: cfg.SigningKeySecret,
		Logger:           log,
	}
	var (
		store Store
		err   error
	)
	switch Driver(cfg.Driver) {
	case DriverMemory:
		store, err = NewMemoryWith(local)
	case DriverFilesystem:
		store, err = NewFilesystemWith(cfg.FSRoot, local)
	case DriverSQLite:
		store, err = NewSQLite(ctx, cfg.SQLitePath, local)
	case DriverPostgres:
		store, err = NewPostgres(ctx, cfg.PostgresDSN, local)
	case DriverS3:
		var s3cfg S3Config
		if s3cfg, err = infraS3.ConfigFromEnv(); err == nil {
			s3cfg.Logger = log
			store, err = NewS3(ctx, s3cfg)
		}
	default:
		return nil, fmt.Errorf("unknown blob driver %s", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	log.Info().Str("driver", string(store.Driver())).Msg("blob store opened")
	if cfg.Metrics {
		rec, err := promrecorder.NewRecorder(prometheus.DefaultRegisterer)
		if err != nil {
			return nil, err
		}
		store = Instrument(store, rec, log)
	}
	return store, nil
}

// LocalOptions configures the drivers that run in-process (memory, fs,
// sqlite, postgres).
type LocalOptions struct {
	AccountURL       string // default: the driver's synthetic base
	SigningKeyID     string // signed URLs need both key fields
	SigningKeySecret string
	Clock            clockwork.Clock
	Logger           zerolog.Logger
}

func (o LocalOptions) memory() []memorystore.Option {
	opts := []memorystore.Option{memorystore.WithLogger(o.Logger)}
	if o.AccountURL != "" {
		opts = append(opts, memorystore.WithAccountURL(o.AccountURL))
	}
	if o.SigningKeyID != "" && o.SigningKeySecret != "" {
		opts = append(opts, memorystore.WithSigningKey(o.SigningKeyID, o.SigningKeySecret))
	}
	if o.Clock != nil {
		opts = append(opts, memorystore.WithClock(o.Clock))
	}
	return opts
}

func (o LocalOptions) filesystem() []fs.Option {
	opts := []fs.Option{fs.WithLogger(o.Logger)}
	if o.AccountURL != "" {
		opts = append(opts, fs.WithAccountURL(o.AccountURL))
	}
	if o.SigningKeyID != "" && o.SigningKeySecret != "" {
		opts = append(opts, fs.WithSigningKey(o.SigningKeyID, o.SigningKeySecret))
	}
	if o.Clock != nil {
		opts = append(opts, fs.WithClock(o.Clock))
	}
	return opts
}

// NewMemory returns an in-memory Store suitable for tests.
func NewMemory() Store {
	store, err := memorystore.New()
	if err != nil {
		panic(err) // no options, cannot fail
	}
	return store
}

// NewMemoryWith returns an in-memory Store configured by o.
func NewMemoryWith(o LocalOptions) (Store, error) {
	store, err := memorystore.New(o.memory()...)
	if err != nil {
		return nil, err
	}
	return store, nil
}

// NewFilesystem constructs a filesystem-backed Store rooted at the provided path.
// Returns Store to encourage call sites to depend on the interface instead of
// concrete implementations.
func NewFilesystem(root string) (Store, error) {
	return NewFilesystemWith(root, LocalOptions{})
}

// NewFilesystemWith is NewFilesystem with local options.
func NewFilesystemWith(root string, o LocalOptions) (Store, error) {
	store, err := fs.New(root, o.filesystem()...)
	if err != nil {
		return nil, err
	}
	return store, nil
}

// NewSQLite returns the in-memory backend snapshotted to the SQLite file at path.
func NewSQLite(ctx context.Context, path string, o LocalOptions) (Store, error) {
	store, err := sqlite.NewBackend(ctx, path, o.Logger, o.memory()...)
	if err != nil {
		return nil, err
	}
	return store, nil
}

// NewPostgres returns the in-memory backend snapshotted to Postgres.
func NewPostgres(ctx context.Context, dsn string, o LocalOptions) (Store, error) {
	store, err := postgres.NewBackend(ctx, dsn, o.Logger, o.memory()...)
	if err != nil {
		return nil, err
	}
	return store, nil
}

// S3Config re-exports the infra S3 configuration type.
type S3Config = infraS3.Config

// NewS3 constructs an S3-backed Store from the provided configuration.
func NewS3(ctx context.Context, cfg S3Config) (Store, error) {
	store, err := infraS3.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return store, nil
}

// OpenS3FromEnv constructs an S3 store using the BLOBKIT_S3_* variables.
func OpenS3FromEnv(ctx context.Context) (Store, error) {
	store, err := infraS3.OpenFromEnv(ctx)
	if err != nil {
		return nil, err
	}
	return store, nil
}

// S3 credential constructors.
var (
	AnonymousCredential = infraS3.AnonymousCredential
	SharedKeyCredential = infraS3.SharedKeyCredential
	TokenCredential     = infraS3.TokenCredential
)

// NewMockS3ForTests exposes the transport-level S3 fake for cross-package tests.
func NewMockS3ForTests() Store { return infraS3.NewMockForTests() }
