//go:build integration

package integration

import (
	"context"
	"log"
	"os"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcminio "github.com/testcontainers/testcontainers-go/modules/minio"

	"blobkit/internal/blob"
	"blobkit/internal/blob/blobtest"
)

const (
	accessKey  = "minioadmin"
	secretKey  = "minioadmin"
	seedBucket = "seed"
)

// endpoint is the MinIO base URL shared by every test in the package.
var endpoint string

func TestMain(m *testing.M) {
	if os.Getenv("SKIP_INTEGRATION") == "1" {
		log.Printf("Skipping integration tests")
		os.Exit(0)
	}
	ctx := context.Background()
	c, err := tcminio.Run(ctx, "minio/minio:latest",
		tcminio.WithUsername(accessKey), tcminio.WithPassword(secretKey))
	if err != nil {
		log.Printf("start minio: %v", err)
		os.Exit(1)
	}
	addr, err := c.ConnectionString(ctx)
	if err != nil {
		log.Printf("minio address: %v", err)
		_ = testcontainers.TerminateContainer(c)
		os.Exit(1)
	}
	endpoint = "http://" + addr

	// A bucket created out of band proves listings see state the library
	// did not create itself.
	client, err := minio.New(addr, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: false,
	})
	if err == nil {
		err = client.MakeBucket(ctx, seedBucket, minio.MakeBucketOptions{Region: "us-east-1"})
	}
	if err != nil {
		log.Printf("provision bucket: %v", err)
		_ = testcontainers.TerminateContainer(c)
		os.Exit(1)
	}

	code := m.Run()
	_ = testcontainers.TerminateContainer(c)
	os.Exit(code)
}

func newMinioStore(t *testing.T) blob.Store {
	t.Helper()
	store, err := blob.NewS3(context.Background(), blob.S3Config{
		Account:    endpoint,
		Region:     "us-east-1",
		PathStyle:  true,
		Credential: blob.SharedKeyCredential(accessKey, secretKey),
	})
	require.NoError(t, err)
	return store
}

func TestMinioConformance(t *testing.T) {
	blobtest.Run(t, func(t *testing.T) blob.Store { return newMinioStore(t) }, blobtest.Options{
		ListingsOmitMetadata: true,
		CanSign:              true,
	})
}

func TestMinioSeesProvisionedBucket(t *testing.T) {
	ctx := context.Background()
	account := blob.NewAccount(newMinioStore(t))

	ok, err := account.Container(seedBucket).Exists(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	names := []string{}
	containers, err := account.Containers(ctx)
	require.NoError(t, err)
	for _, c := range containers {
		names = append(names, c.Name())
	}
	assert.Contains(t, names, seedBucket)
}

func TestMinioHandlesRoundTrip(t *testing.T) {
	ctx := context.Background()
	account := blob.NewAccount(newMinioStore(t))
	box := account.Container("handles")
	created, err := box.Create(ctx, blob.AccessPrivate)
	require.NoError(t, err)
	require.True(t, created)
	t.Cleanup(func() { _, _ = box.Delete(context.Background()) })

	journal := box.Prefix("logs/").AppendBlob("today.txt")
	_, err = journal.Create(ctx, blob.CreateOptions{ContentType: "text/plain"})
	require.NoError(t, err)
	_, err = journal.Append(ctx, "one\n", blob.AppendOptions{})
	require.NoError(t, err)
	_, err = journal.Append(ctx, "two\n", blob.AppendOptions{})
	require.NoError(t, err)

	body, err := journal.Contents(ctx)
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo\n", body.Contents)

	props, err := journal.Properties(ctx)
	require.NoError(t, err)
	assert.Equal(t, blob.BlobTypeAppend, props.BlobType)
	assert.Equal(t, body.ETag, props.ETag)

	ct, err := journal.ContentType(ctx)
	require.NoError(t, err)
	assert.Equal(t, "text/plain", ct)

	signed, err := journal.URL(ctx, blob.URLOptions{IncludeSignature: true})
	require.NoError(t, err)
	assert.Contains(t, signed, "X-Amz-Signature=")

	p, err := blob.PathFromURL(endpoint, signed)
	require.NoError(t, err)
	assert.Equal(t, journal.Path(), p)
}
