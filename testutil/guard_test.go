package testutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type recordingFatal struct{ msg string }

func (r *recordingFatal) Fatalf(format string, args ...any) { r.msg = fmt.Sprintf(format, args...) }

func TestInfraImportForbiddenPredicate(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"blobkit/internal/infra/blob/s3", true},
		{"blobkit/internal/infra/persistence/sqlite", true},
		{"blobkit/internal/infra", true},
		{"blobkit/internal/blob", false},
		{"blobkit/internal/infrastructure", false},
	}
	for _, c := range cases {
		if got := InfraImportForbidden(c.in); got != c.want {
			t.Fatalf("InfraImportForbidden(%q)=%v want %v", c.in, got, c.want)
		}
	}
}

func TestDriverSDKForbiddenPredicate(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"github.com/aws/aws-sdk-go-v2/service/s3", true},
		{"github.com/aws/smithy-go", true},
		{"github.com/jackc/pgx/v5/stdlib", true},
		{"modernc.org/sqlite", true},
		{"github.com/minio/minio-go/v7/pkg/s3utils", false},
		{"github.com/aws/aws-sdk-go-v2x", false},
	}
	for _, c := range cases {
		if got := DriverSDKForbidden(c.in); got != c.want {
			t.Fatalf("DriverSDKForbidden(%q)=%v want %v", c.in, got, c.want)
		}
	}
}

func TestAssertNoDirectImportsIgnoresTestFiles(t *testing.T) {
	dir := t.TempDir()
	src := []byte("package tmp\nimport \"fmt\"\nfunc X(){fmt.Println(1)}")
	if err := os.WriteFile(filepath.Join(dir, "x.go"), src, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	testSrc := []byte("package tmp\nimport \"blobkit/internal/infra/blob/s3\"\n")
	if err := os.WriteFile(filepath.Join(dir, "x_test.go"), testSrc, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	AssertNoDirectImports(t, dir, InfraImportForbidden, "tests may import infra")
}

func TestDirectImportViolationsReported(t *testing.T) {
	dir := t.TempDir()
	src := []byte("package tmp\nimport _ \"modernc.org/sqlite\"\n")
	if err := os.WriteFile(filepath.Join(dir, "db.go"), src, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	viols, err := directImportViolations(dir, DriverSDKForbidden)
	if err != nil {
		t.Fatalf("directImportViolations: %v", err)
	}
	if len(viols) != 1 || viols[0] != "modernc.org/sqlite (in db.go)" {
		t.Fatalf("violations: %v", viols)
	}
	rec := &recordingFatal{}
	failIfDirectViolations(rec, "no sdk", viols)
	if !strings.Contains(rec.msg, "modernc.org/sqlite") {
		t.Fatalf("expected failure message, got %q", rec.msg)
	}
	if _, err := directImportViolations(filepath.Join(dir, "missing"), DriverSDKForbidden); err == nil {
		t.Fatalf("expected read error")
	}
}

func TestTransitiveDependencyViolations(t *testing.T) {
	prev := goListDeps
	t.Cleanup(func() { goListDeps = prev })

	goListDeps = func(string) ([]byte, error) {
		return []byte("blobkit/internal/blob/core\n\ngithub.com/aws/smithy-go\n"), nil
	}
	viols, _, err := transitiveDependencyViolations("./...", DriverSDKForbidden)
	if err != nil || len(viols) != 1 || viols[0] != "github.com/aws/smithy-go" {
		t.Fatalf("violations: %v %v", viols, err)
	}
	rec := &recordingFatal{}
	failIfTransitiveViolations(rec, "no sdk", viols)
	if rec.msg == "" {
		t.Fatalf("expected failure")
	}

	goListDeps = func(string) ([]byte, error) { return []byte("boom"), errors.New("exit 1") }
	if _, out, err := transitiveDependencyViolations("./...", DriverSDKForbidden); err == nil || string(out) != "boom" {
		t.Fatalf("expected go list error, got %v %q", err, out)
	}
}
