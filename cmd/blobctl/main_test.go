package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"blobkit/internal/blob"
	"blobkit/testutil"
)

type session struct {
	t    *testing.T
	root string
}

func newSession(t *testing.T) session {
	t.Helper()
	t.Setenv("BLOBKIT_DRIVER", "memory")
	t.Setenv("BLOBKIT_ACCOUNT_URL", "https://blobs.example.test/")
	t.Setenv("BLOBKIT_SIGNING_KEY_ID", "AKIACLI")
	t.Setenv("BLOBKIT_SIGNING_KEY_SECRET", "cli-secret")
	return session{t: t, root: filepath.Join(t.TempDir(), "data")}
}

func (s session) run(input string, args ...string) (string, string, int) {
	s.t.Helper()
	prev := stdin
	stdin = strings.NewReader(input)
	defer func() { stdin = prev }()
	var out, errOut bytes.Buffer
	code := cli(append([]string{"-driver", "fs", "-root", s.root}, args...), &out, &errOut)
	return out.String(), errOut.String(), code
}

func (s session) ok(input string, args ...string) string {
	s.t.Helper()
	out, errOut, code := s.run(input, args...)
	if code != 0 {
		s.t.Fatalf("blobctl %v exited %d: %s", args, code, errOut)
	}
	return out
}

func TestCommandsAgainstFilesystem(t *testing.T) {
	s := newSession(t)

	if out := s.ok("", "mkcontainer", "logs"); out != "created\n" {
		t.Fatalf("mkcontainer: %q", out)
	}
	if out := s.ok("", "mkcontainer", "logs"); out != "exists\n" {
		t.Fatalf("second mkcontainer: %q", out)
	}
	if out := s.ok("", "containers"); !strings.HasPrefix(out, "logs ") {
		t.Fatalf("containers: %q", out)
	}

	tag := strings.TrimSpace(s.ok("hello", "put", "-type", "text/plain", "logs/greeting.txt"))
	if tag == "" {
		t.Fatalf("put printed no etag")
	}
	if out := s.ok("", "cat", "logs/greeting.txt"); out != "hello" {
		t.Fatalf("cat: %q", out)
	}
	if _, _, code := s.run("stale", "put", "-etag", "not-"+tag, "logs/greeting.txt"); code != 1 {
		t.Fatalf("stale etag should fail, exit %d", code)
	}
	s.ok("bye", "put", "-etag", tag, "logs/greeting.txt")

	s.ok("a", "append", "logs/day/1.log")
	s.ok("b", "append", "logs/day/1.log")
	if out := s.ok("", "cat", "logs/day/1.log"); out != "ab" {
		t.Fatalf("appended content: %q", out)
	}

	out := s.ok("", "ls", "logs/day/")
	if !strings.Contains(out, "day/1.log") || strings.Contains(out, "greeting") {
		t.Fatalf("ls prefix: %q", out)
	}

	if out := s.ok("", "rm", "logs/greeting.txt"); out != "deleted\n" {
		t.Fatalf("rm: %q", out)
	}
	if out := s.ok("", "rm", "logs/greeting.txt"); out != "absent\n" {
		t.Fatalf("second rm: %q", out)
	}
	if _, errOut, code := s.run("", "cat", "logs/greeting.txt"); code != 1 || !strings.Contains(errOut, "BlobNotFound") {
		t.Fatalf("cat missing: %d %q", code, errOut)
	}
	if out := s.ok("", "rmcontainer", "logs"); out != "deleted\n" {
		t.Fatalf("rmcontainer: %q", out)
	}
}

func TestURLCommand(t *testing.T) {
	s := newSession(t)
	if out := s.ok("", "url"); out != "https://blobs.example.test/\n" {
		t.Fatalf("account url: %q", out)
	}
	if out := s.ok("", "url", "box"); out != "https://blobs.example.test/box\n" {
		t.Fatalf("container url: %q", out)
	}
	if out := s.ok("", "url", "-encode", "box/a b.txt"); out != "https://blobs.example.test/box/a%20b.txt\n" {
		t.Fatalf("encoded url: %q", out)
	}
	out := s.ok("", "url", "-sign", "box/x")
	if !strings.HasPrefix(out, "https://blobs.example.test/box/x?") || !strings.Contains(out, "X-Amz-Signature=") {
		t.Fatalf("signed url: %q", out)
	}
}

func TestUsageErrors(t *testing.T) {
	s := newSession(t)
	for _, args := range [][]string{
		{"frobnicate"},
		{"cat"},
		{"rm", "a/b", "c/d"},
		{"mkcontainer"},
		{"ls"},
		{"put"},
		{"url", "a", "b"},
	} {
		if _, _, code := s.run("", args...); code != 2 {
			t.Fatalf("%v: exit %d, want 2", args, code)
		}
	}
	var out, errOut bytes.Buffer
	if code := cli(nil, &out, &errOut); code != 2 || !strings.Contains(errOut.String(), "missing command") {
		t.Fatalf("no command: %d %q", code, errOut.String())
	}
	if code := cli([]string{"-nope"}, &out, &errOut); code != 2 {
		t.Fatalf("bad flag: %d", code)
	}
}

func TestMakeContainerPolicies(t *testing.T) {
	s := newSession(t)
	_, errOut, code := s.run("", "mkcontainer", "box", "blob")
	if code != 2 || !strings.Contains(errOut, "object-readable") {
		t.Fatalf("legacy policy name: exit %d %q", code, errOut)
	}
	if out := s.ok("", "mkcontainer", "box", "container-readable"); out != "created\n" {
		t.Fatalf("mkcontainer container-readable: %q", out)
	}
}

func TestOpenFailureExits(t *testing.T) {
	s := newSession(t)
	prev := openStore
	openStore = func(context.Context, blob.Config, zerolog.Logger) (blob.Store, error) {
		return nil, errors.New("unreachable")
	}
	t.Cleanup(func() { openStore = prev })
	if _, errOut, code := s.run("", "containers"); code != 1 || !strings.Contains(errOut, "unreachable") {
		t.Fatalf("open failure: %d %q", code, errOut)
	}
}

func TestVerboseLogsCalls(t *testing.T) {
	s := newSession(t)
	_, errOut, code := s.run("", "-v", "containers")
	if code != 0 || !strings.Contains(errOut, "blob call") {
		t.Fatalf("verbose: %d %q", code, errOut)
	}
}

func TestMainExitCode(t *testing.T) {
	newSession(t)
	var codes []int
	prev := exitFunc
	exitFunc = func(code int) { codes = append(codes, code) }
	t.Cleanup(func() { exitFunc = prev })
	prevArgs := os.Args
	t.Cleanup(func() { os.Args = prevArgs })

	os.Args = []string{"blobctl", "containers"}
	main()
	os.Args = []string{"blobctl"}
	main()
	if len(codes) != 2 || codes[0] != 0 || codes[1] != 2 {
		t.Fatalf("exit codes: %v", codes)
	}
}

func TestCommandStaysOnFacade(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.InfraImportForbidden, "commands go through internal/blob")
}
