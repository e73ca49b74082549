// Command blobctl drives a blob store from the shell. The backend comes from
// the BLOBKIT_* environment (see blob.Config); flags override the driver and
// its location.
//
//	blobctl [flags] containers
//	blobctl [flags] mkcontainer <container> [private|object-readable|container-readable]
//	blobctl [flags] rmcontainer <container>
//	blobctl [flags] ls <container>[/<prefix>]
//	blobctl [flags] cat <container>/<blob>
//	blobctl [flags] put [-type T] [-etag E] <container>/<blob>      (content on stdin)
//	blobctl [flags] append [-type T] [-etag E] <container>/<blob>   (content on stdin)
//	blobctl [flags] rm <container>/<blob>
//	blobctl [flags] url [-sign] [-encode] <path>
package main

import (
	"blobkit/internal/blob"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	exitFunc            = os.Exit
	errUsage            = errors.New("usage")
	openStore           = blob.OpenConfig
	stdin     io.Reader = os.Stdin
)

func main() {
	code := cli(os.Args[1:], os.Stdout, os.Stderr)
	exitFunc(code)
}

func cli(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("blobctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		driver  string
		root    string
		dbPath  string
		dsn     string
		verbose bool
	)
	fs.StringVar(&driver, "driver", "", "backend driver (overrides BLOBKIT_DRIVER)")
	fs.StringVar(&root, "root", "", "filesystem root for -driver fs")
	fs.StringVar(&dbPath, "db", "", "database file for -driver sqlite")
	fs.StringVar(&dsn, "dsn", "", "connection string for -driver postgres")
	fs.BoolVar(&verbose, "v", false, "log every storage call")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		_, _ = fmt.Fprintln(stderr, "blobctl: missing command")
		return 2
	}

	level := zerolog.WarnLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: stderr, TimeFormat: time.Kitchen}).
		Level(level).With().Timestamp().Logger()

	cfg, err := blob.ConfigFromEnv()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "blobctl: %v\n", err)
		return 1
	}
	override(&cfg.Driver, driver)
	override(&cfg.FSRoot, root)
	override(&cfg.SQLitePath, dbPath)
	override(&cfg.PostgresDSN, dsn)

	ctx := context.Background()
	store, err := openStore(ctx, cfg, log.Logger)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "blobctl: open %s: %v\n", cfg.Driver, err)
		return 1
	}
	if verbose {
		store = blob.Instrument(store, nil, log.Logger)
	}

	err = run(ctx, blob.NewAccount(store), fs.Args(), stdout, stderr)
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errUsage):
		_, _ = fmt.Fprintf(stderr, "blobctl: %v\n", err)
		return 2
	default:
		_, _ = fmt.Fprintf(stderr, "blobctl: %v\n", err)
		return 1
	}
}

func override(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func run(ctx context.Context, account blob.Account, args []string, stdout, stderr io.Writer) error {
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "containers":
		return listContainers(ctx, account, stdout)
	case "mkcontainer":
		return makeContainer(ctx, account, rest, stdout)
	case "rmcontainer":
		if len(rest) != 1 {
			return fmt.Errorf("%w: rmcontainer <container>", errUsage)
		}
		deleted, err := account.Container(rest[0]).Delete(ctx)
		if err != nil {
			return err
		}
		return report(stdout, deleted, "deleted", "absent")
	case "ls":
		return listBlobs(ctx, account, rest, stdout)
	case "cat":
		if len(rest) != 1 {
			return fmt.Errorf("%w: cat <container>/<blob>", errUsage)
		}
		c, err := account.Blob(rest[0]).Contents(ctx)
		if err != nil {
			return err
		}
		_, err = io.WriteString(stdout, c.Contents)
		return err
	case "put", "append":
		return write(ctx, account, cmd, rest, stdout, stderr)
	case "rm":
		if len(rest) != 1 {
			return fmt.Errorf("%w: rm <container>/<blob>", errUsage)
		}
		deleted, err := account.Blob(rest[0]).Delete(ctx)
		if err != nil {
			return err
		}
		return report(stdout, deleted, "deleted", "absent")
	case "url":
		return printURL(ctx, account, rest, stdout, stderr)
	}
	return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
}

func report(w io.Writer, ok bool, yes, no string) error {
	msg := no
	if ok {
		msg = yes
	}
	_, err := fmt.Fprintln(w, msg)
	return err
}

func listContainers(ctx context.Context, account blob.Account, stdout io.Writer) error {
	infos, err := account.Store().ListContainers(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	for _, c := range infos {
		_, _ = fmt.Fprintf(tw, "%s\t%s\n", c.Name, c.LastModified.UTC().Format(time.RFC3339))
	}
	return tw.Flush()
}

const policyNames = "private|object-readable|container-readable"

func makeContainer(ctx context.Context, account blob.Account, args []string, stdout io.Writer) error {
	if len(args) < 1 || len(args) > 2 {
		return fmt.Errorf("%w: mkcontainer <container> [%s]", errUsage, policyNames)
	}
	policy := blob.AccessPrivate
	if len(args) == 2 {
		policy = blob.AccessPolicy(args[1])
		if !policy.Valid() {
			return fmt.Errorf("%w: unknown policy %q, want one of %s", errUsage, args[1], policyNames)
		}
	}
	created, err := account.Container(args[0]).Create(ctx, policy)
	if err != nil {
		return err
	}
	return report(stdout, created, "created", "exists")
}

func listBlobs(ctx context.Context, account blob.Account, args []string, stdout io.Writer) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: ls <container>[/<prefix>]", errUsage)
	}
	p := blob.ParsePath(args[0])
	infos, err := account.Container(p.Container).Blobs(ctx, p.Object)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	for _, b := range infos {
		_, _ = fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", b.Path.Object, b.Size, b.BlobType, b.ETag)
	}
	return tw.Flush()
}

func write(ctx context.Context, account blob.Account, cmd string, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	fs.SetOutput(stderr)
	contentType := fs.String("type", "", "content type")
	etag := fs.String("etag", "", "write only if the current version matches")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("%w: %s [-type T] [-etag E] <container>/<blob>", errUsage, cmd)
	}
	body, err := io.ReadAll(stdin)
	if err != nil {
		return fmt.Errorf("read stdin: %w", err)
	}
	target := account.Blob(fs.Arg(0))

	var tag string
	if cmd == "put" {
		res, err := blob.BlockBlob{Blob: target}.SetContents(ctx, string(body), blob.WriteOptions{ContentType: *contentType, ETag: *etag})
		if err != nil {
			return err
		}
		tag = res.ETag
	} else {
		ab := blob.AppendBlob{Blob: target}
		if *etag == "" {
			if _, err := ab.Create(ctx, blob.CreateOptions{ContentType: *contentType}); err != nil {
				return err
			}
		}
		res, err := ab.Append(ctx, string(body), blob.AppendOptions{ETag: *etag})
		if err != nil {
			return err
		}
		tag = res.ETag
	}
	_, err = fmt.Fprintln(stdout, tag)
	return err
}

func printURL(ctx context.Context, account blob.Account, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("url", flag.ContinueOnError)
	fs.SetOutput(stderr)
	sign := fs.Bool("sign", false, "append a read-only signature")
	encode := fs.Bool("encode", false, "percent-encode the object name")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if fs.NArg() > 1 {
		return fmt.Errorf("%w: url [-sign] [-encode] [path]", errUsage)
	}
	opts := blob.URLOptions{IncludeSignature: *sign, EncodeObjectName: *encode}
	var (
		u   string
		err error
	)
	p := blob.ParsePath(strings.TrimSpace(fs.Arg(0)))
	switch {
	case p.Container == "":
		u, err = account.URL(ctx, opts)
	case p.Object == "":
		u, err = account.Container(p.Container).URL(ctx, opts)
	default:
		u, err = account.BlobAt(p).URL(ctx, opts)
	}
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(stdout, u)
	return err
}
