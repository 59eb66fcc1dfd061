package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/mulgadc/s3stream/s3"
	"go.uber.org/automaxprocs/maxprocs"
)

func exitErrorf(msg string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, msg+"\n", args...)
	os.Exit(1)
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: s3stream [flags] <command> [args]

Commands:
  ls [prefix]        List keys under the configured prefix
  get <key>          Fetch an object and write the body to stdout
  head <key>         Print object headers and user metadata
  put <key> <file>   Upload a file, multipart when larger than part-size
  rm <key>           Delete an object

Flags:
`)
	flag.PrintDefaults()
}

func main() {
	config := flag.String("config", "", "Client configuration file (TOML)")
	host := flag.String("host", "", "S3 endpoint host")
	bucket := flag.String("bucket", "", "Bucket name")
	useTLS := flag.Bool("tls", false, "Use HTTPS")
	pathStyle := flag.Bool("path-style", false, "Force path-style bucket addressing")
	partSize := flag.Int64("part-size", 0, "Multipart part size in bytes")
	debug := flag.Bool("debug", false, "Enable verbose debug logs")
	flag.Usage = usage
	flag.Parse()

	// Env vars overwrite CLI options
	if os.Getenv("S3STREAM_CONFIG") != "" {
		*config = os.Getenv("S3STREAM_CONFIG")
	}
	if os.Getenv("S3STREAM_HOST") != "" {
		*host = os.Getenv("S3STREAM_HOST")
	}
	if os.Getenv("S3STREAM_BUCKET") != "" {
		*bucket = os.Getenv("S3STREAM_BUCKET")
	}

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	// Adjust MAXPROCS if running under linux/cgroups quotas.
	undo, err := maxprocs.Set(maxprocs.Logger(log.Printf))
	if err != nil {
		log.Printf("Failed to set GOMAXPROCS: %v", err)
	} else {
		defer undo()
	}

	client, err := s3.New(&s3.Config{
		ConfigPath:      *config,
		AccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
		SecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
		Host:            *host,
		TLS:             *useTLS,
		Bucket:          *bucket,
		PathStyle:       *pathStyle,
		PartSize:        *partSize,
		Debug:           *debug,
	})
	if err != nil {
		exitErrorf("Configuration error: %v", err)
	}

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	ctx := context.Background()

	switch args[0] {
	case "ls":
		prefix := ""
		if len(args) > 1 {
			prefix = args[1]
		}
		listing, err := client.List(ctx, s3.ListOptions{Prefix: prefix})
		if err != nil {
			exitErrorf("Unable to list objects: %v", err)
		}
		for _, p := range listing.CommonPrefixes {
			fmt.Printf("%12s  %s\n", "PRE", p)
		}
		for _, obj := range listing.Keys {
			fmt.Printf("%12d  %s  %s\n", obj.Size, obj.LastModified.Format("2006-01-02 15:04:05"), obj.Key)
		}

	case "get":
		if len(args) < 2 {
			exitErrorf("Usage: s3stream get <key>")
		}
		stream, err := client.HeadThenGet(ctx, args[1])
		if err != nil {
			exitErrorf("Unable to get %q: %v", args[1], err)
		}
		err = stream.Stream(func(_ s3.ObjectHead, chunk []byte) error {
			_, werr := os.Stdout.Write(chunk)
			return werr
		})
		if err != nil {
			exitErrorf("Download of %q failed: %v", args[1], err)
		}

	case "head":
		if len(args) < 2 {
			exitErrorf("Usage: s3stream head <key>")
		}
		obj, err := client.Head(ctx, args[1])
		if err != nil {
			exitErrorf("Unable to head %q: %v", args[1], err)
		}
		fmt.Printf("Content-Type:   %s\n", obj.Head.ContentType)
		fmt.Printf("Content-Length: %d\n", obj.Head.ContentLength)
		fmt.Printf("ETag:           %s\n", obj.Head.ETag)
		if !obj.Head.LastModified.IsZero() {
			fmt.Printf("Last-Modified:  %s\n", obj.Head.LastModified)
		}
		for name, value := range obj.Meta {
			fmt.Printf("x-amz-meta-%s: %s\n", name, value)
		}

	case "put":
		if len(args) < 3 {
			exitErrorf("Usage: s3stream put <key> <file>")
		}
		data, err := os.ReadFile(args[2])
		if err != nil {
			exitErrorf("Unable to read %q: %v", args[2], err)
		}
		result, err := client.Put(ctx, args[1], s3.PutOptions{Body: data})
		if err != nil {
			exitErrorf("Upload of %q failed: %v", args[1], err)
		}
		fmt.Printf("Uploaded %d bytes, ETag %s\n", result.BytesWritten, result.ETag)

	case "rm":
		if len(args) < 2 {
			exitErrorf("Usage: s3stream rm <key>")
		}
		if err := client.Delete(ctx, args[1]); err != nil {
			exitErrorf("Unable to delete %q: %v", args[1], err)
		}
		fmt.Printf("Deleted %s\n", args[1])

	default:
		usage()
		os.Exit(1)
	}
}
