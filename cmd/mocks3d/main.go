package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/mulgadc/s3stream/mocks3"
	"go.uber.org/automaxprocs/maxprocs"
)

func main() {
	bucket := flag.String("bucket", "test", "Bucket to serve")
	port := flag.Int("port", 8443, "Server port")
	host := flag.String("host", "0.0.0.0", "Server host")
	debug := flag.Bool("debug", false, "Enable verbose debug logs")
	flag.Parse()

	// Env vars overwrite CLI options
	if os.Getenv("PORT") != "" {
		*port, _ = strconv.Atoi(os.Getenv("PORT"))
	}
	if os.Getenv("BUCKET") != "" {
		*bucket = os.Getenv("BUCKET")
	}

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))

	// Adjust MAXPROCS if running under linux/cgroups quotas.
	undo, err := maxprocs.Set(maxprocs.Logger(log.Printf))
	if err != nil {
		log.Printf("Failed to set GOMAXPROCS: %v", err)
	} else {
		defer undo()
	}

	server := mocks3.New(*bucket)

	addr := fmt.Sprintf("%s:%d", *host, *port)
	slog.Info("Starting mock S3 server", "addr", addr, "bucket", *bucket)

	srv := &http.Server{
		Addr:              addr,
		Handler:           server.Handler(),
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Fatal(srv.ListenAndServe())
}
