// Command chatlogd runs the chat-log archive service: it ingests a live
// chat stream, persists channel-day logs and per-user indexes, and serves
// the HTTP query surface.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/chatlogd/chatlogd"
	"github.com/chatlogd/chatlogd/internal/httpapi"
)

func main() {
	configPath := flag.String("config", "chatlogd.yaml", "path to config file")
	flag.Parse()

	logger := chatlogd.NewStdLogger()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := chatlogd.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("chatlogd: %v", err)
	}

	if err := run(ctx, cfg, logger); err != nil {
		log.Fatalf("chatlogd: %v", err)
	}
}

func run(ctx context.Context, cfg *chatlogd.Config, logger chatlogd.Logger) error {
	paths := chatlogd.PathMap{Root: cfg.RootDir}

	var dir chatlogd.UserDirectory
	if cfg.UserDirectoryDBPath != "" {
		bdir, err := chatlogd.OpenBoltUserDirectory(cfg.UserDirectoryDBPath, 8192, unimplementedResolver)
		if err != nil {
			return err
		}
		defer bdir.Close()
		dir = bdir
	}

	indexer := chatlogd.NewIndexer(paths, logger, dir, cfg.UserHandleCacheSize)
	reader := chatlogd.NewReader(paths, logger)
	server := &chatlogd.Server{Logger: logger, Paths: paths, Indexer: indexer, Reader: reader}

	client := chatlogd.NewIngestClient(cfg.UpstreamAddr, cfg.UpstreamNick, cfg.UpstreamPass, cfg.Channels, logger)

	httpSrv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: httpapi.New(reader, logger).Handler(),
	}

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		if err := server.RunIngest(ctx, client); err != nil {
			logger.Printf("ingest loop stopped: %v", err)
		}
	}()

	go func() {
		defer wg.Done()
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Printf("http server stopped: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Printf("shutting down")
	_ = httpSrv.Shutdown(context.Background())
	wg.Wait()
	return nil
}

// unimplementedResolver is the placeholder ResolverFunc until a real
// upstream user-lookup API is wired in; that API lives outside this
// repo's core.
func unimplementedResolver(ctx context.Context, login string) (string, error) {
	return "", chatlogd.ErrResolverNotConfigured
}
