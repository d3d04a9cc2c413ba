// Command chatlogd-reindex rebuilds every user-month index for one or more
// channels from their channel-day files. It must not be run concurrently
// with a live chatlogd ingesting the same channel/month.
package main

import (
	"context"
	"flag"
	"log"
	"strings"

	"github.com/chatlogd/chatlogd"
)

func main() {
	configPath := flag.String("config", "chatlogd.yaml", "path to config file")
	channelsFlag := flag.String("channels", "", "comma-separated channel ids to reindex (default: all channels in config)")
	flag.Parse()

	logger := chatlogd.NewStdLogger()

	cfg, err := chatlogd.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("chatlogd-reindex: %v", err)
	}

	channels := cfg.Channels
	if *channelsFlag != "" {
		channels = strings.Split(*channelsFlag, ",")
	}

	paths := chatlogd.PathMap{Root: cfg.RootDir}

	var dir chatlogd.UserDirectory
	if cfg.UserDirectoryDBPath != "" {
		bdir, err := chatlogd.OpenBoltUserDirectory(cfg.UserDirectoryDBPath, 8192, func(ctx context.Context, login string) (string, error) {
			return "", chatlogd.ErrResolverNotConfigured
		})
		if err != nil {
			log.Fatalf("chatlogd-reindex: %v", err)
		}
		defer bdir.Close()
		dir = bdir
	}

	handles := chatlogd.NewUserHandleCache(paths, cfg.UserHandleCacheSize)
	defer handles.Close()

	rx := chatlogd.NewReindexer(paths, logger, dir, handles)
	server := &chatlogd.Server{Logger: logger, Paths: paths}

	if err := server.RunReindex(context.Background(), rx, channels); err != nil {
		log.Fatalf("chatlogd-reindex: %v", err)
	}
}
