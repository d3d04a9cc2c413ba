package chatlogd

import (
	"context"
	"fmt"
)

// Server ties the Indexer, Reader, and upstream IngestClient together and
// runs them as independent goroutines, one per top-level subsystem,
// coordinated by a context for cancellation.
type Server struct {
	Logger Logger

	Paths   PathMap
	Indexer *Indexer
	Reader  *Reader
}

// NewServer constructs a Server. logger defaults to NewStdLogger() if nil.
func NewServer(paths PathMap, logger Logger) *Server {
	if logger == nil {
		logger = NewStdLogger()
	}
	return &Server{
		Logger: logger,
		Paths:  paths,
	}
}

// RunIngest drains client's Lines() channel, calling Indexer.Ingest for
// each one, until ctx is cancelled or the channel closes. A ChannelStore
// I/O error is logged and ingestion continues with the next line: a
// per-message I/O failure is fatal only for that message, never for the
// loop.
func (s *Server) RunIngest(ctx context.Context, client *IngestClient) error {
	lines := client.Lines(ctx)
	for {
		select {
		case <-ctx.Done():
			return s.Indexer.Close()
		case line, ok := <-lines:
			if !ok {
				return s.Indexer.Close()
			}
			if err := s.Indexer.Ingest(ctx, line); err != nil {
				s.Logger.Printf("ingest error: %v", err)
			}
		}
	}
}

// RunReindex runs Reindexer.ReindexChannel for each of channels, in order,
// once. Intended to be launched as its own goroutine/process; callers must
// ensure live ingest for a channel is quiesced before reindexing it.
func (s *Server) RunReindex(ctx context.Context, rx *Reindexer, channels []string) error {
	for _, channelID := range channels {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		available, err := ScanAvailableLogs(s.Paths, channelID)
		if err != nil {
			return fmt.Errorf("scan available logs for %q: %w", channelID, err)
		}
		if err := rx.ReindexChannel(ctx, channelID, available); err != nil {
			return fmt.Errorf("reindex %q: %w", channelID, err)
		}
	}
	return nil
}
