package chatlogd

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Indexer ingests raw chat-protocol lines, persists them to the right
// ChannelStore, and appends an IndexRecord to the right UserIndexStore.
type Indexer struct {
	paths   PathMap
	logger  Logger
	dir     UserDirectory
	codec   MessageCodec
	handles *UserHandleCache

	mu       sync.Mutex
	channels map[string]*ChannelStore
}

// NewIndexer constructs an Indexer. handleCacheSize bounds the number of
// concurrently open UserIndexStore handles; pass 0 for unbounded.
func NewIndexer(paths PathMap, logger Logger, dir UserDirectory, handleCacheSize int) *Indexer {
	return &Indexer{
		paths:    paths,
		logger:   WithPrefix(logger, "indexer: "),
		dir:      dir,
		handles:  NewUserHandleCache(paths, handleCacheSize),
		channels: make(map[string]*ChannelStore),
	}
}

func (ix *Indexer) channelStore(channelID string) *ChannelStore {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	cs, ok := ix.channels[channelID]
	if !ok {
		cs = NewChannelStore(ix.paths, channelID)
		ix.channels[channelID] = cs
	}
	return cs
}

// Ingest processes one raw chat-protocol line. It never returns an error to
// the caller for per-message problems (malformed input, resolution
// failure): those are logged and ingestion continues, so a bad line never
// aborts the ingest loop. It does return an error for a channel-store I/O
// failure that the caller may want to react to, e.g. by reopening the
// handle and retrying.
func (ix *Indexer) Ingest(ctx context.Context, raw string) error {
	msg, parseErr := ix.codec.Parse(raw)

	if parseErr != nil {
		var unsupported *ErrUnsupportedCommand
		if errors.As(parseErr, &unsupported) {
			// Not an archivable command at all (e.g. JOIN/PART/PING):
			// silently ignored, nothing touches disk.
			return nil
		}
		// Malformed input: archivable command, but a required field was
		// missing. The raw line is still written to the channel-day file;
		// it just isn't indexed.
		ix.logger.Printf("dropping unparseable line: %v", parseErr)
	}

	rawTags := parseRawTags(raw)
	channelID, ok := rawTags["room-id"]
	if !ok {
		ix.logger.Printf("dropping line with no room-id tag")
		return nil
	}

	var ts time.Time
	if parseErr == nil {
		ts = msg.Timestamp
	} else {
		tsTag, ok := rawTags["tmi-sent-ts"]
		if !ok {
			ix.logger.Printf("dropping line with no tmi-sent-ts tag")
			return nil
		}
		var err error
		ts, err = parseTmiSentTs(tsTag)
		if err != nil {
			ix.logger.Printf("dropping line with invalid tmi-sent-ts: %v", err)
			return nil
		}
	}
	year, month, day := ts.Date()

	cs := ix.channelStore(channelID)
	offset, length, err := cs.Append(year, int(month), day, raw)
	if err != nil {
		return fmt.Errorf("append to channel store: %w", err)
	}

	if parseErr != nil {
		// Archivable but not decodable by MessageCodec (e.g. a missing
		// required tag or an unparseable tmi-sent-ts):
		// the raw line is preserved, but there's nothing reliable to index
		// against. A later reindex may do better if the codec is extended.
		return nil
	}

	userID, ok := ix.resolveUserID(ctx, msg, rawTags)
	if !ok {
		return nil
	}

	store, err := ix.handles.Get(channelID, year, int(month), userID)
	if err != nil {
		ix.logger.Printf("could not open user index store for %q: %v", userID, err)
		return nil
	}
	if err := store.Append(IndexRecord{Day: uint32(day), Offset: offset, Length: length}); err != nil {
		ix.logger.Printf("could not append index record for %q: %v", userID, err)
	}
	return nil
}

// resolveUserID prefers a direct id tag, falling back to UserDirectory for
// a bare login. Returns ok=false when no
// user id can be determined at all, in which case the message is archived
// (already done by the time this is called) but not indexed.
func (ix *Indexer) resolveUserID(ctx context.Context, msg Message, rawTags map[string]string) (string, bool) {
	idTag := "user-id"
	if msg.Type == MessageTypeClearChat {
		idTag = "target-user-id"
	}

	if id, ok := rawTags[idTag]; ok && id != "" {
		return id, true
	}

	login := rawTags["login"]
	if login == "" {
		login = msg.Username
	}
	if login == "" || ix.dir == nil {
		ix.logger.Printf("no user id tag and no directory configured, skipping index for %q", msg.Raw)
		return "", false
	}

	id, err := ix.dir.Resolve(ctx, login)
	if err != nil {
		ix.logger.Printf("user directory resolution failed for %q: %v", login, err)
		return "", false
	}
	return id, true
}

// Flush flushes every open ChannelStore and UserIndexStore handle. Called
// on day rollover (per channel, internally by ChannelStore) and on
// shutdown.
func (ix *Indexer) Flush() error {
	ix.mu.Lock()
	stores := make([]*ChannelStore, 0, len(ix.channels))
	for _, cs := range ix.channels {
		stores = append(stores, cs)
	}
	ix.mu.Unlock()

	var firstErr error
	for _, cs := range stores {
		if err := cs.Flush(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	ix.handles.mu.Lock()
	for el := ix.handles.order.Front(); el != nil; el = el.Next() {
		if err := el.Value.(*userHandleEntry).store.Flush(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	ix.handles.mu.Unlock()
	return firstErr
}

// Close flushes and closes every open handle, channel stores and user
// index stores alike.
func (ix *Indexer) Close() error {
	ix.mu.Lock()
	stores := make([]*ChannelStore, 0, len(ix.channels))
	for _, cs := range ix.channels {
		stores = append(stores, cs)
	}
	ix.channels = make(map[string]*ChannelStore)
	ix.mu.Unlock()

	var firstErr error
	for _, cs := range stores {
		if err := cs.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := ix.handles.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func parseTmiSentTs(tag string) (time.Time, error) {
	var millis int64
	if _, err := fmt.Sscanf(tag, "%d", &millis); err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(millis).UTC(), nil
}
