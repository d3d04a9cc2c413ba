package chatlogd

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ChannelStore owns the append-only write handle for one channel's current
// day file and reports exactly where each line landed, so the Indexer can
// record an IndexRecord atomically with the write. The file is opened
// strictly append-only: never truncated, and never read back through this
// handle.
type ChannelStore struct {
	paths PathMap

	mu      sync.Mutex
	channel string
	year    int
	month   int
	day     int
	file    *os.File
	w       *bufio.Writer
	size    uint64 // cached size of the open file; offsets are derived from this, never from fstat
}

// NewChannelStore returns a store that will lazily open files beneath
// paths.Root on first Append.
func NewChannelStore(paths PathMap, channel string) *ChannelStore {
	return &ChannelStore{paths: paths, channel: channel}
}

// Append writes raw (without its trailing newline) to the channel-day file
// for date, creating parent directories and the file itself on first use.
// It returns the byte offset at which raw begins and its length, excluding
// the newline that Append writes after it. Safe for concurrent use: the
// whole compute-offset-then-write sequence runs under cs.mu.
func (cs *ChannelStore) Append(year, month, day int, raw string) (offset uint64, length uint32, err error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if err := cs.ensureOpen(year, month, day); err != nil {
		return 0, 0, err
	}

	offset = cs.size
	length = uint32(len(raw))

	if _, err := cs.w.WriteString(raw); err != nil {
		return 0, 0, fmt.Errorf("channel store: write line: %w", err)
	}
	if err := cs.w.WriteByte('\n'); err != nil {
		return 0, 0, fmt.Errorf("channel store: write newline: %w", err)
	}
	cs.size += uint64(length) + 1

	return offset, length, nil
}

// ensureOpen rolls the handle over to date's file if the current handle is
// for a different day (or this is the first Append), flushing and closing
// whatever was open before.
func (cs *ChannelStore) ensureOpen(year, month, day int) error {
	if cs.file != nil && cs.year == year && cs.month == month && cs.day == day {
		return nil
	}

	if err := cs.flushAndCloseLocked(); err != nil {
		return err
	}

	path := cs.paths.ChannelDayFile(cs.channel, year, month, day)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("channel store: create directory for %q: %w", path, err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("channel store: open %q: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("channel store: stat %q: %w", path, err)
	}

	cs.year, cs.month, cs.day = year, month, day
	cs.file = f
	cs.w = bufio.NewWriter(f)
	cs.size = uint64(info.Size())
	return nil
}

// Flush flushes buffered writes to disk without closing the handle, used on
// day rollover (internally) and whenever a caller wants a durability
// checkpoint without giving up the open handle.
func (cs *ChannelStore) Flush() error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.flushLocked()
}

func (cs *ChannelStore) flushLocked() error {
	if cs.w == nil {
		return nil
	}
	if err := cs.w.Flush(); err != nil {
		return fmt.Errorf("channel store: flush: %w", err)
	}
	return nil
}

// Close flushes and closes the current handle, if any. Safe to call
// multiple times.
func (cs *ChannelStore) Close() error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.flushAndCloseLocked()
}

func (cs *ChannelStore) flushAndCloseLocked() error {
	if cs.file == nil {
		return nil
	}
	if err := cs.flushLocked(); err != nil {
		return err
	}
	if err := cs.file.Close(); err != nil {
		return fmt.Errorf("channel store: close: %w", err)
	}
	cs.file = nil
	cs.w = nil
	return nil
}
