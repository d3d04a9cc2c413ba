package chatlogd

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
)

// UserIndexStore appends IndexRecords for one (channel, year, month, user).
// It is not safe for concurrent use; the Indexer/Reindexer serialize access
// per the LRU cache in UserHandleCache.
type UserIndexStore struct {
	path string
	file *os.File
	w    *bufio.Writer
}

// openUserIndexStore lazily creates the users/ directory and the user's
// index file, opening it for append. The file is never opened in
// truncating mode.
func openUserIndexStore(paths PathMap, channel string, year, month int, userID string) (*UserIndexStore, error) {
	path := paths.UserMonthIndex(channel, year, month, userID)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("user index store: create directory for %q: %w", path, err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("user index store: open %q: %w", path, err)
	}
	return &UserIndexStore{path: path, file: f, w: bufio.NewWriter(f)}, nil
}

// Append writes one IndexRecord to the end of the user's month index.
func (us *UserIndexStore) Append(rec IndexRecord) error {
	buf := rec.Encode()
	if _, err := us.w.Write(buf[:]); err != nil {
		return fmt.Errorf("user index store: write %q: %w", us.path, err)
	}
	return nil
}

// Flush flushes buffered writes without closing the handle.
func (us *UserIndexStore) Flush() error {
	if err := us.w.Flush(); err != nil {
		return fmt.Errorf("user index store: flush %q: %w", us.path, err)
	}
	return nil
}

// Close flushes and closes the handle.
func (us *UserIndexStore) Close() error {
	if err := us.Flush(); err != nil {
		return err
	}
	if err := us.file.Close(); err != nil {
		return fmt.Errorf("user index store: close %q: %w", us.path, err)
	}
	return nil
}
