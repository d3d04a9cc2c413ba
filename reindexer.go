package chatlogd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// AvailableLogs enumerates which (year, month, day) channel-day files exist
// for a channel, the input to Reindexer.ReindexChannel.
type AvailableLogs map[int]map[int][]int // year -> month -> days

// Reindexer rebuilds every user-month index for a channel from its
// channel-day files, discarding whatever indexes already exist, using
// blocking os.File calls rather than an async I/O runtime.
type Reindexer struct {
	paths   PathMap
	logger  Logger
	dir     UserDirectory
	handles *UserHandleCache
}

// NewReindexer constructs a Reindexer. handles may be the same
// UserHandleCache the live Indexer uses, provided the caller quiesces
// ingest for the channel/month being reindexed first.
func NewReindexer(paths PathMap, logger Logger, dir UserDirectory, handles *UserHandleCache) *Reindexer {
	return &Reindexer{
		paths:   paths,
		logger:  WithPrefix(logger, "reindexer: "),
		dir:     dir,
		handles: handles,
	}
}

// ReindexChannel rebuilds every (year, month) named in available for
// channelID. The users/ directory is cleared exactly once per (channel,
// year, month), before that month's day loop begins — not once per day,
// which would discard partial progress on every iteration.
func (rx *Reindexer) ReindexChannel(ctx context.Context, channelID string, available AvailableLogs) error {
	years := make([]int, 0, len(available))
	for y := range available {
		years = append(years, y)
	}
	sort.Ints(years)

	for _, year := range years {
		months := make([]int, 0, len(available[year]))
		for m := range available[year] {
			months = append(months, m)
		}
		sort.Ints(months)

		for _, month := range months {
			if err := rx.reindexMonth(ctx, channelID, year, month, available[year][month]); err != nil {
				rx.logger.Printf("channel %s %d-%d: %v", channelID, year, month, err)
			}
		}
	}
	return nil
}

func (rx *Reindexer) reindexMonth(ctx context.Context, channelID string, year, month int, days []int) error {
	rx.logger.Printf("reindexing channel %s %d-%d", channelID, year, month)

	if rx.handles != nil {
		rx.handles.EvictMonth(channelID, year, month)
	}

	usersDir := rx.paths.UsersDir(channelID, year, month)
	if err := os.RemoveAll(usersDir); err != nil {
		return fmt.Errorf("clear users directory %q: %w", usersDir, err)
	}

	sortedDays := append([]int(nil), days...)
	sort.Ints(sortedDays)

	stores := make(map[string]*UserIndexStore)
	defer func() {
		for _, s := range stores {
			if err := s.Close(); err != nil {
				rx.logger.Printf("closing user store: %v", err)
			}
		}
	}()

	for _, day := range sortedDays {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := rx.reindexDay(ctx, channelID, year, month, day, stores); err != nil {
			rx.logger.Printf("day %d-%d-%d: %v", year, month, day, err)
			continue
		}
		for _, s := range stores {
			if err := s.Flush(); err != nil {
				rx.logger.Printf("flush user store: %v", err)
			}
		}
	}
	return nil
}

func (rx *Reindexer) reindexDay(ctx context.Context, channelID string, year, month, day int, stores map[string]*UserIndexStore) error {
	path := rx.paths.ChannelDayFile(channelID, year, month, day)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open channel day %q: %w", path, err)
	}
	defer f.Close()

	var codec MessageCodec
	var offset uint64
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		lineOffset := offset
		offset += uint64(len(line)) + 1 // +1 for the newline stream-position skips past

		msg, err := codec.Parse(line)
		if err != nil {
			rx.logger.Printf("skipping malformed line in %q: %v", path, err)
			continue
		}

		userID, ok := rx.resolveUserID(ctx, msg, parseRawTags(line))
		if !ok {
			continue
		}

		store, ok := stores[userID]
		if !ok {
			store, err = openUserIndexStore(rx.paths, channelID, year, month, userID)
			if err != nil {
				rx.logger.Printf("opening user store for %q: %v", userID, err)
				continue
			}
			stores[userID] = store
		}

		rec := IndexRecord{Day: uint32(day), Offset: lineOffset, Length: uint32(len(line))}
		if err := store.Append(rec); err != nil {
			rx.logger.Printf("appending index for %q: %v", userID, err)
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("scan %q: %w", path, err)
	}
	return nil
}

func (rx *Reindexer) resolveUserID(ctx context.Context, msg Message, rawTags map[string]string) (string, bool) {
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
	if login == "" || rx.dir == nil {
		return "", false
	}

	id, err := rx.dir.Resolve(ctx, login)
	if err != nil {
		rx.logger.Printf("user directory resolution failed for %q: %v", login, err)
		return "", false
	}
	return id, true
}

// ScanAvailableLogs walks root/channelID looking for {day}.txt files and
// builds an AvailableLogs map, the input ReindexChannel needs to know which
// days to rebuild.
func ScanAvailableLogs(paths PathMap, channelID string) (AvailableLogs, error) {
	base := filepath.Join(paths.Root, channelID)
	result := make(AvailableLogs)

	years, err := listNumericDirs(base)
	if err != nil {
		if os.IsNotExist(err) {
			return result, nil
		}
		return nil, err
	}
	for _, year := range years {
		months, err := listNumericDirs(filepath.Join(base, itoa(year)))
		if err != nil {
			return nil, err
		}
		for _, month := range months {
			days, err := listDayFiles(filepath.Join(base, itoa(year), itoa(month)))
			if err != nil {
				return nil, err
			}
			if len(days) == 0 {
				continue
			}
			if result[year] == nil {
				result[year] = make(map[int][]int)
			}
			result[year][month] = days
		}
	}
	return result, nil
}

func listNumericDirs(dir string) ([]int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []int
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		var n int
		if _, err := fmt.Sscanf(e.Name(), "%d", &n); err == nil {
			out = append(out, n)
		}
	}
	return out, nil
}

func listDayFiles(dir string) ([]int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []int
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		var n int
		if _, err := fmt.Sscanf(e.Name(), "%d.txt", &n); err == nil {
			out = append(out, n)
		}
	}
	return out, nil
}
