package chatlogd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"runtime"
	"sort"
	"sync"
)

// Format selects how Reader renders the lines it streams back.
type Format int

const (
	FormatRaw Format = iota
	FormatText
	FormatJSON
)

// QueryResult is what Reader hands back: either raw/text lines, ready to be
// joined with "\n", or parsed Messages for the JSON surface. Exactly one of
// the two slices is populated, selected by the Format the caller asked for.
type QueryResult struct {
	Lines    []string
	Messages []Message
}

// Reader streams archived chat lines back out, either verbatim from a
// channel-day file or reassembled from a user's IndexRecords, by seeking
// to recorded positions and reading exactly the bytes needed.
type Reader struct {
	paths  PathMap
	logger Logger
	codec  MessageCodec
}

// NewReader constructs a Reader rooted at paths.
func NewReader(paths PathMap, logger Logger) *Reader {
	return &Reader{paths: paths, logger: WithPrefix(logger, "reader: ")}
}

// ErrNotFound is returned when the requested channel/day or user/month has
// no archived data at all, distinct from an empty-but-present result.
var ErrNotFound = fmt.Errorf("not found")

// ReadChannelDay streams every line archived for channelID on the given
// date, in file order unless reverse is requested.
func (r *Reader) ReadChannelDay(channelID string, year, month, day int, reverse bool, format Format) (QueryResult, error) {
	path := r.paths.ChannelDayFile(channelID, year, month, day)
	lines, err := readAllLines(path)
	if err != nil {
		if os.IsNotExist(err) {
			return QueryResult{}, ErrNotFound
		}
		return QueryResult{}, fmt.Errorf("read channel day: %w", err)
	}
	if reverse {
		reverseStrings(lines)
	}
	return r.render(lines, format)
}

// ReadUserMonth streams every line a user sent in channelID during
// (year, month), reconstructed from that user's IndexRecords.
func (r *Reader) ReadUserMonth(channelID, userID string, year, month int, reverse bool, format Format) (QueryResult, error) {
	recs, err := r.readIndexRecords(channelID, userID, year, month)
	if err != nil {
		return QueryResult{}, err
	}
	lines, err := r.resolveLines(channelID, year, month, recs)
	if err != nil {
		return QueryResult{}, err
	}
	if reverse {
		reverseStrings(lines)
	}
	return r.render(lines, format)
}

// ReadUserDay is ReadUserMonth filtered down to a single day.
func (r *Reader) ReadUserDay(channelID, userID string, year, month, day int, reverse bool, format Format) (QueryResult, error) {
	recs, err := r.readIndexRecords(channelID, userID, year, month)
	if err != nil {
		return QueryResult{}, err
	}
	filtered := recs[:0:0]
	for _, rec := range recs {
		if int(rec.Day) == day {
			filtered = append(filtered, rec)
		}
	}
	lines, err := r.resolveLines(channelID, year, month, filtered)
	if err != nil {
		return QueryResult{}, err
	}
	if reverse {
		reverseStrings(lines)
	}
	return r.render(lines, format)
}

func (r *Reader) readIndexRecords(channelID, userID string, year, month int) ([]IndexRecord, error) {
	path := r.paths.UserMonthIndex(channelID, year, month, userID)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("open user index: %w", err)
	}
	defer f.Close()

	var recs []IndexRecord
	buf := make([]byte, IndexRecordSize)
	for {
		_, err := io.ReadFull(f, buf)
		if err == io.EOF {
			break
		}
		if err == io.ErrUnexpectedEOF {
			r.logger.Printf("truncated index record tail in %q, skipping", path)
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read user index %q: %w", path, err)
		}
		rec, err := DecodeIndexRecord(buf)
		if err != nil {
			r.logger.Printf("corrupt index record in %q: %v", path, err)
			continue
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// resolveLines groups recs by day, opens each day's channel file once, and
// seeks to each record's offset. Records whose day file is missing, or
// whose (offset, length) exceeds the file's size, are skipped with a
// warning.
func (r *Reader) resolveLines(channelID string, year, month int, recs []IndexRecord) ([]string, error) {
	byDay := make(map[uint32][]IndexRecord)
	var days []uint32
	for _, rec := range recs {
		if _, ok := byDay[rec.Day]; !ok {
			days = append(days, rec.Day)
		}
		byDay[rec.Day] = append(byDay[rec.Day], rec)
	}
	sort.Slice(days, func(i, j int) bool { return days[i] < days[j] })

	var lines []string
	for _, day := range days {
		dayRecs := byDay[day]
		path := r.paths.ChannelDayFile(channelID, year, month, int(day))
		f, err := os.Open(path)
		if err != nil {
			if os.IsNotExist(err) {
				r.logger.Printf("index references missing day file %q, skipping", path)
				continue
			}
			return nil, fmt.Errorf("open channel day %q: %w", path, err)
		}

		info, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("stat channel day %q: %w", path, err)
		}
		size := uint64(info.Size())

		for _, rec := range dayRecs {
			if rec.Offset+uint64(rec.Length) > size {
				r.logger.Printf("index record %+v exceeds size of %q, skipping", rec, path)
				continue
			}
			buf := make([]byte, rec.Length)
			if _, err := f.ReadAt(buf, int64(rec.Offset)); err != nil {
				f.Close()
				return nil, fmt.Errorf("read %q at offset %d: %w", path, rec.Offset, err)
			}
			lines = append(lines, string(buf))
		}
		f.Close()
	}
	return lines, nil
}

// render converts a line batch into the requested Format. Parsing
// (FormatJSON, and FormatText's formatting) is parallelized across a fixed
// worker pool, order-preserving.
func (r *Reader) render(lines []string, format Format) (QueryResult, error) {
	if format == FormatRaw {
		return QueryResult{Lines: lines}, nil
	}

	messages := r.parseParallel(lines)

	if format == FormatJSON {
		return QueryResult{Messages: messages}, nil
	}

	texts := make([]string, len(messages))
	for i, m := range messages {
		texts[i] = r.codec.FormatText(m)
	}
	return QueryResult{Lines: texts}, nil
}

// parseParallel parses each line into a Message using a bounded worker
// pool, preserving input order in the result. Lines that fail to parse are
// dropped from the result rather than returned as an error, so one bad
// record doesn't fail an entire day or month query.
func (r *Reader) parseParallel(lines []string) []Message {
	type result struct {
		msg Message
		ok  bool
	}
	results := make([]result, len(lines))

	workers := runtime.GOMAXPROCS(0)
	if workers > len(lines) {
		workers = len(lines)
	}
	if workers < 1 {
		workers = 1
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for i := range jobs {
				msg, err := r.codec.Parse(lines[i])
				if err != nil {
					continue
				}
				results[i] = result{msg: msg, ok: true}
			}
		}()
	}
	for i := range lines {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	out := make([]Message, 0, len(lines))
	for _, res := range results {
		if res.ok {
			out = append(out, res.msg)
		}
	}
	return out
}

func readAllLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan %q: %w", path, err)
	}
	return lines, nil
}

func reverseStrings(s []string) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
