package chatlogd

import "log"

// Logger is the minimal sink every subsystem logs through, kept identical
// in shape to *log.Logger so callers can hand one in directly.
type Logger interface {
	Print(v ...interface{})
	Printf(format string, v ...interface{})
}

// prefixLogger prepends a fixed per-subsystem tag to every line. The prefix
// identifies a subsystem ("indexer: ", "reindexer: ", "reader: ",
// "httpapi: ") rather than a connection.
type prefixLogger struct {
	logger Logger
	prefix string
}

var _ Logger = (*prefixLogger)(nil)

// WithPrefix wraps logger so every call is tagged with prefix.
func WithPrefix(logger Logger, prefix string) Logger {
	return &prefixLogger{logger: logger, prefix: prefix}
}

func (l *prefixLogger) Print(v ...interface{}) {
	v = append([]interface{}{l.prefix}, v...)
	l.logger.Print(v...)
}

func (l *prefixLogger) Printf(format string, v ...interface{}) {
	v = append([]interface{}{l.prefix}, v...)
	l.logger.Printf("%v"+format, v...)
}

// NewStdLogger returns a Logger backed by the standard library's log
// package, the default sink used by cmd/chatlogd.
func NewStdLogger() Logger {
	return log.New(log.Writer(), "", log.LstdFlags)
}
