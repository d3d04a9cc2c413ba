package chatlogd

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	irc "gopkg.in/irc.v3"
)

// MessageType mirrors the subset of Twitch's tmi command kinds the archive
// keeps. Values are the integers serialized in a Message's JSON "type"
// field, not any IRC numeric.
type MessageType int8

const (
	MessageTypePrivMsg    MessageType = 1
	MessageTypeClearChat  MessageType = 2
	MessageTypeUserNotice MessageType = 4
	MessageTypeClearMsg   MessageType = 13
)

func (t MessageType) String() string {
	switch t {
	case MessageTypePrivMsg:
		return "PRIVMSG"
	case MessageTypeClearChat:
		return "CLEARCHAT"
	case MessageTypeUserNotice:
		return "USERNOTICE"
	case MessageTypeClearMsg:
		return "CLEARMSG"
	default:
		return "UNKNOWN"
	}
}

// Message is the normalized, archivable record produced by MessageCodec.Parse.
// Fields always own their storage rather than borrowing from the raw line,
// since Go has no ergonomic equivalent of a borrowed-or-owned string type.
type Message struct {
	Type        MessageType       `json:"type"`
	Text        string            `json:"text"`
	Username    string            `json:"username"`
	DisplayName string            `json:"displayName"`
	Channel     string            `json:"channel"`
	Timestamp   time.Time         `json:"timestamp"`
	ID          string            `json:"id"`
	Raw         string            `json:"raw"`
	Tags        map[string]string `json:"tags"`
}

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

const textTimestampLayout = "2006-01-02 15:04:05"

// ErrUnsupportedCommand is returned by Parse for any command kind that is
// not archivable. Callers that only care whether a line should be archived
// should use Archivable instead of comparing against this sentinel for every
// command name.
type ErrUnsupportedCommand struct {
	Command string
}

func (e *ErrUnsupportedCommand) Error() string {
	return fmt.Sprintf("unsupported message type: %s", e.Command)
}

// ErrMissingField is returned when a command-required tag or prefix field is
// absent from an otherwise well-formed line.
type ErrMissingField struct {
	Command string
	Field   string
}

func (e *ErrMissingField) Error() string {
	return fmt.Sprintf("%s message missing required field %q", e.Command, e.Field)
}

// Archivable reports whether the indexer should persist messages of the
// given command. Case-insensitive, matching IRC command conventions.
func Archivable(command string) bool {
	switch strings.ToUpper(command) {
	case "PRIVMSG", "CLEARCHAT", "USERNOTICE", "CLEARMSG":
		return true
	default:
		return false
	}
}

// MessageCodec parses raw chat-protocol lines into Messages and formats
// Messages back out for the HTTP surface. It holds no state; it exists as a
// value so callers can be written against an interface in tests.
type MessageCodec struct{}

// Parse turns one raw chat-protocol line into a Message. raw must not
// include the trailing newline; trailing whitespace is trimmed defensively.
func (MessageCodec) Parse(raw string) (Message, error) {
	line := strings.TrimRight(raw, " \t\r\n")

	rawTags := parseRawTags(line)

	msg, err := irc.ParseMessage(line)
	if err != nil {
		return Message{}, fmt.Errorf("parse irc frame: %w", err)
	}

	if !Archivable(msg.Command) {
		return Message{}, &ErrUnsupportedCommand{Command: msg.Command}
	}

	tsTag, ok := rawTags["tmi-sent-ts"]
	if !ok {
		return Message{}, &ErrMissingField{Command: msg.Command, Field: "tmi-sent-ts"}
	}
	tsMillis, err := strconv.ParseInt(tsTag, 10, 64)
	if err != nil {
		return Message{}, fmt.Errorf("parse tmi-sent-ts tag: %w", err)
	}
	timestamp := time.UnixMilli(tsMillis).UTC()

	channel := ""
	if len(msg.Params) > 0 {
		channel = strings.TrimPrefix(msg.Params[0], "#")
	}

	switch strings.ToUpper(msg.Command) {
	case "PRIVMSG":
		return parsePrivmsg(msg, line, channel, timestamp, rawTags)
	case "CLEARCHAT":
		return parseClearchat(msg, line, channel, timestamp, rawTags)
	case "USERNOTICE":
		return parseUsernotice(msg, line, channel, timestamp, rawTags)
	case "CLEARMSG":
		return parseClearmsg(msg, line, channel, timestamp, rawTags)
	default:
		// Unreachable: Archivable already filtered the command set above.
		return Message{}, &ErrUnsupportedCommand{Command: msg.Command}
	}
}

func parsePrivmsg(msg *irc.Message, raw, channel string, ts time.Time, tags map[string]string) (Message, error) {
	if len(msg.Params) < 2 {
		return Message{}, &ErrMissingField{Command: "PRIVMSG", Field: "text"}
	}
	displayName, ok := tags["display-name"]
	if !ok {
		return Message{}, &ErrMissingField{Command: "PRIVMSG", Field: "display-name"}
	}
	id, ok := tags["id"]
	if !ok {
		return Message{}, &ErrMissingField{Command: "PRIVMSG", Field: "id"}
	}
	if msg.Prefix == nil || msg.Prefix.Name == "" {
		return Message{}, &ErrMissingField{Command: "PRIVMSG", Field: "prefix nick"}
	}

	return Message{
		Type:        MessageTypePrivMsg,
		Text:        extractMessageText(msg.Params[1]),
		Username:    msg.Prefix.Name,
		DisplayName: displayName,
		Channel:     channel,
		Timestamp:   ts,
		ID:          id,
		Raw:         raw,
		Tags:        tags,
	}, nil
}

func parseClearchat(msg *irc.Message, raw, channel string, ts time.Time, tags map[string]string) (Message, error) {
	var login string
	if len(msg.Params) > 1 {
		login = msg.Params[1]
	}

	var text string
	switch {
	case login == "":
		text = "Chat has been cleared"
	default:
		if dur, ok := tags["ban-duration"]; ok {
			text = fmt.Sprintf("%s has been timed out for %s seconds", login, dur)
		} else {
			text = fmt.Sprintf("%s has been banned", login)
		}
	}

	return Message{
		Type:        MessageTypeClearChat,
		Text:        text,
		Username:    login,
		DisplayName: login,
		Channel:     channel,
		Timestamp:   ts,
		ID:          "",
		Raw:         raw,
		Tags:        tags,
	}, nil
}

func parseUsernotice(msg *irc.Message, raw, channel string, ts time.Time, tags map[string]string) (Message, error) {
	systemMsg, ok := tags["system-msg"]
	if !ok {
		return Message{}, &ErrMissingField{Command: "USERNOTICE", Field: "system-msg"}
	}
	text := unescapeTagValue(systemMsg)
	if len(msg.Params) > 1 && msg.Params[1] != "" {
		text = text + " " + extractMessageText(msg.Params[1])
	}

	displayName, ok := tags["display-name"]
	if !ok {
		return Message{}, &ErrMissingField{Command: "USERNOTICE", Field: "display-name"}
	}
	username, ok := tags["login"]
	if !ok {
		return Message{}, &ErrMissingField{Command: "USERNOTICE", Field: "login"}
	}
	id, ok := tags["id"]
	if !ok {
		return Message{}, &ErrMissingField{Command: "USERNOTICE", Field: "id"}
	}

	decodedTags := make(map[string]string, len(tags))
	for k, v := range tags {
		decodedTags[k] = unescapeTagValue(v)
	}

	return Message{
		Type:        MessageTypeUserNotice,
		Text:        text,
		Username:    username,
		DisplayName: displayName,
		Channel:     channel,
		Timestamp:   ts,
		ID:          id,
		Raw:         raw,
		Tags:        decodedTags,
	}, nil
}

func parseClearmsg(msg *irc.Message, raw, channel string, ts time.Time, tags map[string]string) (Message, error) {
	var text string
	if len(msg.Params) > 1 {
		text = msg.Params[1]
	}
	login := tags["login"]

	return Message{
		Type:        MessageTypeClearMsg,
		Text:        text,
		Username:    login,
		DisplayName: login,
		Channel:     channel,
		Timestamp:   ts,
		ID:          tags["target-msg-id"],
		Raw:         raw,
		Tags:        tags,
	}, nil
}

// extractMessageText strips a leading ":" (left over from IRC trailing-param
// syntax the caller may not have stripped) and unwraps a CTCP ACTION frame.
func extractMessageText(text string) string {
	text = strings.TrimPrefix(text, ":")
	const actionPrefix = "ACTION "
	const actionSuffix = ""
	if strings.HasPrefix(text, actionPrefix) && strings.HasSuffix(text, actionSuffix) {
		text = strings.TrimPrefix(text, actionPrefix)
		return strings.TrimSuffix(text, actionSuffix)
	}
	return text
}

// FormatText renders a Message the way it's displayed in a plain-text log
// response: "[YYYY-MM-DD HH:MM:SS] #channel username: text".
func (MessageCodec) FormatText(m Message) string {
	ts := m.Timestamp.UTC().Format(textTimestampLayout)
	if m.Username != "" {
		return fmt.Sprintf("[%s] #%s %s: %s", ts, m.Channel, m.Username, m.Text)
	}
	return fmt.Sprintf("[%s] #%s %s", ts, m.Channel, m.Text)
}

// SerializeJSON marshals a Message with the camelCase field names the HTTP
// JSON surface promises.
func (MessageCodec) SerializeJSON(m Message) ([]byte, error) {
	return jsonAPI.Marshal(m)
}

// MarshalMessages marshals a query result's message list the same way
// SerializeJSON marshals one, so the HTTP surface's JSON responses go
// through jsoniter rather than gin's default encoding/json renderer.
func MarshalMessages(messages []Message) ([]byte, error) {
	return jsonAPI.Marshal(struct {
		Messages []Message `json:"messages"`
	}{Messages: messages})
}

// parseRawTags extracts the leading "@key=value;key=value " tag block from a
// raw IRC line without applying escape decoding, so callers can choose when
// (and whether) to decode per the command's own rules. Returns an empty,
// non-nil map if the line carries no tags.
func parseRawTags(line string) map[string]string {
	tags := make(map[string]string)
	if !strings.HasPrefix(line, "@") {
		return tags
	}
	end := strings.IndexByte(line, ' ')
	if end == -1 {
		end = len(line)
	}
	block := line[1:end]
	for _, pair := range strings.Split(block, ";") {
		if pair == "" {
			continue
		}
		k, v, _ := strings.Cut(pair, "=")
		tags[k] = v
	}
	return tags
}

// unescapeTagValue decodes the IRCv3 tag-value escape scheme: \s -> space,
// \n -> LF, \: -> ;, \\ -> \. Any other escaped byte is passed through
// unescaped, and a trailing lone backslash is kept as is.
func unescapeTagValue(v string) string {
	if !strings.ContainsRune(v, '\\') {
		return v
	}
	var b strings.Builder
	b.Grow(len(v))
	for i := 0; i < len(v); i++ {
		c := v[i]
		if c != '\\' || i == len(v)-1 {
			b.WriteByte(c)
			continue
		}
		i++
		switch v[i] {
		case 's':
			b.WriteByte(' ')
		case 'n':
			b.WriteByte('\n')
		case ':':
			b.WriteByte(';')
		case '\\':
			b.WriteByte('\\')
		default:
			b.WriteByte(v[i])
		}
	}
	return b.String()
}
