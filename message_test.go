package chatlogd

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestParsePrivmsg(t *testing.T) {
	raw := "@display-name=Xqc;id=abc-123;tmi-sent-ts=1609459200000;room-id=71092938;user-id=42 :xqcow!xqcow@xqcow.tmi.twitch.tv PRIVMSG #xqc :hello world"

	msg, err := MessageCodec{}.Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if msg.Type != MessageTypePrivMsg {
		t.Errorf("Type = %v, want PrivMsg", msg.Type)
	}
	if msg.Text != "hello world" {
		t.Errorf("Text = %q, want %q", msg.Text, "hello world")
	}
	if msg.Username != "xqcow" {
		t.Errorf("Username = %q, want xqcow", msg.Username)
	}
	if msg.DisplayName != "Xqc" {
		t.Errorf("DisplayName = %q, want Xqc", msg.DisplayName)
	}
	if msg.Channel != "xqc" {
		t.Errorf("Channel = %q, want xqc", msg.Channel)
	}
	if msg.ID != "abc-123" {
		t.Errorf("ID = %q, want abc-123", msg.ID)
	}
	wantTs := time.UnixMilli(1609459200000).UTC()
	if !msg.Timestamp.Equal(wantTs) {
		t.Errorf("Timestamp = %v, want %v", msg.Timestamp, wantTs)
	}
	if msg.Raw != raw {
		t.Errorf("Raw does not match input line (P4 round-trip)")
	}
}

func TestParsePrivmsgAction(t *testing.T) {
	raw := "@display-name=Xqc;id=abc-123;tmi-sent-ts=1609459200000;room-id=1;user-id=2 :xqcow!xqcow@xqcow.tmi.twitch.tv PRIVMSG #xqc :ACTION waves"

	msg, err := MessageCodec{}.Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if msg.Text != "waves" {
		t.Errorf("Text = %q, want %q", msg.Text, "waves")
	}
	if strings.ContainsRune(msg.Text, '\x01') {
		t.Errorf("Text = %q, still contains a SOH byte", msg.Text)
	}
}

func TestParsePrivmsgLiteralActionTextNotStripped(t *testing.T) {
	// No CTCP framing here, just a message that happens to start with the
	// literal text "ACTION " -- extractMessageText must leave it alone.
	raw := "@display-name=Xqc;id=abc-123;tmi-sent-ts=1609459200000;room-id=1;user-id=2 :xqcow!xqcow@xqcow.tmi.twitch.tv PRIVMSG #xqc :ACTION waves"

	msg, err := MessageCodec{}.Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if msg.Text != "ACTION waves" {
		t.Errorf("Text = %q, want %q", msg.Text, "ACTION waves")
	}
}

func TestParseClearchatTimeout(t *testing.T) {
	raw := "@ban-duration=600;room-id=1;target-user-id=42;tmi-sent-ts=1609459200000 CLEARCHAT #xqc :someuser"

	msg, err := MessageCodec{}.Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := "someuser has been timed out for 600 seconds"
	if msg.Text != want {
		t.Errorf("Text = %q, want %q", msg.Text, want)
	}
	if msg.ID != "" {
		t.Errorf("ID = %q, want empty", msg.ID)
	}
}

func TestParseClearchatBanned(t *testing.T) {
	raw := "@room-id=1;tmi-sent-ts=1609459200000 CLEARCHAT #xqc :someuser"

	msg, err := MessageCodec{}.Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := "someuser has been banned"
	if msg.Text != want {
		t.Errorf("Text = %q, want %q", msg.Text, want)
	}
}

func TestParseClearchatCleared(t *testing.T) {
	raw := "@room-id=1;tmi-sent-ts=1609459200000 CLEARCHAT #xqc"

	msg, err := MessageCodec{}.Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if msg.Text != "Chat has been cleared" {
		t.Errorf("Text = %q, want %q", msg.Text, "Chat has been cleared")
	}
	if msg.Username != "" {
		t.Errorf("Username = %q, want empty", msg.Username)
	}
}

func TestParseUsernotice(t *testing.T) {
	raw := "@display-name=Sub;id=abc;login=subuser;room-id=1;system-msg=Sub\\saward!;tmi-sent-ts=1609459200000 USERNOTICE #xqc :thanks"

	msg, err := MessageCodec{}.Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := "Sub award! thanks"
	if msg.Text != want {
		t.Errorf("Text = %q, want %q", msg.Text, want)
	}
	if msg.Username != "subuser" {
		t.Errorf("Username = %q, want subuser", msg.Username)
	}
	// Tag values are escape-decoded for UserNotice.
	if msg.Tags["system-msg"] != "Sub award!" {
		t.Errorf("Tags[system-msg] = %q, want decoded value", msg.Tags["system-msg"])
	}
}

func TestParseUnsupportedCommand(t *testing.T) {
	raw := "@room-id=1;tmi-sent-ts=1609459200000 :server JOIN #xqc"

	_, err := MessageCodec{}.Parse(raw)
	if err == nil {
		t.Fatalf("Parse: expected error for unsupported command")
	}
	if Archivable("JOIN") {
		t.Fatalf("sanity: JOIN must not be archivable")
	}
}

func TestParseMissingRequiredTag(t *testing.T) {
	// PRIVMSG missing the "id" tag.
	raw := "@display-name=Xqc;tmi-sent-ts=1609459200000;room-id=1 :xqcow!xqcow@xqcow.tmi.twitch.tv PRIVMSG #xqc :hi"

	_, err := MessageCodec{}.Parse(raw)
	if err == nil {
		t.Fatalf("Parse: expected error for missing id tag")
	}
}

func TestArchivable(t *testing.T) {
	for _, cmd := range []string{"PRIVMSG", "CLEARCHAT", "USERNOTICE", "CLEARMSG", "privmsg"} {
		if !Archivable(cmd) {
			t.Errorf("Archivable(%q) = false, want true", cmd)
		}
	}
	for _, cmd := range []string{"JOIN", "PART", "PING", "NOTICE", "PING"} {
		if Archivable(cmd) {
			t.Errorf("Archivable(%q) = true, want false", cmd)
		}
	}
}

func TestFormatText(t *testing.T) {
	m := Message{
		Channel:   "xqc",
		Username:  "xqcow",
		Text:      "hello",
		Timestamp: time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	got := MessageCodec{}.FormatText(m)
	want := "[2021-01-01 00:00:00] #xqc xqcow: hello"
	if got != want {
		t.Errorf("FormatText = %q, want %q", got, want)
	}

	m.Username = ""
	got = MessageCodec{}.FormatText(m)
	want = "[2021-01-01 00:00:00] #xqc hello"
	if got != want {
		t.Errorf("FormatText (no username) = %q, want %q", got, want)
	}
}

func TestParseClearmsg(t *testing.T) {
	raw := "@login=xqcow;room-id=1;target-msg-id=abc-123;tmi-sent-ts=1609459200000 CLEARMSG #xqc :deleted message"

	got, err := MessageCodec{}.Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	want := Message{
		Type:        MessageTypeClearMsg,
		Text:        "deleted message",
		Username:    "xqcow",
		DisplayName: "xqcow",
		Channel:     "xqc",
		Timestamp:   time.UnixMilli(1609459200000).UTC(),
		ID:          "abc-123",
		Raw:         raw,
		Tags:        got.Tags, // compared structurally below; only spot-checked here
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Parse mismatch (-want +got):\n%s", diff)
	}
	if got.Tags["room-id"] != "1" {
		t.Errorf("Tags[room-id] = %q, want 1", got.Tags["room-id"])
	}
}

func TestUnescapeTagValue(t *testing.T) {
	cases := map[string]string{
		`a\sb`:   "a b",
		`a\:b`:   "a;b",
		`a\\b`:   `a\b`,
		`a\nb`:   "a\nb",
		`plain`:  "plain",
		`trail\`: `trail\`,
	}
	for in, want := range cases {
		if got := unescapeTagValue(in); got != want {
			t.Errorf("unescapeTagValue(%q) = %q, want %q", in, got, want)
		}
	}
}
