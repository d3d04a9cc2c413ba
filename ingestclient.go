package chatlogd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// IngestClient is the upstream chat client: it dials the chat platform's
// IRC-over-websocket endpoint over gorilla/websocket, authenticates, joins
// the configured channels, and exposes a channel of delimited raw lines
// with no partial lines, as Indexer.Ingest expects. It reconnects with
// exponential backoff on any transport error.
type IngestClient struct {
	URL      string
	Nick     string
	Pass     string
	Channels []string
	Logger   Logger

	minRetryDelay time.Duration
}

// NewIngestClient constructs a client targeting url (a ws:// or wss:// IRC
// gateway), authenticating as nick/pass and joining channels.
func NewIngestClient(url, nick, pass string, channels []string, logger Logger) *IngestClient {
	if logger == nil {
		logger = NewStdLogger()
	}
	return &IngestClient{
		URL:           url,
		Nick:          nick,
		Pass:          pass,
		Channels:      channels,
		Logger:        WithPrefix(logger, "ingest: "),
		minRetryDelay: time.Second,
	}
}

// Lines returns a channel of raw, newline-delimited chat lines. It
// reconnects with exponential backoff (capped at one minute) on any
// transport error, and closes the returned channel only when ctx is
// cancelled. Message durability is the channel-day file's job, not the
// transport's: a dropped connection loses no already-archived messages,
// and IngestClient makes no attempt to replay what was missed while
// disconnected.
func (c *IngestClient) Lines(ctx context.Context) <-chan string {
	out := make(chan string, 256)
	go func() {
		defer close(out)
		delay := c.minRetryDelay
		for {
			if ctx.Err() != nil {
				return
			}
			if err := c.runOnce(ctx, out, &delay); err != nil {
				c.Logger.Printf("connection error: %v", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			delay *= 2
			if delay > time.Minute {
				delay = time.Minute
			}
		}
	}()
	return out
}

func (c *IngestClient) runOnce(ctx context.Context, out chan<- string, delay *time.Duration) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %q: %w", c.URL, err)
	}
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, []byte("CAP REQ :twitch.tv/tags twitch.tv/commands")); err != nil {
		return fmt.Errorf("request capabilities: %w", err)
	}
	if c.Pass != "" {
		if err := conn.WriteMessage(websocket.TextMessage, []byte("PASS "+c.Pass)); err != nil {
			return fmt.Errorf("send pass: %w", err)
		}
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte("NICK "+c.Nick)); err != nil {
		return fmt.Errorf("send nick: %w", err)
	}
	for _, ch := range c.Channels {
		if err := conn.WriteMessage(websocket.TextMessage, []byte("JOIN #"+ch)); err != nil {
			return fmt.Errorf("join %q: %w", ch, err)
		}
	}

	// Reset the backoff delay on a successful handshake: a long-lived
	// connection shouldn't pay for a single transient failure hours ago.
	*delay = c.minRetryDelay

	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		conn.Close()
		close(done)
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		for _, line := range strings.Split(string(payload), "\r\n") {
			if line == "" {
				continue
			}
			if strings.HasPrefix(line, "PING") {
				pong := "PONG" + strings.TrimPrefix(line, "PING")
				if werr := conn.WriteMessage(websocket.TextMessage, []byte(pong)); werr != nil {
					return fmt.Errorf("pong: %w", werr)
				}
				continue
			}
			select {
			case out <- line:
			case <-ctx.Done():
				return nil
			}
		}
	}
}
