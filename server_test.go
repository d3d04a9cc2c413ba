package chatlogd

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// newTestUpstream starts a local websocket server that performs the bare
// minimum IRC-over-websocket handshake IngestClient expects, then streams
// lines queued on the returned channel to whatever client connects, so
// IngestClient is exercised against a real transport instead of a mock.
func newTestUpstream(t *testing.T, toSend <-chan string) string {
	t.Helper()
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Drain and ignore the CAP/NICK/JOIN handshake lines (the test
		// client has no password, so IngestClient sends no PASS).
		for i := 0; i < 3; i++ {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
		for line := range toSend {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(line+"\r\n")); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	return "ws" + srv.URL[len("http"):]
}

func TestServerRunIngestConsumesLines(t *testing.T) {
	root := t.TempDir()
	paths := PathMap{Root: root}
	indexer := NewIndexer(paths, discardLogger{}, nil, 0)

	toSend := make(chan string, 1)
	toSend <- "@display-name=Xqc;id=1;tmi-sent-ts=1609459200000;room-id=1;user-id=42 :xqcow!xqcow@xqcow.tmi.twitch.tv PRIVMSG #xqc :hi"
	close(toSend)
	url := newTestUpstream(t, toSend)

	srv := &Server{Logger: discardLogger{}, Paths: paths, Indexer: indexer, Reader: NewReader(paths, discardLogger{})}
	client := NewIngestClient(url, "justinfan1", "", []string{"xqc"}, discardLogger{})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	go func() {
		time.Sleep(300 * time.Millisecond)
		cancel()
	}()

	if err := srv.RunIngest(ctx, client); err != nil {
		t.Fatalf("RunIngest: %v", err)
	}

	reader := NewReader(paths, discardLogger{})
	result, err := reader.ReadUserDay("1", "42", 2021, 1, 1, false, FormatRaw)
	if err != nil {
		t.Fatalf("ReadUserDay: %v", err)
	}
	if len(result.Lines) != 1 {
		t.Fatalf("got %d lines, want 1", len(result.Lines))
	}
}

func TestServerRunReindex(t *testing.T) {
	root := t.TempDir()
	paths := PathMap{Root: root}

	day9 := []string{
		"@display-name=Xqc;id=1;tmi-sent-ts=1609459200000;room-id=1;user-id=42 :xqcow!xqcow@xqcow.tmi.twitch.tv PRIVMSG #xqc :hi",
	}
	writeChannelDay(t, paths, "1", 2021, 1, 9, day9)

	srv := NewServer(paths, discardLogger{})
	rx := NewReindexer(paths, discardLogger{}, nil, nil)

	if err := srv.RunReindex(context.Background(), rx, []string{"1"}); err != nil {
		t.Fatalf("RunReindex: %v", err)
	}

	reader := NewReader(paths, discardLogger{})
	result, err := reader.ReadUserDay("1", "42", 2021, 1, 9, false, FormatRaw)
	if err != nil {
		t.Fatalf("ReadUserDay: %v", err)
	}
	if len(result.Lines) != 1 || result.Lines[0] != day9[0] {
		t.Errorf("ReadUserDay = %+v, want [%q]", result, day9[0])
	}
}

func TestServerRunReindexCancelled(t *testing.T) {
	root := t.TempDir()
	paths := PathMap{Root: root}
	srv := NewServer(paths, discardLogger{})
	rx := NewReindexer(paths, discardLogger{}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := srv.RunReindex(ctx, rx, []string{"1", "2"}); err == nil {
		t.Fatalf("RunReindex: expected context-cancellation error")
	}
}
