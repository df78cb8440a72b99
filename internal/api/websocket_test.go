package api

import (
	"net/http"
	"net/http/cookiejar"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ModalMetrics/GiftFlow/internal/flow"
	"github.com/ModalMetrics/GiftFlow/internal/models"
	"github.com/ModalMetrics/GiftFlow/internal/store"
)

// dialStream opens the session stream reusing the HTTP client's cookies.
func dialStream(t *testing.T, client *http.Client, base string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(base, "http") + "/session/stream"
	dialer := websocket.Dialer{Jar: client.Jar}
	conn, resp, err := dialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Failed to dial %s: %v", wsURL, err)
	}
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	return conn
}

func TestStreamPushesSnapshots(t *testing.T) {
	st := store.NewInMemoryStore()
	defer st.Close()
	client, base := newTestClient(t, newTestServer(st))
	startSession(t, client, base, nil)

	conn := dialStream(t, client, base)

	// The stream opens with the current state
	var snap models.SessionSnapshot
	if err := conn.ReadJSON(&snap); err != nil {
		t.Fatalf("Failed to read initial snapshot: %v", err)
	}
	if snap.Step == nil || snap.Step.ID != flow.StepCardType {
		t.Fatalf("Expected the initial snapshot on %s, got %+v", flow.StepCardType, snap.Step)
	}

	// Every accepted mutation is pushed to the watcher
	answerStep(t, client, base, flow.StepCardType, flow.CardTypeDigital)
	if err := conn.ReadJSON(&snap); err != nil {
		t.Fatalf("Failed to read pushed snapshot: %v", err)
	}
	if snap.Answers[flow.StepCardType] != flow.CardTypeDigital {
		t.Errorf("Expected the pushed snapshot to carry the answer, got %q", snap.Answers[flow.StepCardType])
	}
	if snap.StepCount != 11 {
		t.Errorf("Expected the digital flow length, got %d", snap.StepCount)
	}

	advance(t, client, base)
	if err := conn.ReadJSON(&snap); err != nil {
		t.Fatalf("Failed to read navigation snapshot: %v", err)
	}
	if snap.Step == nil || snap.Step.ID != flow.StepVariant {
		t.Errorf("Expected the stream to follow navigation to %s, got %+v", flow.StepVariant, snap.Step)
	}
}

func TestStreamSupportsMultipleWatchers(t *testing.T) {
	st := store.NewInMemoryStore()
	defer st.Close()
	client, base := newTestClient(t, newTestServer(st))
	startSession(t, client, base, nil)

	first := dialStream(t, client, base)
	second := dialStream(t, client, base)

	var snap models.SessionSnapshot
	for _, conn := range []*websocket.Conn{first, second} {
		if err := conn.ReadJSON(&snap); err != nil {
			t.Fatalf("Failed to read initial snapshot: %v", err)
		}
	}

	answerStep(t, client, base, flow.StepCardType, flow.CardTypePhysical)
	for i, conn := range []*websocket.Conn{first, second} {
		if err := conn.ReadJSON(&snap); err != nil {
			t.Fatalf("Watcher %d failed to read pushed snapshot: %v", i, err)
		}
		if snap.Answers[flow.StepCardType] != flow.CardTypePhysical {
			t.Errorf("Watcher %d: expected the pushed answer, got %q", i, snap.Answers[flow.StepCardType])
		}
	}
}

func TestStreamRejectsWithoutSession(t *testing.T) {
	st := store.NewInMemoryStore()
	defer st.Close()
	_, base := newTestClient(t, newTestServer(st))

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("Failed to create cookie jar: %v", err)
	}
	wsURL := "ws" + strings.TrimPrefix(base, "http") + "/session/stream"
	dialer := websocket.Dialer{Jar: jar}
	conn, resp, err := dialer.Dial(wsURL, nil)
	if err == nil {
		conn.Close()
		t.Fatal("Expected the dial to be refused without a session")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected status %d refusing the stream, got %+v", http.StatusNotFound, resp)
	}
	if resp != nil {
		resp.Body.Close()
	}
}
