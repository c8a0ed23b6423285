package messenger

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

const samplePayload = `{
  "object": "page",
  "entry": [{
    "id": "PAGE_1",
    "time": 1700000000000,
    "messaging": [
      {"sender": {"id": "USER_1"}, "recipient": {"id": "PAGE_1"}, "timestamp": 1700000000000,
       "message": {"mid": "m_1", "text": " مرحبا "}},
      {"sender": {"id": "PAGE_1"}, "recipient": {"id": "USER_1"}, "timestamp": 1700000000001,
       "message": {"mid": "m_2", "text": "reply", "is_echo": true}},
      {"sender": {"id": "USER_1"}, "recipient": {"id": "PAGE_1"}, "timestamp": 1700000000002,
       "message": {"mid": "m_3"}},
      {"sender": {"id": "USER_2"}, "recipient": {"id": "PAGE_1"}, "timestamp": 1700000000003,
       "postback": {"mid": "m_4", "title": "ابدأ", "payload": "GET_STARTED"}},
      {"sender": {"id": "USER_3"}, "recipient": {"id": "PAGE_1"}, "read": {"watermark": 1}}
    ]
  }]
}`

func TestParseWebhook(t *testing.T) {
	events, err := ParseWebhook([]byte(samplePayload))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d: %+v", len(events), events)
	}

	first := events[0]
	if first.ChannelID != "PAGE_1" || first.SenderID != "USER_1" || first.EventID != "m_1" || first.Text != "مرحبا" || first.IsEcho {
		t.Fatalf("unexpected first event %+v", first)
	}
	if !first.ReceivedAt.Equal(time.UnixMilli(1700000000000)) {
		t.Fatalf("unexpected timestamp %v", first.ReceivedAt)
	}

	echo := events[1]
	if !echo.IsEcho || echo.ChannelID != "PAGE_1" || echo.SenderID != "USER_1" {
		t.Fatalf("echo should be flagged with page as channel, got %+v", echo)
	}

	postback := events[2]
	if postback.SenderID != "USER_2" || postback.Text != "ابدأ" {
		t.Fatalf("unexpected postback event %+v", postback)
	}
}

func TestParseWebhookIgnoresOtherObjects(t *testing.T) {
	events, err := ParseWebhook([]byte(`{"object":"instagram","entry":[]}`))
	if err != nil || len(events) != 0 {
		t.Fatalf("expected no events, got %v %v", events, err)
	}
	if _, err := ParseWebhook([]byte(`{`)); err == nil {
		t.Fatal("expected error for malformed body")
	}
}

func TestVerifySignature(t *testing.T) {
	body := []byte(samplePayload)
	good := "sha256=" + hex.EncodeToString(Sign("secret", body))

	if err := VerifySignature("secret", body, good); err != nil {
		t.Fatalf("expected valid signature: %v", err)
	}
	cases := map[string]error{
		"":                   ErrMissingSignature,
		"sha1=abc":           ErrBadSignature,
		"sha256=zz":          ErrBadSignature,
		"sha256=" + "00ff00": ErrBadSignature,
	}
	for header, want := range cases {
		if err := VerifySignature("secret", body, header); !errors.Is(err, want) {
			t.Fatalf("header %q: expected %v, got %v", header, want, err)
		}
	}
	if err := VerifySignature("other", body, good); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("wrong secret should fail, got %v", err)
	}
}

type capturedRequest struct {
	Path  string
	Token string
	Body  sendRequest
}

func newGraphServer(t *testing.T, status int) (*httptest.Server, func() []capturedRequest) {
	t.Helper()
	var mu sync.Mutex
	var reqs []capturedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body sendRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
		}
		mu.Lock()
		reqs = append(reqs, capturedRequest{Path: r.URL.Path, Token: r.URL.Query().Get("access_token"), Body: body})
		mu.Unlock()
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"recipient_id":"USER_1","message_id":"m_x"}`))
	}))
	t.Cleanup(srv.Close)
	return srv, func() []capturedRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]capturedRequest(nil), reqs...)
	}
}

func TestClientSendTextAndTyping(t *testing.T) {
	srv, captured := newGraphServer(t, http.StatusOK)
	c := NewClient(srv.URL, "v20.0", time.Second)
	ctx := context.Background()

	if err := c.SendTypingIndicator(ctx, "tok", "USER_1"); err != nil {
		t.Fatalf("typing: %v", err)
	}
	if err := c.SendText(ctx, "tok", "USER_1", "أهلاً"); err != nil {
		t.Fatalf("send: %v", err)
	}

	reqs := captured()
	if len(reqs) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(reqs))
	}
	if reqs[0].Path != "/v20.0/me/messages" || reqs[0].Token != "tok" {
		t.Fatalf("unexpected request %+v", reqs[0])
	}
	if reqs[0].Body.SenderAction != "typing_on" || reqs[0].Body.Message != nil {
		t.Fatalf("unexpected typing body %+v", reqs[0].Body)
	}
	if reqs[1].Body.Message == nil || reqs[1].Body.Message.Text != "أهلاً" || reqs[1].Body.Recipient.ID != "USER_1" {
		t.Fatalf("unexpected send body %+v", reqs[1].Body)
	}
}

func TestClientSendTextSplitsLongMessages(t *testing.T) {
	srv, captured := newGraphServer(t, http.StatusOK)
	c := NewClient(srv.URL, "v20.0", time.Second)

	long := strings.Repeat("كلمة ", 600)
	if err := c.SendText(context.Background(), "tok", "USER_1", long); err != nil {
		t.Fatalf("send: %v", err)
	}
	reqs := captured()
	if len(reqs) < 2 {
		t.Fatalf("expected message to be split, got %d requests", len(reqs))
	}
	for _, r := range reqs {
		if n := len([]rune(r.Body.Message.Text)); n > MaxTextRunes {
			t.Fatalf("chunk of %d runes exceeds limit", n)
		}
	}
}

func TestClientErrors(t *testing.T) {
	srv, _ := newGraphServer(t, http.StatusBadRequest)
	c := NewClient(srv.URL, "", time.Second)

	if err := c.SendText(context.Background(), "tok", "USER_1", "hi"); err == nil || !strings.Contains(err.Error(), "status=400") {
		t.Fatalf("expected status error, got %v", err)
	}
	if err := c.SendText(context.Background(), " ", "USER_1", "hi"); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("expected ErrMissingToken, got %v", err)
	}
}
