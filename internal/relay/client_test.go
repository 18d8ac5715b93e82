package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/osmundg/duckberry/internal/bus"
)

func TestRegisterPayload(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/register" || r.Method != http.MethodPost {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "+4799999999", "samantha", bus.NewMessageBus(4))
	if err := c.Register(context.Background()); err != nil {
		t.Fatalf("register: %v", err)
	}
	if got["phone_number"] != "+4799999999" || got["name"] != "samantha" {
		t.Errorf("payload = %v", got)
	}
	if got["ip"] == "" {
		t.Error("payload missing ip")
	}
}

func TestPollSMSPublishes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/poll/+4799999999" {
			t.Errorf("path = %q", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"messages": []map[string]string{
				{"from": "+4711111111", "body": "hei and"},
				{"from": "+4722222222", "body": "se her", "media_url": "https://relay/img.jpg"},
			},
		})
	}))
	defer srv.Close()

	b := bus.NewMessageBus(4)
	c := NewClient(srv.URL, "+4799999999", "samantha", b)
	c.pollSMS(context.Background())

	first := <-b.Inbound
	if first.Source != bus.SourceSMS || first.Text != "hei and" || first.SenderHint != "+4711111111" {
		t.Errorf("first message = %+v", first)
	}
	second := <-b.Inbound
	if second.Source != bus.SourceMMS {
		t.Errorf("media message source = %q, want mms", second.Source)
	}
	if second.ImageURL != "https://relay/img.jpg" {
		t.Errorf("image url = %q", second.ImageURL)
	}
}

func TestPollPeerPublishes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/duck/poll/samantha" {
			t.Errorf("path = %q", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"messages": []map[string]string{
				{"from_duck": "kvakk2", "message": "hei fra nabo-anda"},
			},
		})
	}))
	defer srv.Close()

	b := bus.NewMessageBus(4)
	c := NewClient(srv.URL, "+4799999999", "samantha", b)
	c.pollPeer(context.Background())

	msg := <-b.Inbound
	if msg.Source != bus.SourcePeer || msg.SenderHint != "kvakk2" {
		t.Errorf("peer message = %+v", msg)
	}
}

func TestPollEmptyQueue(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	b := bus.NewMessageBus(4)
	c := NewClient(srv.URL, "+4799999999", "samantha", b)
	c.pollSMS(context.Background())

	select {
	case msg := <-b.Inbound:
		t.Errorf("unexpected message %+v", msg)
	default:
	}
}

func TestSendSMS(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/send" {
			t.Errorf("path = %q", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "+4799999999", "samantha", bus.NewMessageBus(4))
	if err := c.SendSMS(context.Background(), "+4711111111", "kvakk!", ""); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got["from"] != "+4799999999" || got["to"] != "+4711111111" || got["body"] != "kvakk!" {
		t.Errorf("payload = %v", got)
	}
	if _, ok := got["media_url"]; ok {
		t.Error("media_url should be omitted when empty")
	}
}

func TestSendPeer(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/duck/send" {
			t.Errorf("path = %q", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "+4799999999", "samantha", bus.NewMessageBus(4))
	if err := c.SendPeer(context.Background(), "kvakk2", "hei!", "https://relay/img.jpg"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got["from_duck"] != "samantha" || got["to_duck"] != "kvakk2" || got["media_url"] != "https://relay/img.jpg" {
		t.Errorf("payload = %v", got)
	}
}

func TestDisabledClient(t *testing.T) {
	c := NewClient("", "", "samantha", bus.NewMessageBus(4))
	if c.Enabled() {
		t.Error("client without relay url should be disabled")
	}
	if err := c.SendSMS(context.Background(), "+47", "x", ""); err == nil {
		t.Error("send on disabled client should fail")
	}
}

func TestPollSMSCapsQueue(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		msgs := make([]map[string]string, QueueCap+40)
		for i := range msgs {
			msgs[i] = map[string]string{"from": "+4711111111", "body": "flom"}
		}
		json.NewEncoder(w).Encode(map[string]any{"messages": msgs})
	}))
	defer srv.Close()

	b := bus.NewMessageBus(QueueCap + 50)
	c := NewClient(srv.URL, "+4799999999", "samantha", b)
	c.pollSMS(context.Background())

	if n := len(b.Inbound); n != QueueCap {
		t.Errorf("published %d messages, want cap at %d", n, QueueCap)
	}
}
