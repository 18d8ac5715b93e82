// Package relay is the client for the cloud SMS/peer relay. The duck
// registers on startup, polls for inbound SMS and peer-duck messages every
// few seconds (each successful poll doubles as a heartbeat) and pushes
// outbound messages through the relay's send endpoints.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/osmundg/duckberry/internal/bus"
)

const (
	pollInterval = 5 * time.Second
	httpTimeout  = 10 * time.Second

	// QueueCap bounds how many messages one poll may publish; anything a
	// misbehaving relay returns beyond it is dropped.
	QueueCap = 100
)

type Client struct {
	baseURL    string
	phone      string
	duckName   string
	bus        *bus.MessageBus
	httpClient *http.Client
}

func NewClient(baseURL, phone, duckName string, b *bus.MessageBus) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		phone:      phone,
		duckName:   duckName,
		bus:        b,
		httpClient: &http.Client{Timeout: httpTimeout},
	}
}

func (c *Client) Enabled() bool {
	return c.baseURL != "" && c.phone != ""
}

// Register announces this duck to the relay with its local IP.
func (c *Client) Register(ctx context.Context) error {
	body := map[string]string{
		"phone_number": c.phone,
		"name":         c.duckName,
		"ip":           localIP(),
	}
	if err := c.postJSON(ctx, "/register", body, nil); err != nil {
		return fmt.Errorf("relay register: %w", err)
	}
	log.Printf("[relay] registered %s as %s", c.phone, c.duckName)
	return nil
}

// Unregister removes this duck from the relay on clean shutdown.
func (c *Client) Unregister(ctx context.Context) error {
	body := map[string]string{"phone_number": c.phone}
	if err := c.postJSON(ctx, "/unregister", body, nil); err != nil {
		return fmt.Errorf("relay unregister: %w", err)
	}
	return nil
}

// Run polls the SMS and peer queues until ctx is done. The relay deletes
// delivered messages on a successful poll, so every message arrives exactly
// once.
func (c *Client) Run(ctx context.Context) {
	if !c.Enabled() {
		log.Printf("[relay] not configured, skipping poll loops")
		return
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.pollSMS(ctx)
			c.pollPeer(ctx)
		}
	}
}

type smsMessage struct {
	From     string `json:"from"`
	Body     string `json:"body"`
	MediaURL string `json:"media_url"`
}

func (c *Client) pollSMS(ctx context.Context) {
	var out struct {
		Messages []smsMessage `json:"messages"`
	}
	if err := c.getJSON(ctx, "/poll/"+c.phone, &out); err != nil {
		log.Printf("[relay] poll sms: %v", err)
		return
	}
	if len(out.Messages) > QueueCap {
		log.Printf("[relay] sms poll returned %d messages, keeping first %d", len(out.Messages), QueueCap)
		out.Messages = out.Messages[:QueueCap]
	}
	for _, m := range out.Messages {
		source := bus.SourceSMS
		if m.MediaURL != "" {
			source = bus.SourceMMS
		}
		c.bus.Publish(bus.InboundMessage{
			Source:     source,
			Text:       m.Body,
			ImageURL:   m.MediaURL,
			SenderHint: m.From,
			Timestamp:  time.Now(),
		})
	}
}

type peerMessage struct {
	FromDuck string `json:"from_duck"`
	Message  string `json:"message"`
	MediaURL string `json:"media_url"`
}

func (c *Client) pollPeer(ctx context.Context) {
	var out struct {
		Messages []peerMessage `json:"messages"`
	}
	if err := c.getJSON(ctx, "/duck/poll/"+c.duckName, &out); err != nil {
		log.Printf("[relay] poll peer: %v", err)
		return
	}
	if len(out.Messages) > QueueCap {
		log.Printf("[relay] peer poll returned %d messages, keeping first %d", len(out.Messages), QueueCap)
		out.Messages = out.Messages[:QueueCap]
	}
	for _, m := range out.Messages {
		c.bus.Publish(bus.InboundMessage{
			Source:     bus.SourcePeer,
			Text:       m.Message,
			ImageURL:   m.MediaURL,
			SenderHint: m.FromDuck,
			Timestamp:  time.Now(),
		})
	}
}

// SendSMS sends a text (and optional media) to a phone number through the
// relay.
func (c *Client) SendSMS(ctx context.Context, to, body, mediaURL string) error {
	if !c.Enabled() {
		return fmt.Errorf("relay not configured")
	}
	payload := map[string]string{"from": c.phone, "to": to, "body": body}
	if mediaURL != "" {
		payload["media_url"] = mediaURL
	}
	if err := c.postJSON(ctx, "/send", payload, nil); err != nil {
		return fmt.Errorf("relay send sms: %w", err)
	}
	return nil
}

// SendPeer sends a message to another duck.
func (c *Client) SendPeer(ctx context.Context, toDuck, message, mediaURL string) error {
	if !c.Enabled() {
		return fmt.Errorf("relay not configured")
	}
	payload := map[string]string{"from_duck": c.duckName, "to_duck": toDuck, "message": message}
	if mediaURL != "" {
		payload["media_url"] = mediaURL
	}
	if err := c.postJSON(ctx, "/duck/send", payload, nil); err != nil {
		return fmt.Errorf("relay send peer: %w", err)
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("http %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// localIP finds the primary outbound interface address.
func localIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String()
}
