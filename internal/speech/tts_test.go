package speech

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func ttsServer(t *testing.T, gotSSML *string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		*gotSSML = string(body)
		// Two samples of silence.
		w.Write([]byte{0, 0, 0, 0})
	}))
}

func TestSynthesizeProsodyRate(t *testing.T) {
	var ssml string
	srv := ttsServer(t, &ssml)
	defer srv.Close()

	rate := 75
	c := &TTSClient{
		key:        "k",
		endpoint:   srv.URL,
		voice:      "nb-NO-IselinNeural",
		httpClient: srv.Client(),
		RateFunc:   func() int { return rate },
	}

	if _, _, err := c.Synthesize(context.Background(), "hei"); err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if !strings.Contains(ssml, `<prosody rate='+25%'>hei</prosody>`) {
		t.Errorf("rate 75: ssml %q missing +25%% prosody", ssml)
	}

	rate = 20
	if _, _, err := c.Synthesize(context.Background(), "hei"); err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if !strings.Contains(ssml, `<prosody rate='-30%'>`) {
		t.Errorf("rate 20: ssml %q missing -30%% prosody", ssml)
	}
}

func TestSynthesizeNeutralRateSkipsProsody(t *testing.T) {
	var ssml string
	srv := ttsServer(t, &ssml)
	defer srv.Close()

	c := &TTSClient{key: "k", endpoint: srv.URL, voice: "nb-NO-IselinNeural", httpClient: srv.Client()}
	if _, _, err := c.Synthesize(context.Background(), "hei på deg"); err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if strings.Contains(ssml, "<prosody") {
		t.Errorf("neutral rate added prosody: %q", ssml)
	}
	if !strings.Contains(ssml, "<voice name='nb-NO-IselinNeural'>hei på deg</voice>") {
		t.Errorf("ssml %q missing voice body", ssml)
	}
}

func TestSynthesizeClampsRate(t *testing.T) {
	var ssml string
	srv := ttsServer(t, &ssml)
	defer srv.Close()

	c := &TTSClient{
		key:        "k",
		endpoint:   srv.URL,
		voice:      "nb-NO-IselinNeural",
		httpClient: srv.Client(),
		RateFunc:   func() int { return 400 },
	}
	if _, _, err := c.Synthesize(context.Background(), "hei"); err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if !strings.Contains(ssml, `<prosody rate='+50%'>`) {
		t.Errorf("out-of-range rate: ssml %q, want clamp to +50%%", ssml)
	}
}
