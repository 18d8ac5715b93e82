package speech

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const ttsSampleRate = 16000

// TTSClient synthesizes Norwegian speech via the Azure Cognitive Services
// REST endpoint, returning raw mono float32 PCM.
type TTSClient struct {
	key        string
	endpoint   string
	voice      string
	httpClient *http.Client

	// RateFunc supplies the panel speech rate 0..100 at synthesis time;
	// 50 is the voice's neutral rate. Nil means neutral.
	RateFunc func() int
}

func NewTTSClient(key, region, voice string) *TTSClient {
	return &TTSClient{
		key:        key,
		endpoint:   fmt.Sprintf("https://%s.tts.speech.microsoft.com/cognitiveservices/v1", region),
		voice:      voice,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Synthesize returns 16 kHz mono samples for text.
func (c *TTSClient) Synthesize(ctx context.Context, text string) ([]float32, int, error) {
	if strings.TrimSpace(c.key) == "" {
		return nil, 0, fmt.Errorf("missing tts key")
	}

	body := escapeSSML(text)
	if rate := c.rate(); rate != 50 {
		body = fmt.Sprintf(`<prosody rate='%+d%%'>%s</prosody>`, rate-50, body)
	}
	ssml := fmt.Sprintf(
		`<speak version='1.0' xml:lang='nb-NO'><voice name='%s'>%s</voice></speak>`,
		c.voice, body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewBufferString(ssml))
	if err != nil {
		return nil, 0, fmt.Errorf("create tts request: %w", err)
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", c.key)
	req.Header.Set("Content-Type", "application/ssml+xml")
	req.Header.Set("X-Microsoft-OutputFormat", "raw-16khz-16bit-mono-pcm")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("tts request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, 0, fmt.Errorf("tts http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("read tts audio: %w", err)
	}
	return pcm16ToFloat32(pcm), ttsSampleRate, nil
}

func (c *TTSClient) rate() int {
	if c.RateFunc == nil {
		return 50
	}
	r := c.RateFunc()
	if r < 0 {
		return 0
	}
	if r > 100 {
		return 100
	}
	return r
}

func pcm16ToFloat32(pcm []byte) []float32 {
	n := len(pcm) / 2
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		out[i] = float32(s) / 32768.0
	}
	return out
}

func escapeSSML(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", "'", "&apos;", `"`, "&quot;")
	return r.Replace(s)
}
