// Package imagery receives MMS pictures, normalizes them for the vision
// model and keeps a pruned archive on disk.
package imagery

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"

	"github.com/osmundg/duckberry/internal/llm"
	"github.com/osmundg/duckberry/internal/memory"
	"github.com/osmundg/duckberry/internal/store"
)

const (
	MaxImageBytes = 5 * 1024 * 1024
	maxWidth      = 1920
	maxHeight     = 1080
	jpegQuality   = 85
	RetentionDays = 90
)

const describePrompt = `Du er en liten snakkende and som har fått tilsendt et bilde.
Beskriv kort på norsk hva du ser, muntlig og med litt personlighet.
Hvis det er mat på bildet, kommenter gjerne det.`

type Analyzer struct {
	store    *store.Store
	llm      *llm.Client
	imageDir string
}

func NewAnalyzer(s *store.Store, client *llm.Client, imageDir string) *Analyzer {
	return &Analyzer{store: s, llm: client, imageDir: imageDir}
}

// Process validates, normalizes and archives an incoming picture, then asks
// the vision model to describe it. Returns the spoken description.
func (a *Analyzer) Process(ctx context.Context, data []byte, sender, caption string) (string, error) {
	return a.process(ctx, data, sender, caption, "")
}

func (a *Analyzer) process(ctx context.Context, data []byte, sender, caption, sourceURL string) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("empty image")
	}
	if len(data) > MaxImageBytes {
		return "", fmt.Errorf("image too large: %d bytes (max %d)", len(data), MaxImageBytes)
	}

	normalized, err := Normalize(data)
	if err != nil {
		return "", fmt.Errorf("normalize image: %w", err)
	}

	path, err := a.archive(normalized)
	if err != nil {
		log.Printf("[imagery] archive image: %v", err)
		path = ""
	}

	desc, err := a.describe(ctx, normalized, caption)
	if err != nil {
		return "", err
	}

	if path != "" {
		rec := store.ImageRecord{
			Filepath:       path,
			Sender:         sender,
			SenderRelation: a.senderRelation(sender),
			Description:    desc,
			Categories:     memory.Topics(desc + " " + caption),
			SourceURL:      sourceURL,
			Timestamp:      time.Now(),
		}
		if _, err := a.store.SaveImage(rec); err != nil {
			log.Printf("[imagery] save image record: %v", err)
		}
	}
	return desc, nil
}

// senderRelation resolves who sent the picture: phone numbers via the SMS
// contact list, names via the users table.
func (a *Analyzer) senderRelation(sender string) string {
	if sender == "" {
		return ""
	}
	if c, err := a.store.ContactByPhone(sender); err == nil && c != nil {
		return c.Relation
	}
	if u, err := a.store.FindUserExact(sender); err == nil && u != nil {
		return u.Relation
	}
	return ""
}

// ProcessURL downloads an MMS media URL (subject to the same size gate) and
// runs the normal pipeline on it.
func (a *Analyzer) ProcessURL(ctx context.Context, url, sender, caption string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("create download request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("download image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download image: http %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxImageBytes+1))
	if err != nil {
		return "", fmt.Errorf("read image: %w", err)
	}
	return a.process(ctx, data, sender, caption, url)
}

// Normalize decodes, flattens transparency onto white, fits within
// 1920x1080 and re-encodes as JPEG.
func Normalize(data []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	bounds := img.Bounds()
	if bounds.Dx() > maxWidth || bounds.Dy() > maxHeight {
		img = imaging.Fit(img, maxWidth, maxHeight, imaging.Lanczos)
	}

	// PNG screenshots arrive with alpha; JPEG has none, so flatten onto
	// white instead of letting the encoder pick black.
	flat := imaging.New(img.Bounds().Dx(), img.Bounds().Dy(), image.White.C)
	flat = imaging.OverlayCenter(flat, img, 1.0)

	var out bytes.Buffer
	if err := imaging.Encode(&out, flat, imaging.JPEG, imaging.JPEGQuality(jpegQuality)); err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	return out.Bytes(), nil
}

func (a *Analyzer) archive(jpeg []byte) (string, error) {
	if a.imageDir == "" {
		return "", nil
	}
	if err := os.MkdirAll(a.imageDir, 0755); err != nil {
		return "", err
	}
	name := fmt.Sprintf("%s_%s.jpg", time.Now().Format("20060102_150405"), uuid.NewString()[:8])
	path := filepath.Join(a.imageDir, name)
	if err := os.WriteFile(path, jpeg, 0644); err != nil {
		return "", err
	}
	return path, nil
}

func (a *Analyzer) describe(ctx context.Context, jpeg []byte, caption string) (string, error) {
	prompt := describePrompt
	if caption != "" {
		prompt += "\nAvsenderen skrev: " + caption
	}
	dataURL := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(jpeg)

	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	desc, err := a.llm.Chat(ctx, []llm.Message{llm.ImageMessage(prompt, dataURL)})
	if err != nil {
		return "", fmt.Errorf("describe image: %w", err)
	}
	return desc, nil
}

// Prune removes archived images older than the retention window. Run daily.
func (a *Analyzer) Prune() {
	cutoff := time.Now().AddDate(0, 0, -RetentionDays)
	n, err := a.store.PruneImages(cutoff)
	if err != nil {
		log.Printf("[imagery] prune images: %v", err)
		return
	}
	if n > 0 {
		log.Printf("[imagery] pruned %d images older than %d days", n, RetentionDays)
	}
}
