package control

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/osmundg/duckberry/internal/hunger"
	"github.com/osmundg/duckberry/internal/session"
	"github.com/osmundg/duckberry/internal/store"
)

func TestFilesReadWriteTake(t *testing.T) {
	f, err := NewFiles(t.TempDir())
	if err != nil {
		t.Fatalf("new files: %v", err)
	}

	if v := f.Read(FileModel, "gpt-4o-mini"); v != "gpt-4o-mini" {
		t.Errorf("missing file default = %q", v)
	}

	if err := f.Write(FileModel, "gpt-4o\n"); err != nil {
		t.Fatalf("write: %v", err)
	}
	if v := f.Read(FileModel, "x"); v != "gpt-4o" {
		t.Errorf("read = %q, want trimmed gpt-4o", v)
	}

	if err := f.Write(FileMessage, "hei and"); err != nil {
		t.Fatalf("write: %v", err)
	}
	if v := f.Take(FileMessage); v != "hei and" {
		t.Errorf("take = %q", v)
	}
	// second take finds it cleared
	if v := f.Take(FileMessage); v != "" {
		t.Errorf("take after clear = %q, want empty", v)
	}
}

func TestWatchMessages(t *testing.T) {
	f, err := NewFiles(t.TempDir())
	if err != nil {
		t.Fatalf("new files: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan string, 1)
	if err := f.WatchMessages(ctx, func(text string) { got <- text }); err != nil {
		t.Fatalf("watch: %v", err)
	}

	// a write to an unrelated file must not trigger
	if err := f.Write(FileVoice, "nb-NO-IselinNeural"); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := f.Write(FileMessage, "kvakk kvakk"); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case text := <-got:
		if text != "kvakk kvakk" {
			t.Errorf("message = %q", text)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("watcher never delivered the message")
	}
}

func TestLogBufferTail(t *testing.T) {
	lb := NewLogBuffer(3)
	fmt.Fprintf(lb, "line 1\nline 2\n")
	fmt.Fprintf(lb, "line 3\nline 4\n")

	tail := lb.Tail()
	if strings.Contains(tail, "line 1") {
		t.Errorf("oldest line should have been evicted: %q", tail)
	}
	for _, want := range []string{"line 2", "line 3", "line 4"} {
		if !strings.Contains(tail, want) {
			t.Errorf("tail missing %q: %q", want, tail)
		}
	}
}

func TestLogBufferPartialLines(t *testing.T) {
	lb := NewLogBuffer(10)
	fmt.Fprintf(lb, "halv ")
	fmt.Fprintf(lb, "linje\n")
	if !strings.Contains(lb.Tail(), "halv linje") {
		t.Errorf("split writes should join into one line: %q", lb.Tail())
	}
}

func testServer(t *testing.T) (*Server, *Files) {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(filepath.Join(dir, "duck.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.UpsertUser("Osmund", "", store.RelationOwner); err != nil {
		t.Fatalf("upsert owner: %v", err)
	}

	files, err := NewFiles(filepath.Join(dir, "control"))
	if err != nil {
		t.Fatalf("new files: %v", err)
	}
	h := hunger.NewManager(s, nil, 0)
	sm := session.NewManager(s, "Osmund", filepath.Join(dir, "current_user"))
	srv := NewServer(files, NewLogBuffer(50), s, h, sm, "samantha", filepath.Join(dir, "songs"), []string{"samantha"})
	return srv, files
}

func TestHandleDuckStatus(t *testing.T) {
	srv, files := testServer(t)
	files.Write(FileFanStatus, "auto|true|56.2")

	rec := httptest.NewRecorder()
	srv.handleDuckStatus(rec, httptest.NewRequest(http.MethodGet, "/duck-status", nil))

	var got map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["duck_name"] != "samantha" {
		t.Errorf("duck_name = %v", got["duck_name"])
	}
	if got["current_user"] != "Osmund" {
		t.Errorf("current_user = %v", got["current_user"])
	}
	if got["fan_status"] != "auto|true|56.2" {
		t.Errorf("fan_status = %v", got["fan_status"])
	}
	if _, ok := got["hunger"]; !ok {
		t.Error("status missing hunger block")
	}
}

func TestHandleImagesFiltersBySender(t *testing.T) {
	srv, _ := testServer(t)
	for _, r := range []store.ImageRecord{
		{Filepath: "/tmp/a.jpg", Sender: "Osmund", Description: "en kopp"},
		{Filepath: "/tmp/b.jpg", Sender: "Kari", Description: "en hund"},
		{Filepath: "/tmp/c.jpg", Sender: "Osmund", Description: "en bok"},
	} {
		if _, err := srv.store.SaveImage(r); err != nil {
			t.Fatalf("save image: %v", err)
		}
	}

	rec := httptest.NewRecorder()
	srv.handleImages(rec, httptest.NewRequest(http.MethodGet, "/images?sender=Osmund", nil))

	var got struct {
		Images []store.ImageRecord `json:"images"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.Images) != 2 {
		t.Fatalf("images = %d, want 2", len(got.Images))
	}
	// Newest first.
	if got.Images[0].Description != "en bok" || got.Images[1].Description != "en kopp" {
		t.Errorf("unexpected order: %v", got.Images)
	}

	rec = httptest.NewRecorder()
	srv.handleImages(rec, httptest.NewRequest(http.MethodGet, "/images?limit=0", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("limit=0 status = %d, want 400", rec.Code)
	}
}

func TestHandleFanStatusParses(t *testing.T) {
	srv, files := testServer(t)
	files.Write(FileFanStatus, "on|true|61.5")

	rec := httptest.NewRecorder()
	srv.handleFanStatus(rec, httptest.NewRequest(http.MethodGet, "/fan-status", nil))

	var got map[string]any
	json.Unmarshal(rec.Body.Bytes(), &got)
	if got["mode"] != "on" || got["running"] != true || got["temp"] != 61.5 {
		t.Errorf("parsed = %v", got)
	}
}

func TestHandleChangeValidation(t *testing.T) {
	srv, files := testServer(t)

	tests := []struct {
		name   string
		value  string
		status int
	}{
		{FileBeak, "off", http.StatusOK},
		{FileBeak, "sideways", http.StatusBadRequest},
		{FileVolume, "75", http.StatusOK},
		{FileVolume, "150", http.StatusBadRequest},
		{FileSpeed, "abc", http.StatusBadRequest},
		{FileVoice, "nb-NO-IselinNeural", http.StatusOK},
		{FileVoice, "", http.StatusBadRequest},
	}
	for _, tt := range tests {
		body := strings.NewReader(fmt.Sprintf(`{"value":%q}`, tt.value))
		rec := httptest.NewRecorder()
		srv.handleChange(rec, httptest.NewRequest(http.MethodPost, "/change-"+tt.name, body), tt.name)
		if rec.Code != tt.status {
			t.Errorf("change %s=%q: status %d, want %d (%s)", tt.name, tt.value, rec.Code, tt.status, rec.Body.String())
		}
	}

	if v := files.Read(FileVolume, ""); v != "75" {
		t.Errorf("volume file = %q, want 75", v)
	}
	if v := files.Read(FileBeak, ""); v != "off" {
		t.Errorf("beak file = %q, want off", v)
	}
}

func TestHandleChangePersonalitySyncsStore(t *testing.T) {
	srv, _ := testServer(t)

	body := strings.NewReader(`{"value":"{\"Humor\":9,\"Enthusiasm\":8,\"Formality\":2,\"UseEmojis\":true}"}`)
	rec := httptest.NewRecorder()
	srv.handleChange(rec, httptest.NewRequest(http.MethodPost, "/change-personality", body), FilePersonality)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}

	p, err := srv.store.Personality()
	if err != nil {
		t.Fatalf("personality: %v", err)
	}
	if p.Humor != 9 || !p.UseEmojis {
		t.Errorf("stored personality = %+v", p)
	}
}

func TestHandleAskAI(t *testing.T) {
	srv, _ := testServer(t)
	srv.AskAI = func(ctx context.Context, text string) (string, error) {
		return "Kvakk: " + text, nil
	}

	rec := httptest.NewRecorder()
	srv.handleAskAI(rec, httptest.NewRequest(http.MethodPost, "/ask-ai", strings.NewReader(`{"text":"hei"}`)))

	var got map[string]any
	json.Unmarshal(rec.Body.Bytes(), &got)
	if got["success"] != true || got["response"] != "Kvakk: hei" {
		t.Errorf("response = %v", got)
	}

	// missing text rejected
	rec = httptest.NewRecorder()
	srv.handleAskAI(rec, httptest.NewRequest(http.MethodPost, "/ask-ai", strings.NewReader(`{}`)))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty ask status = %d", rec.Code)
	}
}

func TestHandleSpeakUnavailable(t *testing.T) {
	srv, _ := testServer(t)
	rec := httptest.NewRecorder()
	srv.handleSpeak(rec, httptest.NewRequest(http.MethodPost, "/speak", strings.NewReader(`{"text":"hei"}`)))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503 without a speaker", rec.Code)
	}
}

func TestHandleStartConversationWritesToken(t *testing.T) {
	srv, files := testServer(t)
	rec := httptest.NewRecorder()
	srv.handleStartConversation(rec, httptest.NewRequest(http.MethodPost, "/start-conversation", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if v := files.Read(FileMessage, ""); v != StartConversationToken {
		t.Errorf("message file = %q", v)
	}
}

func TestHandleSetFanMode(t *testing.T) {
	srv, files := testServer(t)

	rec := httptest.NewRecorder()
	srv.handleSetFanMode(rec, httptest.NewRequest(http.MethodPost, "/set-fan-mode", strings.NewReader(`{"mode":"on"}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if v := files.Read(FileFan, ""); v != "on" {
		t.Errorf("fan file = %q", v)
	}

	rec = httptest.NewRecorder()
	srv.handleSetFanMode(rec, httptest.NewRequest(http.MethodPost, "/set-fan-mode", strings.NewReader(`{"mode":"turbo"}`)))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid mode status = %d", rec.Code)
	}
}

func TestHandlePlaySongRejectsOutsideDir(t *testing.T) {
	srv, _ := testServer(t)
	rec := httptest.NewRecorder()
	srv.handlePlaySong(rec, httptest.NewRequest(http.MethodPost, "/play-song",
		strings.NewReader(`{"song_path":"/etc/passwd"}`)))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for a path outside the songs dir", rec.Code)
	}
}

func multipartImage(t *testing.T, data []byte, caption string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("image", "bilde.jpg")
	if err != nil {
		t.Fatal(err)
	}
	part.Write(data)
	if caption != "" {
		mw.WriteField("caption", caption)
	}
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func TestHandleUploadImage(t *testing.T) {
	srv, _ := testServer(t)

	var gotSender, gotCaption string
	srv.AnalyzeImage = func(ctx context.Context, data []byte, sender, caption string) (string, error) {
		gotSender, gotCaption = sender, caption
		return "Jeg ser en kake!", nil
	}

	body, ctype := multipartImage(t, []byte("jpegdata"), "se her")
	req := httptest.NewRequest(http.MethodPost, "/upload-image", body)
	req.Header.Set("Content-Type", ctype)
	rec := httptest.NewRecorder()
	srv.handleUploadImage(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var got map[string]any
	json.Unmarshal(rec.Body.Bytes(), &got)
	if got["success"] != true || got["response"] != "Jeg ser en kake!" {
		t.Errorf("response = %v", got)
	}
	if gotSender != "Osmund" {
		t.Errorf("sender = %q, want the current session user", gotSender)
	}
	if gotCaption != "se her" {
		t.Errorf("caption = %q", gotCaption)
	}
}

func TestHandleUploadImageUnavailable(t *testing.T) {
	srv, _ := testServer(t)
	body, ctype := multipartImage(t, []byte("jpegdata"), "")
	req := httptest.NewRequest(http.MethodPost, "/upload-image", body)
	req.Header.Set("Content-Type", ctype)
	rec := httptest.NewRecorder()
	srv.handleUploadImage(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503 without an analyzer", rec.Code)
	}
}

func TestHandleUploadImageMissingField(t *testing.T) {
	srv, _ := testServer(t)
	srv.AnalyzeImage = func(ctx context.Context, data []byte, sender, caption string) (string, error) {
		return "", nil
	}
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("caption", "ingen fil")
	mw.Close()
	req := httptest.NewRequest(http.MethodPost, "/upload-image", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	srv.handleUploadImage(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 without an image part", rec.Code)
	}
}

func TestWatchSongs(t *testing.T) {
	f, err := NewFiles(t.TempDir())
	if err != nil {
		t.Fatalf("new files: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	plays := make(chan string, 1)
	stops := make(chan struct{}, 1)
	err = f.WatchSongs(ctx, func(path string) { plays <- path }, func() { stops <- struct{}{} })
	if err != nil {
		t.Fatalf("watch: %v", err)
	}

	if err := f.Write(FileSongRequest, "/songs/kvakk.wav"); err != nil {
		t.Fatalf("write: %v", err)
	}
	select {
	case path := <-plays:
		if path != "/songs/kvakk.wav" {
			t.Errorf("song path = %q", path)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("watcher never delivered the song request")
	}
	// the request file is consumed
	if v := f.Read(FileSongRequest, ""); v != "" {
		t.Errorf("song request file = %q, want cleared", v)
	}

	if err := f.Write(FileSongStop, "stop"); err != nil {
		t.Fatalf("write: %v", err)
	}
	select {
	case <-stops:
	case <-time.After(3 * time.Second):
		t.Fatal("watcher never delivered the stop")
	}
}
