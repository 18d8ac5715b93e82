package control

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/osmundg/duckberry/internal/hunger"
	"github.com/osmundg/duckberry/internal/session"
	"github.com/osmundg/duckberry/internal/store"
)

const serviceName = "duckberry"

// Server is the local HTTP control surface. It only reads state and writes
// control files; the components pick the changes up themselves.
type Server struct {
	files    *Files
	logs     *LogBuffer
	store    *store.Store
	hunger   *hunger.Manager
	sessions *session.Manager

	duckName  string
	songsDir  string
	wakeWords []string
	startedAt time.Time

	// Callbacks into the router; nil disables the endpoint.
	AskAI        func(ctx context.Context, text string) (string, error)
	Speak        func(ctx context.Context, text string) error
	AnalyzeImage func(ctx context.Context, data []byte, sender, caption string) (string, error)
	VisionOnline func() bool

	server *http.Server
}

func NewServer(files *Files, logs *LogBuffer, s *store.Store, h *hunger.Manager, sm *session.Manager, duckName, songsDir string, wakeWords []string) *Server {
	return &Server{
		files:     files,
		logs:      logs,
		store:     s,
		hunger:    h,
		sessions:  sm,
		duckName:  duckName,
		songsDir:  songsDir,
		wakeWords: wakeWords,
		startedAt: time.Now(),
	}
}

func (s *Server) Start(host string, port int) error {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /duck-status", s.handleDuckStatus)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /logs", s.handleLogs)
	mux.HandleFunc("GET /fan-status", s.handleFanStatus)
	mux.HandleFunc("GET /songs", s.handleSongs)
	mux.HandleFunc("GET /wifi-networks", s.handleWifiNetworks)
	mux.HandleFunc("GET /wake-words", s.handleWakeWords)
	mux.HandleFunc("GET /images", s.handleImages)

	for _, name := range []string{FileModel, FilePersonality, FileVoice, FileBeak, FileSpeed, FileVolume} {
		name := name
		mux.HandleFunc("GET /current-"+name, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, map[string]string{name: s.files.Read(name, defaultFor(name))})
		})
		mux.HandleFunc("POST /change-"+name, func(w http.ResponseWriter, r *http.Request) {
			s.handleChange(w, r, name)
		})
	}

	mux.HandleFunc("POST /control", s.handleControl)
	mux.HandleFunc("POST /speak", s.handleSpeak)
	mux.HandleFunc("POST /ask-ai", s.handleAskAI)
	mux.HandleFunc("POST /upload-image", s.handleUploadImage)
	mux.HandleFunc("POST /start-conversation", s.handleStartConversation)
	mux.HandleFunc("POST /set-fan-mode", s.handleSetFanMode)
	mux.HandleFunc("POST /play-song", s.handlePlaySong)
	mux.HandleFunc("POST /stop-song", s.handleStopSong)
	mux.HandleFunc("POST /reboot", s.handleSystem("reboot"))
	mux.HandleFunc("POST /shutdown", s.handleSystem("poweroff"))
	mux.HandleFunc("POST /start-portal", s.handleStartPortal)

	s.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", host, port),
		Handler: mux,
	}
	go func() {
		log.Printf("[control] listening on %s", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[control] server error: %v", err)
		}
	}()
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func defaultFor(name string) string {
	switch name {
	case FileBeak:
		return "on"
	case FileSpeed, FileVolume:
		return "50"
	case FileFan:
		return "auto"
	default:
		return ""
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[control] encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{"success": false, "error": msg})
}

func (s *Server) handleDuckStatus(w http.ResponseWriter, r *http.Request) {
	view := s.sessions.Current()
	status := map[string]any{
		"duck_name":     s.duckName,
		"uptime_sec":    int(time.Since(s.startedAt).Seconds()),
		"current_user":  view.Username,
		"user_relation": view.Relation,
	}
	if hs, err := s.hunger.Status(time.Now()); err == nil {
		status["hunger"] = hs
	}
	if p, err := s.store.Personality(); err == nil {
		status["personality"] = p
	}
	if s.VisionOnline != nil {
		status["vision_online"] = s.VisionOnline()
	}
	status["fan_status"] = s.files.Read(FileFanStatus, "auto|false|0.0")
	writeJSON(w, status)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"running": true, "name": s.duckName})
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"logs": s.logs.Tail()})
}

func (s *Server) handleFanStatus(w http.ResponseWriter, r *http.Request) {
	raw := s.files.Read(FileFanStatus, "auto|false|0.0")
	parts := strings.SplitN(raw, "|", 3)
	out := map[string]any{"raw": raw}
	if len(parts) == 3 {
		out["mode"] = parts[0]
		out["running"] = parts[1] == "true"
		if temp, err := strconv.ParseFloat(parts[2], 64); err == nil {
			out["temp"] = temp
		}
	}
	writeJSON(w, out)
}

func (s *Server) handleSongs(w http.ResponseWriter, r *http.Request) {
	var songs []string
	entries, err := os.ReadDir(s.songsDir)
	if err == nil {
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			switch strings.ToLower(filepath.Ext(e.Name())) {
			case ".mp3", ".wav", ".ogg", ".flac":
				songs = append(songs, filepath.Join(s.songsDir, e.Name()))
			}
		}
	}
	writeJSON(w, map[string]any{"songs": songs})
}

func (s *Server) handleWifiNetworks(w http.ResponseWriter, r *http.Request) {
	out, err := exec.Command("nmcli", "-t", "-f", "SSID", "dev", "wifi").Output()
	if err != nil {
		writeJSON(w, map[string]any{"networks": []string{}})
		return
	}
	seen := make(map[string]bool)
	var networks []string
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		ssid := strings.TrimSpace(line)
		if ssid != "" && !seen[ssid] {
			seen[ssid] = true
			networks = append(networks, ssid)
		}
	}
	writeJSON(w, map[string]any{"networks": networks})
}

func (s *Server) handleWakeWords(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"wake_words": s.wakeWords})
}

func (s *Server) handleImages(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 200 {
			writeError(w, http.StatusBadRequest, "limit must be 1-200")
			return
		}
		limit = n
	}
	images, err := s.store.RecentImages(limit, r.URL.Query().Get("sender"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, map[string]any{"images": images})
}

func decodeBody(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func (s *Server) handleChange(w http.ResponseWriter, r *http.Request, name string) {
	var body map[string]string
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	value := body["value"]
	if value == "" {
		value = body[name]
	}
	if err := validateControlValue(name, value); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.files.Write(name, value); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if name == FilePersonality {
		s.applyPersonality(value)
	}
	log.Printf("[control] %s -> %q", name, value)
	writeJSON(w, map[string]any{"success": true})
}

func validateControlValue(name, value string) error {
	switch name {
	case FileBeak:
		if value != "on" && value != "off" {
			return fmt.Errorf("beak must be on or off")
		}
	case FileSpeed, FileVolume:
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 || n > 100 {
			return fmt.Errorf("%s must be 0..100", name)
		}
	default:
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("missing value")
		}
	}
	return nil
}

// applyPersonality syncs the slider profile in the store when the panel
// posts a JSON personality payload.
func (s *Server) applyPersonality(value string) {
	var p store.Personality
	if err := json.Unmarshal([]byte(value), &p); err != nil {
		return
	}
	if err := s.store.SetPersonality(p); err != nil {
		log.Printf("[control] save personality: %v", err)
	}
}

func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Action string `json:"action"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	switch body.Action {
	case "start", "stop", "restart":
	default:
		writeError(w, http.StatusBadRequest, "action must be start, stop or restart")
		return
	}
	if err := exec.Command("systemctl", body.Action, serviceName).Run(); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("systemctl %s: %v", body.Action, err))
		return
	}
	writeJSON(w, map[string]any{"success": true})
}

func (s *Server) handleSpeak(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Text string `json:"text"`
	}
	if err := decodeBody(r, &body); err != nil || strings.TrimSpace(body.Text) == "" {
		writeError(w, http.StatusBadRequest, "missing text")
		return
	}
	if s.Speak == nil {
		writeError(w, http.StatusServiceUnavailable, "speech unavailable")
		return
	}
	if err := s.Speak(r.Context(), body.Text); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, map[string]any{"success": true})
}

func (s *Server) handleAskAI(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Text string `json:"text"`
	}
	if err := decodeBody(r, &body); err != nil || strings.TrimSpace(body.Text) == "" {
		writeError(w, http.StatusBadRequest, "missing text")
		return
	}
	if s.AskAI == nil {
		writeError(w, http.StatusServiceUnavailable, "ai unavailable")
		return
	}
	reply, err := s.AskAI(r.Context(), body.Text)
	if err != nil {
		writeJSON(w, map[string]any{"success": false, "response": reply, "error": err.Error()})
		return
	}
	writeJSON(w, map[string]any{"success": true, "response": reply})
}

// maxUploadBytes matches the MMS pipeline's size gate.
const maxUploadBytes = 5 * 1024 * 1024

func (s *Server) handleUploadImage(w http.ResponseWriter, r *http.Request) {
	if s.AnalyzeImage == nil {
		writeError(w, http.StatusServiceUnavailable, "image analysis unavailable")
		return
	}
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	file, _, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing image field")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes+1))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(data) > maxUploadBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "image too large")
		return
	}

	// Attribute the upload to whoever the duck is talking with.
	sender := s.sessions.Current().DisplayName
	reply, err := s.AnalyzeImage(r.Context(), data, sender, r.FormValue("caption"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, map[string]any{"success": true, "response": reply})
}

func (s *Server) handleStartConversation(w http.ResponseWriter, r *http.Request) {
	if err := s.files.Write(FileMessage, StartConversationToken); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, map[string]any{"success": true})
}

func (s *Server) handleSetFanMode(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Mode string `json:"mode"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	switch body.Mode {
	case "auto", "on", "off":
	default:
		writeError(w, http.StatusBadRequest, "mode must be auto, on or off")
		return
	}
	if err := s.files.Write(FileFan, body.Mode); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	log.Printf("[control] fan mode -> %s", body.Mode)
	writeJSON(w, map[string]any{"success": true})
}

func (s *Server) handlePlaySong(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SongPath string `json:"song_path"`
	}
	if err := decodeBody(r, &body); err != nil || body.SongPath == "" {
		writeError(w, http.StatusBadRequest, "missing song_path")
		return
	}
	if !strings.HasPrefix(filepath.Clean(body.SongPath), filepath.Clean(s.songsDir)) {
		writeError(w, http.StatusBadRequest, "song outside songs directory")
		return
	}
	if err := s.files.Write(FileSongRequest, body.SongPath); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, map[string]any{"success": true})
}

func (s *Server) handleStopSong(w http.ResponseWriter, r *http.Request) {
	if err := s.files.Write(FileSongStop, "stop"); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, map[string]any{"success": true})
}

func (s *Server) handleSystem(action string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log.Printf("[control] system %s requested", action)
		if err := exec.Command("systemctl", action).Run(); err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("systemctl %s: %v", action, err))
			return
		}
		writeJSON(w, map[string]any{"success": true})
	}
}

func (s *Server) handleStartPortal(w http.ResponseWriter, r *http.Request) {
	if err := exec.Command("systemctl", "start", "wifi-portal").Run(); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("start portal: %v", err))
		return
	}
	writeJSON(w, map[string]any{"success": true})
}
