// Package control is the local surface humans use to watch and reconfigure
// the duck: small plaintext control files consumed by the components that
// care, plus an HTTP endpoint for the web panel.
package control

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// StartConversationToken in the message file kicks off the voice loop
// instead of a one-shot turn.
const StartConversationToken = "__START_CONVERSATION__"

// Control file names. Last writer wins; consumers re-read at use.
const (
	FileModel       = "model"
	FilePersonality = "personality"
	FileVoice       = "voice"
	FileBeak        = "beak"
	FileSpeed       = "speed"
	FileVolume      = "volume"
	FileFan         = "fan"
	FileFanStatus   = "fan_status"
	FileMessage     = "message"
	FileSongRequest = "song_request"
	FileSongStop    = "song_stop"
	FileResponse    = "response"
	FileCurrentUser = "current_user"
)

// Files reads and writes the plaintext control files.
type Files struct {
	dir string
}

func NewFiles(dir string) (*Files, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create control dir: %w", err)
	}
	return &Files{dir: dir}, nil
}

func (f *Files) Dir() string { return f.dir }

func (f *Files) path(name string) string { return filepath.Join(f.dir, name) }

// Read returns the trimmed file content, or def when missing or empty.
func (f *Files) Read(name, def string) string {
	data, err := os.ReadFile(f.path(name))
	if err != nil {
		return def
	}
	v := strings.TrimSpace(string(data))
	if v == "" {
		return def
	}
	return v
}

func (f *Files) Write(name, value string) error {
	if err := os.WriteFile(f.path(name), []byte(value), 0644); err != nil {
		return fmt.Errorf("write control file %s: %w", name, err)
	}
	return nil
}

// Take reads and clears the file in one step; used for the message queue
// files so a command fires once.
func (f *Files) Take(name string) string {
	v := f.Read(name, "")
	if v != "" {
		if err := os.WriteFile(f.path(name), nil, 0644); err != nil {
			log.Printf("[control] clear %s: %v", name, err)
		}
	}
	return v
}

// WatchMessages watches the control dir and calls onMessage with the content
// of the message file every time something writes it.
func (f *Files) WatchMessages(ctx context.Context, onMessage func(text string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(f.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", f.dir, err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(ev.Name) != FileMessage {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				if text := f.Take(FileMessage); text != "" {
					onMessage(text)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("[control] watcher: %v", err)
			}
		}
	}()
	return nil
}

// WatchSongs watches the song request and stop files. onPlay gets the
// requested path; onStop fires on any write to the stop file.
func (f *Files) WatchSongs(ctx context.Context, onPlay func(path string), onStop func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(f.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", f.dir, err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				switch filepath.Base(ev.Name) {
				case FileSongRequest:
					if path := f.Take(FileSongRequest); path != "" {
						onPlay(path)
					}
				case FileSongStop:
					if f.Take(FileSongStop) != "" {
						onStop()
					}
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("[control] watcher: %v", err)
			}
		}
	}()
	return nil
}
