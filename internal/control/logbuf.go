package control

import (
	"strings"
	"sync"
)

const defaultLogLines = 50

// LogBuffer keeps the newest log lines for the /logs endpoint. Wire it into
// the standard logger with io.MultiWriter.
type LogBuffer struct {
	mu    sync.Mutex
	max   int
	lines []string
	part  string
}

func NewLogBuffer(max int) *LogBuffer {
	if max <= 0 {
		max = defaultLogLines
	}
	return &LogBuffer{max: max}
}

func (b *LogBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.part += string(p)
	for {
		i := strings.IndexByte(b.part, '\n')
		if i < 0 {
			break
		}
		b.lines = append(b.lines, b.part[:i])
		b.part = b.part[i+1:]
	}
	if len(b.lines) > b.max {
		b.lines = b.lines[len(b.lines)-b.max:]
	}
	return len(p), nil
}

// Tail returns the buffered lines as one string, newest last.
func (b *LogBuffer) Tail() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Join(b.lines, "\n")
}
