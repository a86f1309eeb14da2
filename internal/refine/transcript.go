package refine

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Transcript writes per-session JSONL attempt logs to a work directory,
// one file per session. Logging is best-effort: a failed write never
// disturbs the refinement loop.
type Transcript struct {
	dir string
	mu  sync.Mutex
}

// TranscriptEntry is one logged event.
type TranscriptEntry struct {
	Time    time.Time `json:"time"`
	Session string    `json:"session"`
	Attempt int       `json:"attempt"`
	Stage   string    `json:"stage"` // "draft", "verdict", "status"
	Text    string    `json:"text"`
}

// NewTranscript creates a transcript writer rooted at dir.
func NewTranscript(dir string) (*Transcript, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &Transcript{dir: dir}, nil
}

// Record appends one entry to the session's log file.
func (t *Transcript) Record(sessionID string, attempt int, stage, text string) {
	entry := TranscriptEntry{
		Time:    time.Now().UTC(),
		Session: sessionID,
		Attempt: attempt,
		Stage:   stage,
		Text:    text,
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	data = append(data, '\n')

	t.mu.Lock()
	defer t.mu.Unlock()

	f, err := os.OpenFile(t.path(sessionID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return
	}
	defer func() { _ = f.Close() }()
	_, _ = f.Write(data)
}

func (t *Transcript) path(sessionID string) string {
	return filepath.Join(t.dir, sessionID+".jsonl")
}
