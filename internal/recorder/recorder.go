// Package recorder captures session byte streams to disk as asciicast v2
// files, opt-in via the host controller's configuration. It observes the
// same output/input bytes the session registry already produces and
// consumes, and never participates in session lifecycle.
package recorder

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// header is the asciicast v2 header line, written once per session.
type header struct {
	Version   int   `json:"version"`
	Width     int   `json:"width"`
	Height    int   `json:"height"`
	Timestamp int64 `json:"timestamp"`
}

// event is one asciicast v2 event: [time_offset, "o"|"i", data].
type event struct {
	timeOffset float64
	kind       string
	data       string
}

func (e event) MarshalJSON() ([]byte, error) {
	return json.Marshal([]interface{}{e.timeOffset, e.kind, e.data})
}

type recording struct {
	file      *os.File
	startTime time.Time
	mu        sync.Mutex
}

func (r *recording) writeEvent(kind string, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := event{timeOffset: time.Since(r.startTime).Seconds(), kind: kind, data: string(data)}
	line, err := json.Marshal(e)
	if err != nil {
		return
	}
	_, _ = r.file.Write(append(line, '\n'))
}

func (r *recording) close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	_ = r.file.Close()
}

// Recorder manages one asciicast file per attached session under a
// configured directory. Safe for concurrent use.
type Recorder struct {
	dir          string
	defaultCols  int
	defaultRows  int
	mu           sync.Mutex
	recordings   map[string]*recording
}

// New returns a Recorder that writes files under dir, named
// "<sessionID>.cast". dir must already exist.
func New(dir string, defaultCols, defaultRows int) *Recorder {
	return &Recorder{
		dir:         dir,
		defaultCols: defaultCols,
		defaultRows: defaultRows,
		recordings:  make(map[string]*recording),
	}
}

// Attach opens a new asciicast file for sessionID and writes its header.
// A failure to create the file is logged nowhere; recording is best-effort
// and must never block or fail session creation.
func (r *Recorder) Attach(sessionID string) {
	path := filepath.Join(r.dir, fmt.Sprintf("%s.cast", sessionID))
	f, err := os.Create(path)
	if err != nil {
		return
	}
	rec := &recording{file: f, startTime: time.Now()}

	h := header{Version: 2, Width: r.defaultCols, Height: r.defaultRows, Timestamp: rec.startTime.Unix()}
	line, err := json.Marshal(h)
	if err == nil {
		_, _ = f.Write(append(line, '\n'))
	}

	r.mu.Lock()
	r.recordings[sessionID] = rec
	r.mu.Unlock()
}

// Output appends an output ("o") event for sessionID. A no-op if the
// session was never attached.
func (r *Recorder) Output(sessionID string, data []byte) {
	r.withRecording(sessionID, func(rec *recording) { rec.writeEvent("o", data) })
}

// Input appends an input ("i") event for sessionID.
func (r *Recorder) Input(sessionID string, data []byte) {
	r.withRecording(sessionID, func(rec *recording) { rec.writeEvent("i", data) })
}

// Detach closes the session's recording file, if one is open.
func (r *Recorder) Detach(sessionID string) {
	r.mu.Lock()
	rec, ok := r.recordings[sessionID]
	if ok {
		delete(r.recordings, sessionID)
	}
	r.mu.Unlock()
	if ok {
		rec.close()
	}
}

func (r *Recorder) withRecording(sessionID string, f func(*recording)) {
	r.mu.Lock()
	rec, ok := r.recordings[sessionID]
	r.mu.Unlock()
	if ok {
		f(rec)
	}
}
