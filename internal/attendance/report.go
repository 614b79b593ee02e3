package attendance

import (
	"context"
	"io"
	"sync"

	json "github.com/goccy/go-json"
)

// Summary counts records by status.
type Summary struct {
	Present int `json:"present"`
	Absent  int `json:"absent"`
}

func Summarize(records []Record) Summary {
	var s Summary
	for _, r := range records {
		switch r.Status {
		case StatusPresent:
			s.Present++
		case StatusAbsent:
			s.Absent++
		}
	}
	return s
}

// JSONRecorder writes every emitted session as one JSON document to w.
// Offline runs use it to produce an attendance file next to the frames.
type JSONRecorder struct {
	mu     sync.Mutex
	w      io.Writer
	indent bool
}

func NewJSONRecorder(w io.Writer, indent bool) *JSONRecorder {
	return &JSONRecorder{w: w, indent: indent}
}

type jsonReport struct {
	Summary Summary  `json:"summary"`
	Records []Record `json:"records"`
}

func (j *JSONRecorder) Record(_ context.Context, records []Record) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	enc := json.NewEncoder(j.w)
	if j.indent {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(jsonReport{Summary: Summarize(records), Records: records})
}
