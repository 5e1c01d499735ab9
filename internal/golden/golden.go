// Package golden implements golden-file comparison for recorded GPIO
// transition traces, the update/compare shape golden.go's bspline
// predecessor used for engraving paths, retargeted at the JSON Lines
// traces hal/sim/trace.go produces for offline verification.
package golden

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"os"
)

// Event is one recorded GPIO transition, matching the JSON Lines shape
// hal/sim.Trace writes.
type Event struct {
	Tick  uint32 `json:"tick"`
	Pin   string `json:"pin"`
	Level string `json:"level"`
}

// CompareTrace compares got against the gzip-compressed JSON Lines golden
// file at path. With update set, it overwrites the golden file with got
// instead of comparing, the same -update convention the predecessor
// bspline comparator used.
func CompareTrace(path string, update bool, got []Event) error {
	if update {
		return writeTrace(path, got)
	}
	want, err := readTrace(path)
	if err != nil {
		return err
	}
	if len(want) != len(got) {
		return fmt.Errorf("%s: got %d events, want %d", path, len(got), len(want))
	}
	for i := range want {
		if want[i] != got[i] {
			return fmt.Errorf("%s: event %d = %+v, want %+v", path, i, got[i], want[i])
		}
	}
	return nil
}

func writeTrace(path string, events []Event) error {
	buf := new(bytes.Buffer)
	w, err := gzip.NewWriterLevel(buf, gzip.BestCompression)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	enc := json.NewEncoder(w)
	for _, e := range events {
		if err := enc.Encode(e); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return os.WriteFile(path, buf.Bytes(), 0o640)
}

func readTrace(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	r, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	defer r.Close()
	var events []Event
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		var e Event
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		events = append(events, e)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return events, nil
}
