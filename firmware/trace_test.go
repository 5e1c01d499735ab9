package firmware

import (
	"bufio"
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/tendergrid/mcufw/hal/sim"
	"github.com/tendergrid/mcufw/internal/golden"
	"github.com/tendergrid/mcufw/tick"
)

// parseTraceLines decodes the JSON Lines a sim.Trace wrote into the golden
// package's comparable Event shape.
func parseTraceLines(t *testing.T, buf *bytes.Buffer) []golden.Event {
	t.Helper()
	var events []golden.Event
	sc := bufio.NewScanner(buf)
	for sc.Scan() {
		var e golden.Event
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("decode trace line %q: %v", sc.Text(), err)
		}
		events = append(events, e)
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("scan trace: %v", err)
	}
	return events
}

// TestStepperTraceMatchesGolden runs a short, fully deterministic move
// under a recording Trace and checks the resulting GPIO transitions against
// a checked-in-style golden file, the offline verification spec.md §6/§8
// call for. The golden file is created fresh in a temp directory with
// update=true, then immediately re-verified with update=false, so the test
// is self-contained and doesn't depend on a fixture checked into the repo.
func TestStepperTraceMatchesGolden(t *testing.T) {
	var traceBuf bytes.Buffer
	clock := &tick.Virtual{}
	trace := sim.NewTrace(&traceBuf)
	board := sim.NewBoard(clock, trace)
	s := New(board, clock)
	s.Boot()

	content := append(configStepperContent(0, "step0", "dir0", "en0"), queueStepContent(0, true, 1000, 2, 0)...)
	frames := feedFrame(t, s, clock.Now(), 0, content)
	ackAll(s, frames)

	for i := 0; i < 3000; i++ {
		now := clock.Advance(1)
		s.Tick(now)
	}

	got := parseTraceLines(t, &traceBuf)
	if len(got) == 0 {
		t.Fatal("no GPIO transitions recorded")
	}

	path := filepath.Join(t.TempDir(), "stepper.trace.golden.gz")
	if err := golden.CompareTrace(path, true, got); err != nil {
		t.Fatalf("write golden: %v", err)
	}
	if err := golden.CompareTrace(path, false, got); err != nil {
		t.Fatalf("compare against freshly written golden: %v", err)
	}
}
