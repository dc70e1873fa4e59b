package progress

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/neural-garage/tools/pkg/analyzer"
)

func TestNewBar(t *testing.T) {
	var buf bytes.Buffer
	bar := NewBar(&buf, "Extracting facts")

	if bar.bar == nil {
		t.Fatal("bar.bar should not be nil")
	}
	if bar.label != "Extracting facts" {
		t.Errorf("bar.label = %q", bar.label)
	}
}

func TestBarTracksEvents(t *testing.T) {
	var buf bytes.Buffer
	bar := NewBar(&buf, "Extracting facts")
	tracker := bar.Tracker("extract")

	tracker.Add(20)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tracker.Tick("file.py")
		}()
	}
	wg.Wait()

	if bar.max != 20 {
		t.Errorf("bar max = %d, want 20", bar.max)
	}
	if got := bar.bar.State().CurrentNum; got != 20 {
		t.Errorf("bar current = %d, want 20", got)
	}
	bar.FinishSuccess()
}

func TestBarGrowsWithTotal(t *testing.T) {
	bar := NewBar(&bytes.Buffer{}, "Extracting facts")
	fn := bar.Func()

	fn(analyzer.Event{Current: 1, Total: 5})
	fn(analyzer.Event{Current: 2, Total: 8})
	fn(analyzer.Event{Current: 3, Total: 6})

	if bar.max != 8 {
		t.Errorf("bar max = %d, want 8", bar.max)
	}
}

func TestFinishError(t *testing.T) {
	var buf bytes.Buffer
	bar := NewBar(&buf, "Extracting facts")
	bar.FinishError(errors.New("disk full"))

	if !strings.Contains(buf.String(), "Extracting facts error: disk full") {
		t.Errorf("output = %q", buf.String())
	}
}
