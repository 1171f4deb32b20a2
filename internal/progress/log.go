package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// LogManager implements Manager with throttled line-based output for
// non-TTY environments such as CI or containers.
type LogManager struct {
	mu  sync.Mutex
	out io.Writer
	now func() time.Time
}

// NewLogManager creates a log-based progress manager writing to stderr.
func NewLogManager() *LogManager {
	return NewLogManagerTo(os.Stderr)
}

// NewLogManagerTo writes progress lines to w.
func NewLogManagerTo(w io.Writer) *LogManager {
	return &LogManager{out: w, now: time.Now}
}

func (m *LogManager) NewTracker(index, total int, name string) Tracker {
	return &logTracker{
		mgr:   m,
		index: index,
		total: total,
		name:  name,
		start: m.now(),
	}
}

func (m *LogManager) Wait() {}

func (m *LogManager) SetOverallStats(chartsComplete, chartsFailed int, codesSelected int64) {
	m.log(fmt.Sprintf("charts complete: %d  failed: %d  codes selected: %s",
		chartsComplete, chartsFailed, humanCount(codesSelected)))
}

func (m *LogManager) log(msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ts := m.now().Format("15:04:05")
	fmt.Fprintf(m.out, "%s %s\n", ts, msg)
}

// logTracker implements Tracker with throttled log output.
type logTracker struct {
	mgr       *LogManager
	index     int
	total     int
	name      string
	start     time.Time
	stage     string
	lastLog   time.Time
	prevBytes int64
	prevTime  time.Time
}

const logInterval = 20 * time.Second

func (t *logTracker) log(msg string) {
	t.mgr.log(fmt.Sprintf("[%d/%d] %s  %s", t.index+1, t.total, t.name, msg))
}

func (t *logTracker) SetStage(stage string) {
	t.stage = stage
	t.lastLog = time.Time{} // reset throttle so next progress update prints
	t.prevBytes = 0
	t.prevTime = time.Time{}
	t.log(stage)
}

func (t *logTracker) SetProgress(current, total int64) {
	now := t.mgr.now()
	if now.Sub(t.lastLog) < logInterval {
		return
	}

	speedStr := ""
	if !t.prevTime.IsZero() {
		elapsed := now.Sub(t.prevTime).Seconds()
		if elapsed > 0 {
			kbps := float64(current-t.prevBytes) / elapsed / 1024
			speedStr = fmt.Sprintf("  %.1f KB/s", kbps)
		}
	}
	t.prevBytes = current
	t.prevTime = now
	t.lastLog = now

	amount := humanBytes
	if t.stage == StageSelect {
		amount, speedStr = humanCount, ""
	}
	if total > 0 {
		pct := float64(current) / float64(total) * 100
		t.log(fmt.Sprintf("%s  %s / %s (%.0f%%)%s", t.stage, amount(current), amount(total), pct, speedStr))
	} else if current > 0 {
		t.log(fmt.Sprintf("%s  %s%s", t.stage, amount(current), speedStr))
	}
}

func (t *logTracker) SetCounter(name string, value int64) {
	t.log(fmt.Sprintf("%s  %s: %s", t.stage, name, humanCount(value)))
}

func (t *logTracker) Done() {
	elapsed := t.mgr.now().Sub(t.start).Truncate(time.Second)
	t.log(fmt.Sprintf("Finished in %s", elapsed))
}
