// Package progress reports per-chart progress during batch coding.
package progress

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// Stages a chart moves through, in order.
const (
	StageSession = "Creating session"
	StageUpload  = "Uploading"
	StageAnalyze = "Analyzing"
	StageSelect  = "Selecting codes"
	StageVerify  = "Verifying"
	StageExport  = "Exporting"
	StageDone    = "Done"
	StageFailed  = "Failed"
)

// Tracker tracks progress for a single chart.
type Tracker interface {
	SetStage(stage string)
	SetProgress(current, total int64)
	SetCounter(name string, value int64)
	Done()
}

// Manager creates trackers for individual charts.
type Manager interface {
	NewTracker(index, total int, name string) Tracker
	Wait()
	SetOverallStats(chartsComplete, chartsFailed int, codesSelected int64)
}

// MPBManager implements Manager using the mpb multi-progress-bar library.
type MPBManager struct {
	container  *mpb.Progress
	mu         sync.Mutex
	overallBar *mpb.Bar
	overall    atomic.Value
}

// NewMPBManager creates a new mpb-based progress manager with an overall
// bar for totalCharts charts.
func NewMPBManager(totalCharts int) *MPBManager {
	m := &MPBManager{container: mpb.New(mpb.WithWidth(60))}
	m.overall.Store("")
	m.overallBar = m.container.AddBar(int64(totalCharts),
		mpb.PrependDecorators(
			decor.Name("charts ", decor.WCSyncSpaceR),
			decor.CountersNoUnit("%d / %d", decor.WCSyncWidth),
		),
		mpb.AppendDecorators(
			decor.Any(func(decor.Statistics) string {
				return m.overall.Load().(string)
			}),
		),
	)
	return m
}

// NewTracker creates a new progress tracker for a chart.
func (m *MPBManager) NewTracker(index, total int, name string) Tracker {
	stageVal := &atomic.Value{}
	stageVal.Store("")
	counters := &atomic.Value{}
	counters.Store("")
	bar := m.container.AddBar(100,
		mpb.PrependDecorators(
			decor.Name(fmt.Sprintf("[%d/%d] %s ", index+1, total, name), decor.WCSyncSpaceR),
		),
		mpb.AppendDecorators(
			decor.Any(func(s decor.Statistics) string {
				return stageVal.Load().(string) + counters.Load().(string)
			}),
		),
	)

	return &mpbTracker{
		bar:      bar,
		stagePtr: stageVal,
		counters: counters,
		mgr:      m,
	}
}

// Wait waits for all progress bars to finish.
func (m *MPBManager) Wait() {
	m.mu.Lock()
	if !m.overallBar.Completed() {
		m.overallBar.Abort(false)
	}
	m.mu.Unlock()
	m.container.Wait()
}

// SetOverallStats advances the overall bar.
func (m *MPBManager) SetOverallStats(chartsComplete, chartsFailed int, codesSelected int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.overall.Store(fmt.Sprintf(" %d failed, %d codes selected", chartsFailed, codesSelected))
	m.overallBar.SetCurrent(int64(chartsComplete))
}

type mpbTracker struct {
	bar      *mpb.Bar
	stagePtr *atomic.Value
	counters *atomic.Value
	mgr      *MPBManager
}

func (t *mpbTracker) SetStage(stage string) {
	t.stagePtr.Store(stage)
	t.bar.SetCurrent(0) // reset progress for new stage
}

func (t *mpbTracker) SetProgress(current, total int64) {
	if total > 0 {
		pct := int64(float64(current) / float64(total) * 100)
		t.bar.SetTotal(100, false)
		t.bar.SetCurrent(pct)
	}
}

func (t *mpbTracker) SetCounter(name string, value int64) {
	t.counters.Store(fmt.Sprintf("  %s: %s", name, humanCount(value)))
}

func (t *mpbTracker) Done() {
	t.bar.SetTotal(100, false)
	t.bar.SetCurrent(100)
	t.bar.Abort(false) // complete without removing
}

// NoopManager is a silent progress manager that only records totals.
type NoopManager struct {
	ChartsComplete int32
	ChartsFailed   int32
	CodesSelected  int64
}

func (m *NoopManager) NewTracker(index, total int, name string) Tracker {
	return noopTracker{}
}

func (m *NoopManager) Wait() {}

func (m *NoopManager) SetOverallStats(chartsComplete, chartsFailed int, codesSelected int64) {
	atomic.StoreInt32(&m.ChartsComplete, int32(chartsComplete))
	atomic.StoreInt32(&m.ChartsFailed, int32(chartsFailed))
	atomic.StoreInt64(&m.CodesSelected, codesSelected)
}

type noopTracker struct{}

func (noopTracker) SetStage(stage string)               {}
func (noopTracker) SetProgress(current, total int64)    {}
func (noopTracker) SetCounter(name string, value int64) {}
func (noopTracker) Done()                               {}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}

func humanCount(n int64) string {
	switch {
	case n >= 1_000_000:
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	case n >= 10_000:
		return fmt.Sprintf("%.1fK", float64(n)/1_000)
	}
	return fmt.Sprintf("%d", n)
}
