// Package workflow coordinates one chart-coding workspace: a session, its
// document, the AI suggestions, the selected codes and their verification.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/gyeh/chartcoder/internal/api"
	"github.com/gyeh/chartcoder/internal/codes"
	"github.com/gyeh/chartcoder/internal/export"
	"github.com/gyeh/chartcoder/internal/pkg/logger"
)

const module = "Workspace"

var (
	ErrNoSession            = errors.New("workflow: no active session")
	ErrNoSelection          = errors.New("workflow: no codes selected")
	ErrVerificationInFlight = errors.New("workflow: verification already in progress")
	ErrSuperseded           = errors.New("workflow: response superseded by a newer request")
)

// Backend is the remote surface the workspace drives. *api.Client
// satisfies it.
type Backend interface {
	CreateSession(ctx context.Context) (*codes.Session, error)
	GetSession(ctx context.Context, sessionID string) (*codes.SessionData, error)
	UploadDocument(ctx context.Context, filename string, r io.Reader, sessionID string, onProgress func(sent int64)) (*api.IngestResponse, error)
	ProcessText(ctx context.Context, text, sessionID string) (*api.IngestResponse, error)
	RunAnalysis(ctx context.Context, sessionID string, opts codes.AnalysisOptions) (*api.AnalysisResponse, error)
	SearchCodes(ctx context.Context, query string, codeType codes.CodeType) (*api.SearchResponse, error)
	SelectCode(ctx context.Context, sessionID string, code codes.MedicalCode) (codes.MedicalCode, error)
	AddManualCode(ctx context.Context, sessionID, code, description string, codeType codes.CodeType, confidence float64) (codes.MedicalCode, error)
	SelectedCodes(ctx context.Context, sessionID string) ([]codes.MedicalCode, error)
	RemoveSelectedCode(ctx context.Context, sessionID, code string) error
	VerifyCodes(ctx context.Context, sessionID string, selected []codes.MedicalCode) (*api.VerifyResponse, error)
	Export(ctx context.Context, sessionID string, format export.Format, onProgress func(downloaded, total int64)) (*api.Artifact, error)
}

var _ Backend = (*api.Client)(nil)

// Options configures a Workspace. Every field is optional.
type Options struct {
	Logger   logger.ILogger
	Notifier Notifier
	Clock    func() time.Time
	Archiver export.Archiver
}

// Workspace holds the client-side state of one chart. Commands are safe to
// call concurrently; each one leaves prior state intact when it fails.
type Workspace struct {
	backend  Backend
	log      logger.ILogger
	notifier Notifier
	clock    func() time.Time
	archiver export.Archiver

	mu       sync.Mutex
	st       state
	seq      map[string]uint64
	inflight map[Op]int
	errs     map[Op]string
	subs     map[chan Snapshot]struct{}
}

// New returns an empty workspace with no session.
func New(backend Backend, opts Options) *Workspace {
	w := &Workspace{
		backend:  backend,
		log:      opts.Logger,
		notifier: opts.Notifier,
		clock:    opts.Clock,
		archiver: opts.Archiver,
		seq:      make(map[string]uint64),
		inflight: make(map[Op]int),
		errs:     make(map[Op]string),
		subs:     make(map[chan Snapshot]struct{}),
	}
	if w.log == nil {
		w.log = logger.NewNopLogger()
	}
	if w.notifier == nil {
		w.notifier = nopNotifier{}
	}
	if w.clock == nil {
		w.clock = time.Now
	}
	return w
}

// Snapshot returns a deep copy of the current state.
func (w *Workspace) Snapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.snapshotLocked()
}

// SessionID returns the current session id, or "".
func (w *Workspace) SessionID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.st.sessionID()
}

// FilteredSuggestions derives the display view of the last analysis
// without another network call.
func (w *Workspace) FilteredSuggestions() []codes.MedicalCode {
	return w.SuggestionsAbove(codes.SuggestionThreshold)
}

// SuggestionsAbove filters the stored suggestions at an arbitrary threshold.
func (w *Workspace) SuggestionsAbove(threshold float64) []codes.MedicalCode {
	w.mu.Lock()
	defer w.mu.Unlock()
	return codes.CloneCodes(codes.FilterByConfidence(w.st.suggested, threshold))
}

// Verdict looks up the last verification result for code.
func (w *Workspace) Verdict(code string) (codes.VerificationResult, bool) {
	return w.Snapshot().Verdict(code)
}

// Subscribe returns a channel that receives a snapshot after every state
// change. Slow readers only see the latest snapshot. Call the returned
// function to unsubscribe.
func (w *Workspace) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)
	w.mu.Lock()
	w.subs[ch] = struct{}{}
	ch <- w.snapshotLocked()
	w.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			w.mu.Lock()
			delete(w.subs, ch)
			w.mu.Unlock()
			close(ch)
		})
	}
}

func (w *Workspace) snapshotLocked() Snapshot {
	return w.st.snapshot(w.inflight, w.errs)
}

func (w *Workspace) publishLocked() {
	if len(w.subs) == 0 {
		return
	}
	snap := w.snapshotLocked()
	for ch := range w.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}

// ticket identifies one in-flight command. A non-empty guard makes the
// command's response droppable by a newer command with the same guard. A
// non-empty session makes it droppable once the workspace moves to another
// session. A ticket started without a session records the session guard
// instead, so a session created or loaded meanwhile drops the response.
type ticket struct {
	op      Op
	guard   string
	seq     uint64
	session string

	unbound bool
	epoch   uint64
}

func (w *Workspace) start(op Op, guard, session string) ticket {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.startLocked(op, guard, session)
}

// startIngest opens a document ticket bound to the current session, or to
// the session guard when there is none yet.
func (w *Workspace) startIngest(op Op) ticket {
	w.mu.Lock()
	defer w.mu.Unlock()
	sid := w.st.sessionID()
	t := w.startLocked(op, guardDocument, sid)
	if sid == "" {
		t.unbound = true
		t.epoch = w.seq[guardSession]
	}
	return t
}

// startMutation opens a selection ticket. Any resync still in flight would
// overwrite the mutation with an older server copy, so it is superseded.
func (w *Workspace) startMutation(op Op, session string) ticket {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.seq[guardResync]++
	return w.startLocked(op, "", session)
}

func (w *Workspace) startLocked(op Op, guard, session string) ticket {
	t := ticket{op: op, guard: guard, session: session}
	if guard != "" {
		w.seq[guard]++
		t.seq = w.seq[guard]
	}
	w.inflight[op]++
	delete(w.errs, op)
	w.publishLocked()
	return t
}

// finish closes t. When the response is still current, apply runs under
// the lock on success and its message is sent as an info notice; on
// failure the error is recorded for the class. Stale responses are dropped.
func (w *Workspace) finish(t ticket, err error, apply func() string) error {
	w.mu.Lock()
	w.inflight[t.op]--
	if w.inflight[t.op] <= 0 {
		delete(w.inflight, t.op)
	}

	stale := (t.guard != "" && w.seq[t.guard] != t.seq) ||
		(t.session != "" && w.st.sessionID() != t.session) ||
		(t.unbound && w.seq[guardSession] != t.epoch)

	var msg string
	switch {
	case stale:
	case err != nil:
		w.errs[t.op] = err.Error()
	default:
		msg = apply()
	}
	w.publishLocked()
	w.mu.Unlock()

	details := map[string]interface{}{"operation": string(t.op)}
	if t.session != "" {
		details["session_id"] = t.session
	}

	if stale {
		details["seq"] = t.seq
		w.log.Debug(module, "dropping stale response", details)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrSuperseded, err)
		}
		return ErrSuperseded
	}

	if err != nil {
		details["error"] = err.Error()
		if errors.Is(err, context.Canceled) {
			w.log.Debug(module, "command canceled", details)
		} else {
			w.log.Warn(module, "command failed", details)
		}
		w.notifier.Notify(Notice{Level: LevelError, Operation: t.op, Message: userMessage(t.op, err)})
		return err
	}

	w.log.Info(module, msg, details)
	w.notifier.Notify(Notice{Level: LevelInfo, Operation: t.op, Message: msg})
	return nil
}

// reject reports a precondition failure without touching state.
func (w *Workspace) reject(op Op, err error) error {
	w.log.Debug(module, "command rejected", map[string]interface{}{
		"operation": string(op),
		"error":     err.Error(),
	})
	w.notifier.Notify(Notice{Level: LevelError, Operation: op, Message: userMessage(op, err)})
	return err
}

func (w *Workspace) requireSession(op Op) (string, error) {
	if id := w.SessionID(); id != "" {
		return id, nil
	}
	return "", w.reject(op, ErrNoSession)
}

func userMessage(op Op, err error) string {
	var re *api.RequestError
	if errors.As(err, &re) {
		if msg := re.Message(); msg != "" {
			return fmt.Sprintf("%s failed: %s", opTitle(op), msg)
		}
	}
	return fmt.Sprintf("%s failed: %v", opTitle(op), err)
}

func opTitle(op Op) string {
	switch op {
	case OpSession:
		return "Session"
	case OpUpload:
		return "Document upload"
	case OpProcess:
		return "Text processing"
	case OpAnalyze:
		return "Analysis"
	case OpSearch:
		return "Code search"
	case OpSelect:
		return "Code selection"
	case OpVerify:
		return "Verification"
	case OpExport:
		return "Export"
	}
	return string(op)
}
