package workflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"

	"github.com/gyeh/chartcoder/internal/api"
	"github.com/gyeh/chartcoder/internal/codes"
	"github.com/gyeh/chartcoder/internal/export"
)

// Guards for commands whose response replaces state wholesale.
const (
	guardSession  = "session"
	guardDocument = "document"
	guardAnalysis = "analysis"
	guardSearch   = "search"
	guardResync   = "resync"
	guardVerify   = "verify"
)

// EnsureSession returns the current session, creating one if there is none.
func (w *Workspace) EnsureSession(ctx context.Context) (codes.Session, error) {
	w.mu.Lock()
	if w.st.session != nil {
		s := *w.st.session
		w.mu.Unlock()
		return s, nil
	}
	w.mu.Unlock()
	return w.NewSession(ctx)
}

// NewSession creates a session on the server and makes it current,
// discarding the previous session's document, codes and verification.
func (w *Workspace) NewSession(ctx context.Context) (codes.Session, error) {
	t := w.start(OpSession, guardSession, "")
	s, err := w.backend.CreateSession(ctx)
	var out codes.Session
	err = w.finish(t, err, func() string {
		w.st.adopt(*s)
		out = *w.st.session
		return fmt.Sprintf("Session %s created", s.SessionID)
	})
	return out, err
}

// LoadSession fetches a session's server copy and adopts it, including
// patient data, suggestions, selected codes and verification results.
func (w *Workspace) LoadSession(ctx context.Context, sessionID string) (codes.Session, error) {
	t := w.start(OpSession, guardSession, "")
	data, err := w.backend.GetSession(ctx, sessionID)
	var out codes.Session
	err = w.finish(t, err, func() string {
		w.st.adopt(data.Session)
		w.st.patient = data.PatientData.Clone()
		if data.SuggestedCodes != nil {
			w.st.suggested = codes.CloneCodes(data.SuggestedCodes)
			w.st.totalCodes = len(data.SuggestedCodes)
		}
		if data.SelectedCodes != nil {
			w.st.selected = codes.Dedupe(data.SelectedCodes)
		}
		if data.VerificationResults != nil {
			w.st.verification = cloneResults(data.VerificationResults)
		}
		out = *w.st.session
		return fmt.Sprintf("Session %s loaded", data.SessionID)
	})
	return out, err
}

// UploadDocument sends a chart file. When there is no session the server
// creates one and the workspace adopts it. The returned patient data
// replaces the previous patient data entirely.
func (w *Workspace) UploadDocument(ctx context.Context, filename string, r io.Reader, onProgress func(sent int64)) (*api.IngestResponse, error) {
	t := w.startIngest(OpUpload)
	res, err := w.backend.UploadDocument(ctx, filename, r, t.session, onProgress)
	err = w.finish(t, err, func() string {
		w.ingestLocked(res)
		return fmt.Sprintf("Processed %s (%d characters)", filepath.Base(filename), res.TextLength)
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// ProcessText submits pasted chart text. It behaves like UploadDocument.
func (w *Workspace) ProcessText(ctx context.Context, text string) (*api.IngestResponse, error) {
	t := w.startIngest(OpProcess)
	res, err := w.backend.ProcessText(ctx, text, t.session)
	err = w.finish(t, err, func() string {
		w.ingestLocked(res)
		return fmt.Sprintf("Processed text (%d characters)", res.TextLength)
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (w *Workspace) ingestLocked(res *api.IngestResponse) {
	id := res.SessionID
	if id == "" {
		id = w.st.sessionID()
	}
	if id != w.st.sessionID() {
		w.seq[guardSession]++
	}
	w.st.adopt(codes.Session{SessionID: id, DocumentProcessed: res.Processed})
	w.st.patient = res.PatientData.Clone()
}

// RunAnalysis requests suggestions for the session's document. The full
// result is stored; FilteredSuggestions derives the display view.
func (w *Workspace) RunAnalysis(ctx context.Context, opts codes.AnalysisOptions) (*api.AnalysisResponse, error) {
	sid, err := w.requireSession(OpAnalyze)
	if err != nil {
		return nil, err
	}

	t := w.start(OpAnalyze, guardAnalysis, sid)
	res, err := w.backend.RunAnalysis(ctx, sid, opts)
	err = w.finish(t, err, func() string {
		w.st.suggested = codes.CloneCodes(res.SuggestedCodes)
		w.st.analysisResults = res.AnalysisResults
		w.st.totalCodes = res.TotalCodes
		if w.st.totalCodes == 0 {
			w.st.totalCodes = len(res.SuggestedCodes)
		}
		shown := len(codes.FilterByConfidence(res.SuggestedCodes, codes.SuggestionThreshold))
		return fmt.Sprintf("Analysis complete: %d codes suggested, %d above %.0f%% confidence",
			len(res.SuggestedCodes), shown, codes.SuggestionThreshold*100)
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Search replaces the search results with the matches for query.
func (w *Workspace) Search(ctx context.Context, query string, codeType codes.CodeType) ([]codes.MedicalCode, error) {
	if codeType == "" {
		codeType = codes.All
	}
	t := w.start(OpSearch, guardSearch, "")
	res, err := w.backend.SearchCodes(ctx, query, codeType)
	var out []codes.MedicalCode
	err = w.finish(t, err, func() string {
		w.st.searchQuery = query
		w.st.searchType = codeType
		w.st.searchResults = codes.CloneCodes(res.Results)
		out = codes.CloneCodes(res.Results)
		return fmt.Sprintf("Found %d codes for %q", len(res.Results), query)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Select records code against the session. Selecting a code that is
// already selected still reaches the server but adds no duplicate locally.
// Suggestions are left as they are.
func (w *Workspace) Select(ctx context.Context, code codes.MedicalCode) (codes.MedicalCode, error) {
	sid, err := w.requireSession(OpSelect)
	if err != nil {
		return codes.MedicalCode{}, err
	}
	norm, err := codes.Normalize(code)
	if err != nil {
		return codes.MedicalCode{}, w.reject(OpSelect, err)
	}

	t := w.startMutation(OpSelect, sid)
	sel, err := w.backend.SelectCode(ctx, sid, norm)
	err = w.finish(t, err, func() string {
		return w.addSelectedLocked(sel)
	})
	if err != nil {
		return codes.MedicalCode{}, err
	}
	return sel, nil
}

// AddManual records a hand-entered code with the manual confidence default.
func (w *Workspace) AddManual(ctx context.Context, code, description string, codeType codes.CodeType) (codes.MedicalCode, error) {
	sid, err := w.requireSession(OpSelect)
	if err != nil {
		return codes.MedicalCode{}, err
	}
	if _, err := codes.ManualCode(code, description, string(codeType), 0); err != nil {
		return codes.MedicalCode{}, w.reject(OpSelect, err)
	}

	t := w.startMutation(OpSelect, sid)
	mc, err := w.backend.AddManualCode(ctx, sid, code, description, codeType, codes.DefaultManualConfidence)
	err = w.finish(t, err, func() string {
		return w.addSelectedLocked(mc)
	})
	if err != nil {
		return codes.MedicalCode{}, err
	}
	return mc, nil
}

func (w *Workspace) addSelectedLocked(c codes.MedicalCode) string {
	if codes.ContainsCode(w.st.selected, c.Code) {
		return fmt.Sprintf("%s already selected", c.Code)
	}
	w.st.selected = append(w.st.selected, c)
	return fmt.Sprintf("Selected %s", c.Code)
}

// Remove deletes code from the selection. Removing a code that is not
// selected is not an error and leaves the selection unchanged.
func (w *Workspace) Remove(ctx context.Context, code string) error {
	sid, err := w.requireSession(OpSelect)
	if err != nil {
		return err
	}

	t := w.startMutation(OpSelect, sid)
	err = w.backend.RemoveSelectedCode(ctx, sid, code)
	return w.finish(t, err, func() string {
		if !codes.ContainsCode(w.st.selected, code) {
			return fmt.Sprintf("%s was not selected", code)
		}
		w.st.selected = codes.RemoveCode(w.st.selected, code)
		return fmt.Sprintf("Removed %s", code)
	})
}

// ResyncSelected replaces the local selection with the server's copy. A
// select, manual add or remove issued while it runs supersedes it.
func (w *Workspace) ResyncSelected(ctx context.Context) ([]codes.MedicalCode, error) {
	sid, err := w.requireSession(OpSelect)
	if err != nil {
		return nil, err
	}

	t := w.start(OpSelect, guardResync, sid)
	list, err := w.backend.SelectedCodes(ctx, sid)
	var out []codes.MedicalCode
	err = w.finish(t, err, func() string {
		w.st.selected = codes.Dedupe(list)
		out = codes.CloneCodes(w.st.selected)
		return fmt.Sprintf("Resynced %d selected codes", len(w.st.selected))
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Verify submits the whole selection for verification. Only one
// verification runs at a time. Results replace the previous ones on
// success; on failure the previous results stay.
func (w *Workspace) Verify(ctx context.Context) ([]codes.VerificationResult, error) {
	w.mu.Lock()
	sid := w.st.sessionID()
	var precond error
	switch {
	case sid == "":
		precond = ErrNoSession
	case len(w.st.selected) == 0:
		precond = ErrNoSelection
	case w.inflight[OpVerify] > 0:
		precond = ErrVerificationInFlight
	}
	if precond != nil {
		w.mu.Unlock()
		return nil, w.reject(OpVerify, precond)
	}
	submitted := codes.CloneCodes(w.st.selected)
	t := w.startLocked(OpVerify, guardVerify, sid)
	w.mu.Unlock()

	res, err := w.backend.VerifyCodes(ctx, sid, submitted)
	var out []codes.VerificationResult
	err = w.finish(t, err, func() string {
		w.st.verification = cloneResults(res.VerificationResults)
		out = cloneResults(res.VerificationResults)
		s := codes.Summarize(submitted, res.VerificationResults)
		return fmt.Sprintf("Verification complete: %d approved, %d warnings, %d rejected, %d unverified",
			s.Approved, s.Warning, s.Rejected, s.Unverified)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Export downloads the session's artifact into dir under the standard
// export filename and returns the written path. When an archiver is
// configured the file is also archived; if archiving fails the local file
// is kept and its path is returned along with the error.
func (w *Workspace) Export(ctx context.Context, format export.Format, dir string) (string, error) {
	sid, err := w.requireSession(OpExport)
	if err != nil {
		return "", err
	}

	t := w.start(OpExport, "", "")
	name := export.Filename(sid, format, w.clock())
	path, err := w.download(ctx, sid, format, dir, name)
	if err == nil && w.archiver != nil {
		if _, aerr := w.archiver.Archive(ctx, path, name); aerr != nil {
			err = fmt.Errorf("archiving %s: %w", name, aerr)
		}
	}
	err = w.finish(t, err, func() string {
		return fmt.Sprintf("Exported %s", name)
	})
	return path, err
}

// ExportStream opens the session's artifact for reading and returns the
// filename a download should be saved as. The export stays in flight until
// body is closed; a read error other than io.EOF is reported as its outcome.
func (w *Workspace) ExportStream(ctx context.Context, format export.Format) (string, io.ReadCloser, error) {
	sid, err := w.requireSession(OpExport)
	if err != nil {
		return "", nil, err
	}

	t := w.start(OpExport, "", "")
	name := export.Filename(sid, format, w.clock())
	art, err := w.backend.Export(ctx, sid, format, nil)
	if err != nil {
		return "", nil, w.finish(t, err, nil)
	}
	return name, &exportStream{w: w, t: t, name: name, rc: art}, nil
}

type exportStream struct {
	w    *Workspace
	t    ticket
	name string
	rc   io.ReadCloser

	err      error
	once     sync.Once
	closeErr error
}

func (s *exportStream) Read(p []byte) (int, error) {
	n, err := s.rc.Read(p)
	if err != nil && !errors.Is(err, io.EOF) && s.err == nil {
		s.err = err
	}
	return n, err
}

func (s *exportStream) Close() error {
	s.once.Do(func() {
		s.rc.Close()
		s.closeErr = s.w.finish(s.t, s.err, func() string {
			return fmt.Sprintf("Exported %s", s.name)
		})
	})
	return s.closeErr
}

// ExportTo streams the session's artifact into dst and returns the
// filename a download should be saved as.
func (w *Workspace) ExportTo(ctx context.Context, format export.Format, dst io.Writer) (string, int64, error) {
	name, body, err := w.ExportStream(ctx, format)
	if err != nil {
		return "", 0, err
	}
	s := body.(*exportStream)
	n, err := io.Copy(dst, s)
	if err != nil && s.err == nil {
		s.err = err
	}
	if err := s.Close(); err != nil {
		return "", n, err
	}
	return name, n, nil
}

func (w *Workspace) download(ctx context.Context, sid string, format export.Format, dir, name string) (string, error) {
	art, err := w.backend.Export(ctx, sid, format, nil)
	if err != nil {
		return "", err
	}
	defer art.Close()

	path, _, err := export.Save(ctx, art, dir, name)
	return path, err
}
