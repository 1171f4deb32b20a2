package workflow

import (
	"maps"

	"github.com/gyeh/chartcoder/internal/codes"
)

// Op names a class of workspace command. Loading flags and last errors are
// tracked per class.
type Op string

const (
	OpSession Op = "session"
	OpUpload  Op = "upload"
	OpProcess Op = "process"
	OpAnalyze Op = "analyze"
	OpSearch  Op = "search"
	OpSelect  Op = "select"
	OpVerify  Op = "verify"
	OpExport  Op = "export"
)

// Loading mirrors which command classes have a call in flight.
type Loading struct {
	Session    bool `json:"session"`
	Uploading  bool `json:"uploading"`
	Processing bool `json:"processing"`
	Analyzing  bool `json:"analyzing"`
	Searching  bool `json:"searching"`
	Selecting  bool `json:"selecting"`
	Verifying  bool `json:"verifying"`
	Exporting  bool `json:"exporting"`
}

// Any reports whether anything is in flight.
func (l Loading) Any() bool {
	return l.Session || l.Uploading || l.Processing || l.Analyzing ||
		l.Searching || l.Selecting || l.Verifying || l.Exporting
}

func loadingFrom(inflight map[Op]int) Loading {
	return Loading{
		Session:    inflight[OpSession] > 0,
		Uploading:  inflight[OpUpload] > 0,
		Processing: inflight[OpProcess] > 0,
		Analyzing:  inflight[OpAnalyze] > 0,
		Searching:  inflight[OpSearch] > 0,
		Selecting:  inflight[OpSelect] > 0,
		Verifying:  inflight[OpVerify] > 0,
		Exporting:  inflight[OpExport] > 0,
	}
}

// Snapshot is a deep copy of the workspace state. Mutating it does not
// affect the workspace.
type Snapshot struct {
	Session             *codes.Session             `json:"session"`
	PatientData         *codes.PatientData         `json:"patient_data"`
	SuggestedCodes      []codes.MedicalCode        `json:"suggested_codes"`
	AnalysisResults     map[string]any             `json:"analysis_results,omitempty"`
	TotalCodes          int                        `json:"total_codes"`
	SearchQuery         string                     `json:"search_query"`
	SearchType          codes.CodeType             `json:"search_type"`
	SearchResults       []codes.MedicalCode        `json:"search_results"`
	SelectedCodes       []codes.MedicalCode        `json:"selected_codes"`
	VerificationResults []codes.VerificationResult `json:"verification_results"`
	Loading             Loading                    `json:"loading"`
	Errors              map[Op]string              `json:"errors,omitempty"`
}

// SessionID returns the current session id, or "".
func (s Snapshot) SessionID() string {
	if s.Session == nil {
		return ""
	}
	return s.Session.SessionID
}

// FilteredSuggestions is the display view of the suggestions.
func (s Snapshot) FilteredSuggestions() []codes.MedicalCode {
	return codes.FilterByConfidence(s.SuggestedCodes, codes.SuggestionThreshold)
}

// Verdict looks up the verification result for code. A code the verifier
// did not return has no verdict.
func (s Snapshot) Verdict(code string) (codes.VerificationResult, bool) {
	for _, r := range s.VerificationResults {
		if r.Code == code {
			return r, true
		}
	}
	return codes.VerificationResult{}, false
}

// Summary counts verdicts across the current selection.
func (s Snapshot) Summary() codes.VerificationSummary {
	return codes.Summarize(s.SelectedCodes, s.VerificationResults)
}

// state is the mutable bag behind a Workspace. Callers hold Workspace.mu.
type state struct {
	session         *codes.Session
	patient         *codes.PatientData
	suggested       []codes.MedicalCode
	analysisResults map[string]any
	totalCodes      int
	searchQuery     string
	searchType      codes.CodeType
	searchResults   []codes.MedicalCode
	selected        []codes.MedicalCode
	verification    []codes.VerificationResult
}

func (st *state) sessionID() string {
	if st.session == nil {
		return ""
	}
	return st.session.SessionID
}

// adopt makes s the current session. Switching to a different id drops
// everything scoped to the old session; search results are kept.
func (st *state) adopt(s codes.Session) {
	if st.session != nil && st.session.SessionID == s.SessionID {
		if s.CreatedAt == "" {
			s.CreatedAt = st.session.CreatedAt
		}
		s.DocumentProcessed = s.DocumentProcessed || st.session.DocumentProcessed
		st.session = &s
		return
	}
	st.session = &s
	st.patient = nil
	st.suggested = nil
	st.analysisResults = nil
	st.totalCodes = 0
	st.selected = nil
	st.verification = nil
}

func (st *state) snapshot(inflight map[Op]int, errs map[Op]string) Snapshot {
	snap := Snapshot{
		PatientData:         st.patient.Clone(),
		SuggestedCodes:      cloneOrEmpty(st.suggested),
		AnalysisResults:     maps.Clone(st.analysisResults),
		TotalCodes:          st.totalCodes,
		SearchQuery:         st.searchQuery,
		SearchType:          st.searchType,
		SearchResults:       cloneOrEmpty(st.searchResults),
		SelectedCodes:       cloneOrEmpty(st.selected),
		VerificationResults: cloneResults(st.verification),
		Loading:             loadingFrom(inflight),
	}
	if st.session != nil {
		s := *st.session
		snap.Session = &s
	}
	if len(errs) > 0 {
		snap.Errors = maps.Clone(errs)
	}
	return snap
}

func cloneOrEmpty(list []codes.MedicalCode) []codes.MedicalCode {
	if list == nil {
		return []codes.MedicalCode{}
	}
	return codes.CloneCodes(list)
}

func cloneResults(list []codes.VerificationResult) []codes.VerificationResult {
	out := make([]codes.VerificationResult, len(list))
	for i, r := range list {
		r.Concerns = append([]string(nil), r.Concerns...)
		r.Recommendations = append([]string(nil), r.Recommendations...)
		out[i] = r
	}
	return out
}
