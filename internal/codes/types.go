package codes

// CodeType is a medical code set.
type CodeType string

const (
	ICD10 CodeType = "ICD-10"
	CPT   CodeType = "CPT"
	HCPCS CodeType = "HCPCS"

	// All is only valid as a search filter.
	All CodeType = "all"
)

// Session is the server-assigned scope for one chart.
type Session struct {
	SessionID         string `json:"session_id"`
	CreatedAt         string `json:"created_at,omitempty"` // server timestamp, passed through verbatim
	DocumentProcessed bool   `json:"document_processed"`
}

// SessionData is the full server copy of a session.
type SessionData struct {
	Session
	PatientData         *PatientData         `json:"patient_data,omitempty"`
	SuggestedCodes      []MedicalCode        `json:"suggested_codes,omitempty"`
	SelectedCodes       []MedicalCode        `json:"selected_codes,omitempty"`
	VerificationResults []VerificationResult `json:"verification_results,omitempty"`
}

// VitalSigns as extracted from the document; every field is optional.
type VitalSigns struct {
	BloodPressure    string `json:"blood_pressure,omitempty"`
	HeartRate        string `json:"heart_rate,omitempty"`
	Temperature      string `json:"temperature,omitempty"`
	RespiratoryRate  string `json:"respiratory_rate,omitempty"`
	OxygenSaturation string `json:"oxygen_saturation,omitempty"`
	Weight           string `json:"weight,omitempty"`
	Height           string `json:"height,omitempty"`
	BMI              string `json:"bmi,omitempty"`
}

// PatientData is the denormalized bag of fields extracted from a document.
// It is replaced wholesale on re-ingestion, never merged.
type PatientData struct {
	Name                    string      `json:"name,omitempty"`
	PatientID               string      `json:"patient_id,omitempty"`
	DateOfBirth             string      `json:"dob,omitempty"`
	Gender                  string      `json:"gender,omitempty"`
	VisitDate               string      `json:"visit_date,omitempty"`
	VisitType               string      `json:"visit_type,omitempty"`
	Provider                string      `json:"provider,omitempty"`
	Facility                string      `json:"facility,omitempty"`
	VitalSigns              *VitalSigns `json:"vital_signs,omitempty"`
	ChiefComplaint          string      `json:"chief_complaint,omitempty"`
	HistoryOfPresentIllness string      `json:"history_of_present_illness,omitempty"`
	PastMedicalHistory      string      `json:"past_medical_history,omitempty"`
	Medications             string      `json:"medications,omitempty"`
	Allergies               string      `json:"allergies,omitempty"`
	Examination             string      `json:"examination,omitempty"`
	Assessment              string      `json:"assessment,omitempty"`
	Plan                    string      `json:"plan,omitempty"`
	RawText                 string      `json:"raw_text,omitempty"`
}

// Clone returns a deep copy.
func (p *PatientData) Clone() *PatientData {
	if p == nil {
		return nil
	}
	c := *p
	if p.VitalSigns != nil {
		vs := *p.VitalSigns
		c.VitalSigns = &vs
	}
	return &c
}

// MedicalCode is a single ICD-10, CPT or HCPCS code. Within one list a code
// is identified by its Code value.
type MedicalCode struct {
	Code        string   `json:"code" validate:"required"`
	Description string   `json:"description" validate:"required"`
	Type        CodeType `json:"type" validate:"required,oneof=ICD-10 CPT HCPCS"`
	Confidence  *float64 `json:"confidence,omitempty" validate:"omitempty,gte=0,lte=1"`
	Reasoning   string   `json:"reasoning,omitempty"`
	Source      string   `json:"source"`
	Notes       string   `json:"notes,omitempty"`
	TextChunk   string   `json:"text_chunk,omitempty"`
}

// ConfidenceOr returns the confidence, or def when the code has none.
func (c MedicalCode) ConfidenceOr(def float64) float64 {
	if c.Confidence == nil {
		return def
	}
	return *c.Confidence
}

// VerificationStatus is the server verdict for one code.
type VerificationStatus string

const (
	StatusApproved VerificationStatus = "approved"
	StatusWarning  VerificationStatus = "warning"
	StatusRejected VerificationStatus = "rejected"
)

// VerificationResult is produced only by the verification engine.
type VerificationResult struct {
	Code                   string             `json:"code"`
	Status                 VerificationStatus `json:"status"`
	FinalScore             float64            `json:"final_score"`
	VerificationConfidence float64            `json:"verification_confidence"`
	Concerns               []string           `json:"concerns,omitempty"`
	Recommendations        []string           `json:"recommendations,omitempty"`
}

// AnalysisOptions selects which code sets the analysis runs and the
// confidence threshold the server applies.
type AnalysisOptions struct {
	IncludeICD10        bool    `json:"include_icd10"`
	IncludeCPT          bool    `json:"include_cpt"`
	IncludeHCPCS        bool    `json:"include_hcpcs"`
	ConfidenceThreshold float64 `json:"confidence_threshold"`
}

func DefaultAnalysisOptions() AnalysisOptions {
	return AnalysisOptions{
		IncludeICD10:        true,
		IncludeCPT:          true,
		IncludeHCPCS:        false,
		ConfidenceThreshold: SuggestionThreshold,
	}
}

// KnowledgeBaseStats reports the size of the server code knowledge base.
type KnowledgeBaseStats struct {
	TotalCodes int            `json:"total_codes"`
	ByType     map[string]int `json:"by_type,omitempty"`
	LastUpdate string         `json:"last_updated,omitempty"`
}

// SystemStatus is the backend's self-description.
type SystemStatus struct {
	Status        string         `json:"status"`
	Version       string         `json:"version,omitempty"`
	Model         string         `json:"model,omitempty"`
	ModelLoaded   bool           `json:"model_loaded"`
	ActiveSession int            `json:"active_sessions,omitempty"`
	Details       map[string]any `json:"details,omitempty"`
}

// HealthStatus is the liveness probe body.
type HealthStatus struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp,omitempty"`
}
