package codes

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCode_Defaults(t *testing.T) {
	c, err := ParseCode(" E11.9 ", "Type 2 diabetes mellitus without complications", "icd10", nil, "")
	require.NoError(t, err)

	assert.Equal(t, "E11.9", c.Code)
	assert.Equal(t, ICD10, c.Type)
	require.NotNil(t, c.Confidence)
	assert.Equal(t, DefaultSelectConfidence, *c.Confidence)
	assert.Equal(t, "ICD-10", c.Source)
}

func TestParseCode_KeepsExplicitValues(t *testing.T) {
	c, err := ParseCode("99213", "Office visit, established patient", "CPT", Float(0.93), "ai")
	require.NoError(t, err)

	assert.Equal(t, 0.93, *c.Confidence)
	assert.Equal(t, "ai", c.Source)
}

func TestParseCode_Rejects(t *testing.T) {
	tests := []struct {
		name        string
		code        string
		description string
		codeType    string
		confidence  *float64
	}{
		{name: "missing code", code: "", description: "desc", codeType: "CPT"},
		{name: "blank code", code: "   ", description: "desc", codeType: "CPT"},
		{name: "missing description", code: "99213", description: "", codeType: "CPT"},
		{name: "missing type", code: "99213", description: "desc", codeType: ""},
		{name: "unknown type", code: "99213", description: "desc", codeType: "SNOMED"},
		{name: "confidence above 1", code: "99213", description: "desc", codeType: "CPT", confidence: Float(1.2)},
		{name: "negative confidence", code: "99213", description: "desc", codeType: "CPT", confidence: Float(-0.1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCode(tt.code, tt.description, tt.codeType, tt.confidence, "")
			require.Error(t, err)
			var perr *ParseError
			assert.True(t, errors.As(err, &perr), "expected *ParseError, got %T", err)
		})
	}
}

func TestManualCode(t *testing.T) {
	c, err := ManualCode("J0129", "Abatacept injection", "HCPCS", 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultManualConfidence, *c.Confidence)
	assert.Equal(t, SourceManual, c.Source)

	c, err = ManualCode("J0129", "Abatacept injection", "HCPCS", 0.7)
	require.NoError(t, err)
	assert.Equal(t, 0.7, *c.Confidence)

	_, err = ManualCode("J0129", "Abatacept injection", "HCPCS", -0.5)
	var perr *ParseError
	assert.ErrorAs(t, err, &perr)
}

func TestParseFilterType(t *testing.T) {
	for in, want := range map[string]CodeType{"": All, "ALL": All, "all": All, "cpt": CPT, "ICD-10": ICD10, "hcpcs": HCPCS} {
		got, err := ParseFilterType(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseFilterType("loinc")
	assert.Error(t, err)
}

func sampleSuggestions() []MedicalCode {
	return []MedicalCode{
		{Code: "E11.9", Description: "Type 2 diabetes", Type: ICD10, Confidence: Float(0.95), Source: "ai"},
		{Code: "I10", Description: "Essential hypertension", Type: ICD10, Confidence: Float(0.79), Source: "ai"},
		{Code: "99213", Description: "Office visit", Type: CPT, Confidence: Float(0.8), Source: "ai"},
		{Code: "Z79.4", Description: "Long term insulin use", Type: ICD10, Source: "ai"},
		{Code: "36415", Description: "Venipuncture", Type: CPT, Confidence: Float(0.81), Source: "ai"},
	}
}

func TestFilterByConfidence_OrderAndBoundary(t *testing.T) {
	got := FilterByConfidence(sampleSuggestions(), SuggestionThreshold)

	var codes []string
	for _, c := range got {
		codes = append(codes, c.Code)
	}
	assert.Equal(t, []string{"E11.9", "99213", "36415"}, codes)
}

func TestFilterByConfidence_Pure(t *testing.T) {
	in := sampleSuggestions()
	before := CloneCodes(in)

	first := FilterByConfidence(in, SuggestionThreshold)
	second := FilterByConfidence(in, SuggestionThreshold)

	assert.Equal(t, first, second)
	assert.Equal(t, before, in, "input must not be modified")
}

func TestRemoveAndDedupe(t *testing.T) {
	in := sampleSuggestions()
	out := RemoveCode(in, "I10")
	assert.Len(t, out, 4)
	assert.False(t, ContainsCode(out, "I10"))
	assert.Len(t, in, 5)

	unchanged := RemoveCode(in, "nope")
	assert.Equal(t, in, unchanged)

	dup := append(CloneCodes(in), in[0])
	assert.Len(t, Dedupe(dup), 5)
}

func TestCloneCodes_DeepCopiesConfidence(t *testing.T) {
	in := sampleSuggestions()
	out := CloneCodes(in)
	*out[0].Confidence = 0.1
	assert.Equal(t, 0.95, *in[0].Confidence)
}

func TestSummarize_MissingResultIsUnverified(t *testing.T) {
	submitted := sampleSuggestions()[:3]
	results := []VerificationResult{
		{Code: "E11.9", Status: StatusApproved, FinalScore: 0.9},
		{Code: "99213", Status: StatusRejected, FinalScore: 0.2},
	}

	s := Summarize(submitted, results)
	assert.Equal(t, VerificationSummary{Approved: 1, Rejected: 1, Unverified: 1}, s)

	idx := IndexVerification(results)
	_, ok := idx["I10"]
	assert.False(t, ok)
}

func TestPatientDataClone(t *testing.T) {
	p := &PatientData{Name: "Jane", VitalSigns: &VitalSigns{HeartRate: "72"}}
	c := p.Clone()
	c.VitalSigns.HeartRate = "90"
	assert.Equal(t, "72", p.VitalSigns.HeartRate)

	var nilData *PatientData
	assert.Nil(t, nilData.Clone())
}
