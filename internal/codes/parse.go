package codes

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

const (
	// DefaultSelectConfidence is sent when a selected code carries no confidence.
	DefaultSelectConfidence = 0.5

	// DefaultManualConfidence reflects human authorship of a hand-entered code.
	DefaultManualConfidence = 0.9

	SourceManual = "manual"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// ParseError reports why a code was rejected.
type ParseError struct {
	Code   string
	Fields []string
	Reason string
}

func (e *ParseError) Error() string {
	if len(e.Fields) > 0 {
		return fmt.Sprintf("invalid medical code %q: %s (%s)", e.Code, e.Reason, strings.Join(e.Fields, ", "))
	}
	return fmt.Sprintf("invalid medical code %q: %s", e.Code, e.Reason)
}

// ParseCodeType accepts the code set names case-insensitively, plus the
// common spellings "ICD10" and "icd-10".
func ParseCodeType(s string) (CodeType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ICD-10", "ICD10":
		return ICD10, nil
	case "CPT":
		return CPT, nil
	case "HCPCS":
		return HCPCS, nil
	}
	return "", fmt.Errorf("unknown code type %q (want ICD-10, CPT or HCPCS)", s)
}

// ParseFilterType is ParseCodeType that also accepts "all" and "".
func ParseFilterType(s string) (CodeType, error) {
	if t := strings.TrimSpace(s); t == "" || strings.EqualFold(t, string(All)) {
		return All, nil
	}
	return ParseCodeType(s)
}

// Validate checks the fields the server requires.
func (c MedicalCode) Validate() error {
	err := getValidator().Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &ParseError{Code: c.Code, Reason: err.Error()}
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s:%s", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return &ParseError{Code: c.Code, Fields: fields, Reason: "failed validation"}
}

// Normalize trims whitespace, resolves type spellings and fills the
// confidence and source defaults. The result has passed Validate.
func Normalize(c MedicalCode) (MedicalCode, error) {
	c.Code = strings.TrimSpace(c.Code)
	c.Description = strings.TrimSpace(c.Description)
	if c.Type != "" {
		t, err := ParseCodeType(string(c.Type))
		if err != nil {
			return MedicalCode{}, &ParseError{Code: c.Code, Fields: []string{"type:oneof"}, Reason: err.Error()}
		}
		c.Type = t
	}
	if c.Confidence == nil {
		conf := DefaultSelectConfidence
		c.Confidence = &conf
	}
	if c.Source == "" {
		c.Source = string(c.Type)
	}
	if err := c.Validate(); err != nil {
		return MedicalCode{}, err
	}
	return c, nil
}

// ParseCode builds a validated code from loose input. A nil confidence
// becomes DefaultSelectConfidence and an empty source becomes the type.
func ParseCode(code, description, codeType string, confidence *float64, source string) (MedicalCode, error) {
	return Normalize(MedicalCode{
		Code:        code,
		Description: description,
		Type:        CodeType(codeType),
		Confidence:  confidence,
		Source:      source,
	})
}

// ManualCode builds a hand-entered code. Zero confidence means the manual default.
func ManualCode(code, description, codeType string, confidence float64) (MedicalCode, error) {
	if confidence == 0 {
		confidence = DefaultManualConfidence
	}
	return ParseCode(code, description, codeType, &confidence, SourceManual)
}

// Float returns a pointer to f.
func Float(f float64) *float64 {
	return &f
}
