package codes

// SuggestionThreshold is the confidence a suggestion needs to be shown.
const SuggestionThreshold = 0.8

// FilterByConfidence keeps codes whose confidence is at least threshold,
// preserving order. Codes without a confidence are dropped. The input is
// not modified.
func FilterByConfidence(list []MedicalCode, threshold float64) []MedicalCode {
	out := make([]MedicalCode, 0, len(list))
	for _, c := range list {
		if c.Confidence != nil && *c.Confidence >= threshold {
			out = append(out, c)
		}
	}
	return out
}

// ContainsCode reports whether list holds an entry with the given code value.
func ContainsCode(list []MedicalCode, code string) bool {
	return IndexOf(list, code) >= 0
}

// IndexOf returns the position of code in list, or -1.
func IndexOf(list []MedicalCode, code string) int {
	for i, c := range list {
		if c.Code == code {
			return i
		}
	}
	return -1
}

// RemoveCode returns list without entries whose code value matches. The
// input slice is not modified.
func RemoveCode(list []MedicalCode, code string) []MedicalCode {
	out := make([]MedicalCode, 0, len(list))
	for _, c := range list {
		if c.Code != code {
			out = append(out, c)
		}
	}
	return out
}

// Dedupe keeps the first entry for each code value.
func Dedupe(list []MedicalCode) []MedicalCode {
	seen := make(map[string]struct{}, len(list))
	out := make([]MedicalCode, 0, len(list))
	for _, c := range list {
		if _, ok := seen[c.Code]; ok {
			continue
		}
		seen[c.Code] = struct{}{}
		out = append(out, c)
	}
	return out
}

// CloneCodes copies a code slice, including confidence pointers.
func CloneCodes(list []MedicalCode) []MedicalCode {
	if list == nil {
		return nil
	}
	out := make([]MedicalCode, len(list))
	for i, c := range list {
		if c.Confidence != nil {
			c.Confidence = Float(*c.Confidence)
		}
		out[i] = c
	}
	return out
}

// IndexVerification keys results by code. The server may omit codes it
// could not evaluate; callers must treat a missing key as "no verdict".
func IndexVerification(results []VerificationResult) map[string]VerificationResult {
	m := make(map[string]VerificationResult, len(results))
	for _, r := range results {
		m[r.Code] = r
	}
	return m
}

// VerificationSummary counts verdicts per status.
type VerificationSummary struct {
	Approved   int `json:"approved"`
	Warning    int `json:"warning"`
	Rejected   int `json:"rejected"`
	Unverified int `json:"unverified"`
}

// Summarize counts verdicts for the submitted codes. Submitted codes with no
// result are counted as unverified.
func Summarize(submitted []MedicalCode, results []VerificationResult) VerificationSummary {
	idx := IndexVerification(results)
	var s VerificationSummary
	for _, c := range submitted {
		r, ok := idx[c.Code]
		if !ok {
			s.Unverified++
			continue
		}
		switch r.Status {
		case StatusApproved:
			s.Approved++
		case StatusWarning:
			s.Warning++
		case StatusRejected:
			s.Rejected++
		default:
			s.Unverified++
		}
	}
	return s
}
