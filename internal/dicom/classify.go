package dicom

import "strings"

// classifyRule pairs a predicate over the uppercased series description
// with the label it yields. Rules are evaluated in slice order and the
// first match wins: clinician-authored descriptions can legitimately
// match several patterns, so priority must be explicit.
type classifyRule struct {
	match func(string) bool
	label string
}

var planeRules = []classifyRule{
	{anyOf(token("AX"), contains("AXIAL")), "Axial"},
	{anyOf(token("COR"), contains("CORONAL")), "Coronal"},
	{anyOf(token("SAG"), contains("SAGITTAL")), "Sagittal"},
}

var weightingRules = []classifyRule{
	{token("T1"), "T1"},
	{token("T2"), "T2"},
}

var sequenceRules = []classifyRule{
	{contains("FLAIR"), "FLAIR"},
	{contains("SSFSE"), "SSFSE"},
	{contains("SWI"), "SWI"},
	{contains("SWAN"), "SWAN"},
	{contains("DWI"), "DWI"},
	{contains("DTI"), "DTI"},
	{contains("ASL"), "ASL"},
	{contains("ADC"), "ADC"},
	{contains("GRE"), "GRE"},
	// SE is a substring of most other sequence names, so it sits near
	// the end of the priority list.
	{contains("SE"), "SE"},
	{contains("LOC"), "Localizer"},
	{contains("LOCALIZER"), "Localizer"},
}

// ParsePlane extracts the imaging plane from a series description, or
// nil when no plane token is present.
func ParsePlane(description string) *string {
	return evalRules(planeRules, description)
}

// ParseWeighting extracts the T1/T2 weighting from a series
// description. T1 is checked before T2.
func ParseWeighting(description string) *string {
	return evalRules(weightingRules, description)
}

// ParseSequenceType extracts the pulse sequence family from a series
// description.
func ParseSequenceType(description string) *string {
	return evalRules(sequenceRules, description)
}

func evalRules(rules []classifyRule, description string) *string {
	if description == "" {
		return nil
	}
	upper := strings.ToUpper(description)
	for _, r := range rules {
		if r.match(upper) {
			label := r.label
			return &label
		}
	}
	return nil
}

func contains(pattern string) func(string) bool {
	return func(s string) bool { return strings.Contains(s, pattern) }
}

func anyOf(predicates ...func(string) bool) func(string) bool {
	return func(s string) bool {
		for _, p := range predicates {
			if p(s) {
				return true
			}
		}
		return false
	}
}

// token matches pattern only when delimited by a space, an underscore,
// or the start/end of the string, so T1 does not match inside T10 and
// AX does not match inside FLEX.
func token(pattern string) func(string) bool {
	return func(s string) bool {
		for from := 0; ; {
			i := strings.Index(s[from:], pattern)
			if i < 0 {
				return false
			}
			start := from + i
			end := start + len(pattern)
			if isTokenBoundary(s, start-1) && isTokenBoundary(s, end) {
				return true
			}
			from = start + 1
		}
	}
}

func isTokenBoundary(s string, i int) bool {
	if i < 0 || i >= len(s) {
		return true
	}
	return s[i] == ' ' || s[i] == '_'
}
