package analysis

import (
	"sort"
	"strings"
	"time"

	"github.com/patientpulse/patientpulse/internal/models"
)

// ReviewConcernLabel is the conservative flag recorded when the scanner
// itself fails: the text is routed to a human rather than treated as safe.
const ReviewConcernLabel = "Manual review required"

// criticalTerms is the curated lexicon of safety-critical phrases. Matching
// is case-insensitive substring matching; every hit produces a flag.
var criticalTerms = map[string]string{
	"emergency":         "Emergency response concerns",
	"died":              "Potential mortality incident",
	"death":             "Potential mortality incident",
	"mistake":           "Potential medical error",
	"wrong medication":  "Medication error",
	"wrong medicine":    "Medication error",
	"allergic reaction": "Adverse reaction",
	"fall":              "Patient safety incident",
	"fell":              "Patient safety incident",
	"infection":         "Infection control issue",
	"contamination":     "Infection control issue",
	"unsanitary":        "Infection control issue",
	"neglect":           "Patient neglect concern",
	"lawsuit":           "Legal concern raised",
	"legal":             "Legal concern raised",
	"blood":             "Blood urgency or shortage",
	"urgent":            "Immediate action required",
	"unresponsive":      "Unresponsive patient care",
	"bleeding":          "Unmanaged bleeding reported",
	"overdose":          "Medication overdose incident",
	"unattended":        "Patient left unattended",
	"contagious":        "Contagious condition not isolated",
	"fracture":          "Injury due to negligence",
	"icu delay":         "Delay moving critical patient to ICU",
	"misdiagnosed":      "Potential misdiagnosis incident",
	"collapsed":         "Physical collapse or deterioration",
	"oxygen problem":    "Oxygen supply issue",
}

// CriticalTermScanner detects safety-critical phrases in free text.
// Stateless; returns an empty slice, never nil semantics that callers must
// guard against.
type CriticalTermScanner struct{}

// NewCriticalTermScanner creates a scanner over the curated lexicon.
func NewCriticalTermScanner() *CriticalTermScanner {
	return &CriticalTermScanner{}
}

// Scan returns every matched (term, concern) pair found in the text. The
// same concern may appear more than once when multiple terms map to it;
// findings are always appended, never de-duplicated.
func (s *CriticalTermScanner) Scan(text string) ([]models.CriticalFlag, error) {
	flags := []models.CriticalFlag{}
	if text == "" {
		return flags, nil
	}

	lower := strings.ToLower(text)
	now := time.Now()
	// Iterate terms in a stable order for deterministic output.
	for _, term := range sortedTerms() {
		if strings.Contains(lower, term) {
			flags = append(flags, models.CriticalFlag{
				MatchedTerm:  term,
				ConcernLabel: criticalTerms[term],
				DetectedAt:   now,
			})
		}
	}
	return flags, nil
}

// LexiconSize returns the number of curated critical terms.
func LexiconSize() int {
	return len(criticalTerms)
}

// ReviewFlag builds the conservative fail-open flag used when scanning
// errors out.
func ReviewFlag() models.CriticalFlag {
	return models.CriticalFlag{
		MatchedTerm:  "",
		ConcernLabel: ReviewConcernLabel,
		DetectedAt:   time.Now(),
	}
}

var sortedTermList = func() []string {
	terms := make([]string, 0, len(criticalTerms))
	for t := range criticalTerms {
		terms = append(terms, t)
	}
	sort.Strings(terms)
	return terms
}()

func sortedTerms() []string {
	return sortedTermList
}
