// Package analysis provides the lexicon-based classifiers used by the
// feedback workflow: polarity scoring, category matching, and critical-term
// scanning. All classifiers are pure functions over their input text and are
// deterministic for identical input.
package analysis

import (
	"math"
	"strings"

	"github.com/patientpulse/patientpulse/internal/models"
)

// Polarity thresholds: scores above the positive threshold are labeled
// positive, below the negative threshold negative, otherwise neutral.
const (
	positiveThreshold = 0.2
	negativeThreshold = -0.2
)

// ---- Lexicons ----

var positiveWords = map[string]bool{
	"amazing":       true,
	"attentive":     true,
	"caring":        true,
	"clean":         true,
	"comfortable":   true,
	"compassionate": true,
	"efficient":     true,
	"excellent":     true,
	"friendly":      true,
	"gentle":        true,
	"good":          true,
	"great":         true,
	"happy":         true,
	"helpful":       true,
	"kind":          true,
	"pleasant":      true,
	"professional":  true,
	"prompt":        true,
	"quick":         true,
	"reassuring":    true,
	"smooth":        true,
	"thank":         true,
	"thanks":        true,
	"thorough":      true,
	"wonderful":     true,
}

var negativeWords = map[string]bool{
	"angry":          true,
	"awful":          true,
	"bad":            true,
	"cold":           true,
	"confusing":      true,
	"difficult":      true,
	"dirty":          true,
	"disappointing":  true,
	"dismissive":     true,
	"horrible":       true,
	"ignored":        true,
	"neglected":      true,
	"painful":        true,
	"poor":           true,
	"rude":           true,
	"slow":           true,
	"terrible":       true,
	"unacceptable":   true,
	"uncomfortable":  true,
	"unhelpful":      true,
	"unprofessional": true,
	"upset":          true,
	"waited":         true,
	"waiting":        true,
	"worst":          true,
}

// PolarityClassifier scores the sentiment of free text. Stateless.
type PolarityClassifier struct{}

// NewPolarityClassifier creates a lexicon-backed polarity classifier.
func NewPolarityClassifier() *PolarityClassifier {
	return &PolarityClassifier{}
}

// Classify returns a sentiment label and a polarity score in [-1.0, 1.0].
// Text with no lexicon hits scores 0.0 and is labeled neutral. The lexicon
// implementation never fails; the error return is part of the classifier
// contract for remote implementations.
func (c *PolarityClassifier) Classify(text string) (models.Sentiment, error) {
	var pos, neg int
	for _, word := range tokenize(text) {
		if positiveWords[word] {
			pos++
		}
		if negativeWords[word] {
			neg++
		}
	}

	total := pos + neg
	if total == 0 {
		return models.NeutralSentiment(), nil
	}

	score := clampScore(float64(pos-neg) / float64(total))
	label := models.SentimentNeutral
	switch {
	case score > positiveThreshold:
		label = models.SentimentPositive
	case score < negativeThreshold:
		label = models.SentimentNegative
	}
	return models.Sentiment{Label: label, Score: score}, nil
}

// ---- helpers ----

// tokenize lowercases the text and splits it into alphabetic word runs.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9') && r != '\''
	})
}

func clampScore(v float64) float64 {
	if v < -1 {
		return -1
	}
	if v > 1 {
		return 1
	}
	// Round to 4 decimal places to avoid floating point drift.
	return math.Round(v*10000) / 10000
}
