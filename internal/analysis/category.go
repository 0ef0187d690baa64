package analysis

import (
	"strings"

	"github.com/patientpulse/patientpulse/internal/models"
)

// categoryKeywords maps each fixed category to the keywords that vote for
// it. A comment is assigned the category with the highest keyword count;
// ties and zero matches resolve to Other.
var categoryKeywords = map[models.Category][]string{
	models.CategoryBilling: {
		"bill", "invoice", "payment", "charge", "cost", "expensive",
		"insurance", "price", "refund",
	},
	models.CategoryStaff: {
		"nurse", "doctor", "receptionist", "staff", "rude", "friendly",
		"helpful", "attitude", "behavior",
	},
	models.CategoryWaitTime: {
		"wait", "delay", "hours", "slow", "queue", "appointment",
		"schedule", "late",
	},
	models.CategoryCleanliness: {
		"clean", "dirty", "bathroom", "room", "parking", "facility",
		"equipment", "noise", "hygiene",
	},
	models.CategoryTreatment: {
		"medicine", "procedure", "treatment", "diagnosis", "prescription",
		"care", "pain", "surgery",
	},
	models.CategoryCommunication: {
		"explain", "told", "information", "informed", "understand",
		"clarity", "confused",
	},
}

// CategoryClassifier assigns one of the fixed feedback categories to free
// text. Stateless; always returns a value, defaulting to Other.
type CategoryClassifier struct{}

// NewCategoryClassifier creates a keyword-count category classifier.
func NewCategoryClassifier() *CategoryClassifier {
	return &CategoryClassifier{}
}

// Classify returns the best-matching category for the text. Matching is
// case-insensitive substring matching, one keyword vote per entry.
func (c *CategoryClassifier) Classify(text string) (models.Category, error) {
	if strings.TrimSpace(text) == "" {
		return models.CategoryOther, nil
	}

	lower := strings.ToLower(text)
	best := models.CategoryOther
	bestCount := 0
	// Iterate the fixed order so ties resolve deterministically.
	for _, cat := range models.AllCategories {
		keywords, ok := categoryKeywords[cat]
		if !ok {
			continue
		}
		count := 0
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				count++
			}
		}
		if count > bestCount {
			best = cat
			bestCount = count
		}
	}
	return best, nil
}

// MatchOverride resolves a patient's confirmation utterance to a category
// when it names one of the fixed set; ok is false otherwise. "wait" and
// "wait time" both resolve to the Wait Time category.
func MatchOverride(utterance string) (models.Category, bool) {
	normalized := strings.ToLower(strings.TrimSpace(utterance))
	if normalized == "wait" {
		return models.CategoryWaitTime, true
	}
	for _, cat := range models.AllCategories {
		if normalized == strings.ToLower(string(cat)) {
			return cat, true
		}
	}
	return "", false
}
