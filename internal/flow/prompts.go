package flow

import (
	"fmt"
	"strings"

	"github.com/patientpulse/patientpulse/internal/models"
)

// Static message texts for each workflow step. The closing message may be
// rephrased by GenAI at runtime; everything else is fixed so the conversation
// stays predictable.
const (
	greetingMsg = "Hello! Thank you for taking a moment to share feedback about your recent visit. Send any message to get started."

	askRatingMsg = "On a scale of 1 to 5, where 1 is very dissatisfied and 5 is very satisfied, how would you rate your overall experience?"

	retryRatingMsg = "Sorry, I didn't catch that. Please reply with a whole number between 1 and 5."

	commentsLowMsg     = "I'm sorry to hear your visit fell short. Could you tell me more about what went wrong?"
	commentsNeutralMsg = "Thank you. Could you tell me a bit more about your experience?"
	commentsHighMsg    = "That's great to hear! What stood out most about your visit?"

	commentsAckMsg = "Thank you for sharing that. Send any message to continue."

	criticalAckMsg = "Some of what you described may need urgent attention. It has been flagged for our care team to review right away."

	savePromptMsg = "When you're ready, send any message and I'll record your feedback."

	saveSuccessMsg = "Your feedback has been recorded. Thank you!"

	saveRetryMsg = "Something went wrong while saving your feedback. Please send any message to try again."

	followupOfferMsg = "Before we finish, is there anything else you'd like the care team to know?"

	closingMsg = "Thank you for helping us improve. Take care!"

	closingSystemPrompt = "You are a warm, concise assistant for a patient feedback service. Write one short closing sentence thanking the patient for their feedback. Do not ask any questions."

	commentsSystemPrompt = "You are a warm, concise assistant for a patient feedback service. Write one short open-ended question inviting the patient to describe their visit, matching the tone of their rating. Ask exactly one question."
)

// commentsPrompt picks the follow-up phrasing for the given rating.
func commentsPrompt(rating int) string {
	switch {
	case rating < models.NeutralRating:
		return commentsLowMsg
	case rating > models.NeutralRating:
		return commentsHighMsg
	default:
		return commentsNeutralMsg
	}
}

// categoryConfirmPrompt asks the patient to confirm or override the detected
// category.
func categoryConfirmPrompt(cat models.Category) string {
	names := make([]string, len(models.AllCategories))
	for i, c := range models.AllCategories {
		names[i] = string(c)
	}
	return fmt.Sprintf("It sounds like your feedback is mainly about %s. If that's not right, reply with one of: %s. Otherwise send any message to continue.",
		cat, strings.Join(names, ", "))
}

// trendsMessage formats the common-issues summary included after a save.
func trendsMessage(issues []models.CategoryCount) string {
	if len(issues) == 0 {
		return ""
	}
	parts := make([]string, len(issues))
	for i, c := range issues {
		parts[i] = fmt.Sprintf("%s (%d)", c.Category, c.Count)
	}
	return "Recent themes from other patients: " + strings.Join(parts, ", ") + "."
}

// GreetingMessage is the message sent when a session starts or restarts.
func GreetingMessage() models.OutboundMessage {
	return textMessage(greetingMsg)
}

func textMessage(content string) models.OutboundMessage {
	return models.OutboundMessage{Type: models.MessageTypeMessage, Content: content}
}
