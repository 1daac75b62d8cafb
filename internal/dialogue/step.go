package dialogue

import (
	"strings"

	"github.com/wuwenbin0122/mortgage-advisor/internal/models"
)

// Step is the position in the fixed data-collection sequence. It is never stored;
// Resolve derives it from the conversation's persisted history and fields.
type Step int

const (
	StepGreeting Step = iota + 1
	StepConfirmation
	StepIncome
	StepDebt
	StepCredit
	StepProperty
	StepDownPayment
	StepDone
)

var stepNames = map[Step]string{
	StepGreeting:     "greeting",
	StepConfirmation: "confirmation",
	StepIncome:       "income",
	StepDebt:         "debt",
	StepCredit:       "credit",
	StepProperty:     "property",
	StepDownPayment:  "down_payment",
	StepDone:         "done",
}

func (s Step) String() string {
	if name, ok := stepNames[s]; ok {
		return name
	}
	return "unknown"
}

var fieldSteps = map[models.Field]Step{
	models.FieldAnnualIncome:  StepIncome,
	models.FieldMonthlyDebt:   StepDebt,
	models.FieldCreditTier:    StepCredit,
	models.FieldPropertyValue: StepProperty,
	models.FieldDownPayment:   StepDownPayment,
}

// declinePhrases appear only in the reply sent when the applicant declines to start.
var declinePhrases = []string{"feel free to come back", "have a great day"}

// Snapshot is everything Resolve reads.
type Snapshot struct {
	Status   models.ConversationStatus
	Messages []models.Message
	Fields   models.FieldSet
}

// Resolve returns the step that applies to the most recent user message.
// The current message is expected to be in Messages already.
func Resolve(snap Snapshot) Step {
	if snap.Status == models.StatusCompleted {
		return StepDone
	}

	userMessages := models.CountRole(snap.Messages, models.RoleUser)
	switch {
	case userMessages <= 1:
		return StepGreeting
	case userMessages == 2:
		return StepConfirmation
	}

	last, hasLast := models.LastByRole(snap.Messages, models.RoleAssistant)
	if hasLast && isDecline(last.Content) {
		return StepDone
	}

	if snap.Fields.Empty() {
		// An unclear consent answer re-asks the question, so the next message
		// is still a yes or no.
		if hasLast && last.Content == unclearReply {
			return StepConfirmation
		}
		return StepIncome
	}

	missing, ok := snap.Fields.FirstMissing()
	if !ok {
		return StepDone
	}
	return fieldSteps[missing]
}

// FallbackStep estimates the step from the user message count alone. It is used
// when history or fields cannot be loaded; a wrong guess costs one extra re-prompt.
func FallbackStep(userMessages int) Step {
	switch {
	case userMessages < int(StepGreeting):
		return StepGreeting
	case userMessages > int(StepDownPayment):
		return StepDownPayment
	default:
		return Step(userMessages)
	}
}

func isDecline(content string) bool {
	lower := strings.ToLower(content)
	for _, phrase := range declinePhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}
