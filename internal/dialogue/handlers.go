package dialogue

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/wuwenbin0122/mortgage-advisor/internal/eligibility"
	"github.com/wuwenbin0122/mortgage-advisor/internal/models"
)

// Interpreter turns free text into a short machine-readable answer following
// instruction. Its output is untrusted and every caller validates it.
type Interpreter interface {
	Interpret(ctx context.Context, text, instruction string) (string, error)
}

// Reply is what a step handler produces for one turn.
type Reply struct {
	Text       string
	Complete   bool
	Assessment *models.AssessmentResult
}

type handler func(ctx context.Context, conversationID, text string) (Reply, error)

// amountStep describes how one numeric field is collected.
type amountStep struct {
	field       models.Field
	instruction string
	retry       string
	accepted    string
	allowZero   bool
}

var (
	incomeStep = amountStep{
		field:       models.FieldAnnualIncome,
		instruction: incomeInstruction,
		retry:       incomeRetry,
		accepted:    incomeAccepted,
	}
	debtStep = amountStep{
		field:       models.FieldMonthlyDebt,
		instruction: debtInstruction,
		retry:       debtRetry,
		accepted:    debtAccepted,
		allowZero:   true,
	}
	propertyStep = amountStep{
		field:       models.FieldPropertyValue,
		instruction: propertyInstruction,
		retry:       propertyRetry,
		accepted:    propertyAccepted,
	}
	downPaymentStep = amountStep{
		field:       models.FieldDownPayment,
		instruction: downPaymentInstruction,
		retry:       downRetry,
		allowZero:   true,
	}
)

func (a amountStep) valid(value float64) bool {
	if a.allowZero {
		return value >= 0
	}
	return value > 0
}

func (s *Service) handlers() map[Step]handler {
	return map[Step]handler{
		StepGreeting:     s.handleGreeting,
		StepConfirmation: s.handleConfirmation,
		StepIncome:       s.amountHandler(incomeStep),
		StepDebt:         s.amountHandler(debtStep),
		StepCredit:       s.handleCredit,
		StepProperty:     s.amountHandler(propertyStep),
		StepDownPayment:  s.handleDownPayment,
	}
}

func (s *Service) handleGreeting(context.Context, string, string) (Reply, error) {
	return Reply{Text: greetingReply}, nil
}

func (s *Service) handleConfirmation(ctx context.Context, conversationID, text string) (Reply, error) {
	answer, err := s.interpreter.Interpret(ctx, text, confirmationInstruction)
	if err != nil {
		s.logger.Warn("interpret confirmation", zap.String("conversation_id", conversationID), zap.Error(err))
		return Reply{Text: unclearReply}, nil
	}

	switch classifyConsent(answer) {
	case consentProceed:
		return Reply{Text: proceedReply}, nil
	case consentDecline:
		return Reply{Text: declineReply, Complete: true}, nil
	default:
		return Reply{Text: unclearReply}, nil
	}
}

// extractAmount asks the interpreter for a number and validates it. The
// boolean is false whenever the applicant should be re-prompted.
func (s *Service) extractAmount(ctx context.Context, conversationID, text string, step amountStep) (float64, bool) {
	answer, err := s.interpreter.Interpret(ctx, text, step.instruction)
	if err != nil {
		s.logger.Warn("interpret amount",
			zap.String("conversation_id", conversationID),
			zap.String("field", string(step.field)),
			zap.Error(err),
		)
		return 0, false
	}

	value, ok := parseAmount(answer)
	if !ok || !step.valid(value) {
		s.logger.Debug("rejected amount",
			zap.String("conversation_id", conversationID),
			zap.String("field", string(step.field)),
			zap.String("answer", answer),
		)
		return 0, false
	}
	return value, true
}

func (s *Service) amountHandler(step amountStep) handler {
	return func(ctx context.Context, conversationID, text string) (Reply, error) {
		value, ok := s.extractAmount(ctx, conversationID, text, step)
		if !ok {
			return Reply{Text: step.retry}, nil
		}
		if err := s.store.SetField(ctx, conversationID, step.field, models.NumberValue(value)); err != nil {
			return Reply{}, fmt.Errorf("save %s: %w", step.field, err)
		}
		return Reply{Text: fmt.Sprintf(step.accepted, formatDollars(value))}, nil
	}
}

func (s *Service) handleCredit(ctx context.Context, conversationID, text string) (Reply, error) {
	answer, err := s.interpreter.Interpret(ctx, text, creditInstruction)
	if err != nil {
		s.logger.Warn("interpret credit tier", zap.String("conversation_id", conversationID), zap.Error(err))
		return Reply{Text: creditRetry}, nil
	}

	tier, ok := models.ParseCreditTier(answer)
	if !ok {
		return Reply{Text: creditRetry}, nil
	}
	if err := s.store.SetField(ctx, conversationID, models.FieldCreditTier, models.TierValue(tier)); err != nil {
		return Reply{}, fmt.Errorf("save %s: %w", models.FieldCreditTier, err)
	}
	return Reply{Text: fmt.Sprintf(creditAccepted, tier)}, nil
}

func (s *Service) handleDownPayment(ctx context.Context, conversationID, text string) (Reply, error) {
	value, ok := s.extractAmount(ctx, conversationID, text, downPaymentStep)
	if !ok {
		return Reply{Text: downPaymentStep.retry}, nil
	}
	if err := s.store.SetField(ctx, conversationID, models.FieldDownPayment, models.NumberValue(value)); err != nil {
		return Reply{}, fmt.Errorf("save %s: %w", models.FieldDownPayment, err)
	}

	fields, err := s.store.GetFieldSet(ctx, conversationID)
	if err != nil {
		return Reply{}, fmt.Errorf("reload fields: %w", err)
	}
	if !fields.Complete() {
		missing, _ := fields.FirstMissing()
		s.logger.Warn("fields incomplete after down payment",
			zap.String("conversation_id", conversationID),
			zap.String("missing", string(missing)),
		)
		return Reply{Text: missingInputsText}, nil
	}

	result, err := eligibility.Evaluate(fields)
	if errors.Is(err, eligibility.ErrIncompleteInputs) {
		return Reply{Text: missingInputsText}, nil
	}
	if err != nil {
		return Reply{}, fmt.Errorf("evaluate eligibility: %w", err)
	}
	return Reply{Text: assessmentReady, Complete: true, Assessment: result}, nil
}

func (s *Service) handleDone(context.Context, string, string) (Reply, error) {
	return Reply{Text: alreadyComplete, Complete: true}, nil
}
