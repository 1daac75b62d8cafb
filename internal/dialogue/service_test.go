package dialogue

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/wuwenbin0122/mortgage-advisor/internal/models"
	"github.com/wuwenbin0122/mortgage-advisor/internal/store"
)

// echoInterpreter answers amount and tier questions with the user's own text,
// which is what a well-behaved model does for already-clean input.
type echoInterpreter struct {
	mu    sync.Mutex
	calls int
}

func (e *echoInterpreter) Interpret(_ context.Context, text, instruction string) (string, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()

	if text == "boom" {
		return "", errors.New("upstream unavailable")
	}
	if instruction == confirmationInstruction {
		switch strings.ToLower(text) {
		case "yes":
			return "PROCEED", nil
		case "no":
			return "DECLINE", nil
		default:
			return "UNCLEAR", nil
		}
	}
	if text == "not sure" {
		return invalidSentinel, nil
	}
	return text, nil
}

type recordingArchiver struct {
	mu      sync.Mutex
	results map[string]*models.AssessmentResult
}

func (r *recordingArchiver) ArchiveAssessment(_ context.Context, id string, result *models.AssessmentResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.results == nil {
		r.results = make(map[string]*models.AssessmentResult)
	}
	r.results[id] = result
	return nil
}

// flakyStore fails SetField while failWrites is set and GetFieldSet while
// failFieldReads is set. fieldsHook rewrites what GetFieldSet returns.
type flakyStore struct {
	*store.MemoryStore
	failWrites     bool
	failFieldReads bool
	fieldsHook     func(models.FieldSet) models.FieldSet
}

func (f *flakyStore) GetFieldSet(ctx context.Context, id string) (models.FieldSet, error) {
	if f.failFieldReads {
		return models.FieldSet{}, errors.New("connection reset")
	}
	fields, err := f.MemoryStore.GetFieldSet(ctx, id)
	if err != nil || f.fieldsHook == nil {
		return fields, err
	}
	return f.fieldsHook(fields), nil
}

func (f *flakyStore) SetField(ctx context.Context, id string, field models.Field, value models.FieldValue) error {
	if f.failWrites {
		return errors.New("disk full")
	}
	return f.MemoryStore.SetField(ctx, id, field, value)
}

func newTestService() (*Service, *store.MemoryStore, *recordingArchiver) {
	st := store.NewMemory()
	archiver := &recordingArchiver{}
	return NewService(st, &echoInterpreter{}, nil, archiver, nil), st, archiver
}

func send(t *testing.T, svc *Service, id, text string) *Turn {
	t.Helper()
	turn, err := svc.ProcessMessage(context.Background(), text, id, "")
	if err != nil {
		t.Fatalf("process %q: %v", text, err)
	}
	return turn
}

func TestProcessMessageFullAssessment(t *testing.T) {
	svc, st, archiver := newTestService()

	turn := send(t, svc, "", "hi")
	if turn.Response != greetingReply || turn.Step != StepGreeting {
		t.Fatalf("unexpected greeting turn: %+v", turn)
	}
	id := turn.ConversationID
	if id == "" {
		t.Fatal("expected a conversation id")
	}

	turn = send(t, svc, id, "yes")
	if turn.Response != proceedReply {
		t.Fatalf("unexpected confirmation reply: %q", turn.Response)
	}

	turn = send(t, svc, id, "60000")
	if !strings.Contains(turn.Response, "$60,000") {
		t.Fatalf("expected formatted income, got %q", turn.Response)
	}
	turn = send(t, svc, id, "1750")
	if !strings.Contains(turn.Response, "$1,750") {
		t.Fatalf("expected formatted debt, got %q", turn.Response)
	}
	turn = send(t, svc, id, "fair")
	if !strings.Contains(turn.Response, "Fair") {
		t.Fatalf("expected tier echo, got %q", turn.Response)
	}
	send(t, svc, id, "300,000")

	turn = send(t, svc, id, "45000")
	if !turn.Complete || turn.Assessment == nil {
		t.Fatalf("expected completed assessment, got %+v", turn)
	}
	if turn.Response != assessmentReady {
		t.Fatalf("unexpected final reply %q", turn.Response)
	}
	if turn.Assessment.Assessment.Outcome != models.OutcomePreQualified {
		t.Fatalf("expected pre-qualified, got %s", turn.Assessment.Assessment.Outcome)
	}

	conv, err := st.GetConversation(context.Background(), id)
	if err != nil {
		t.Fatalf("get conversation: %v", err)
	}
	if !conv.Completed() {
		t.Fatal("expected conversation to be completed")
	}
	if archiver.results[id] == nil {
		t.Fatal("expected assessment to be archived")
	}

	history, err := st.ListMessages(context.Background(), id)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(history) != 14 {
		t.Fatalf("expected 14 messages, got %d", len(history))
	}

	turn = send(t, svc, id, "what now?")
	if turn.Response != alreadyComplete || !turn.Complete || turn.Assessment != nil {
		t.Fatalf("unexpected post-completion turn: %+v", turn)
	}
}

func TestProcessMessageRepromptsInvalidInput(t *testing.T) {
	svc, st, _ := newTestService()
	id := send(t, svc, "", "hello").ConversationID
	send(t, svc, id, "yes")

	cases := []struct {
		text string
		want string
	}{
		{"not sure", incomeRetry},
		{"-5000", incomeRetry},
		{"0", incomeRetry},
		{"boom", incomeRetry},
	}
	for _, tc := range cases {
		turn := send(t, svc, id, tc.text)
		if turn.Response != tc.want || turn.Complete {
			t.Fatalf("%q: expected re-prompt, got %+v", tc.text, turn)
		}
	}

	fields, err := st.GetFieldSet(context.Background(), id)
	if err != nil {
		t.Fatalf("get fields: %v", err)
	}
	if !fields.Empty() {
		t.Fatalf("expected nothing stored, got %+v", fields)
	}

	send(t, svc, id, "85000")
	turn := send(t, svc, id, "0")
	if !strings.Contains(turn.Response, "$0") {
		t.Fatalf("zero debt should be accepted, got %q", turn.Response)
	}
	turn = send(t, svc, id, "average")
	if turn.Response != creditRetry {
		t.Fatalf("expected credit re-prompt, got %q", turn.Response)
	}
}

func TestProcessMessageDecline(t *testing.T) {
	svc, st, archiver := newTestService()
	id := send(t, svc, "", "hello").ConversationID

	turn := send(t, svc, id, "no")
	if turn.Response != declineReply || !turn.Complete || turn.Assessment != nil {
		t.Fatalf("unexpected decline turn: %+v", turn)
	}

	conv, err := st.GetConversation(context.Background(), id)
	if err != nil {
		t.Fatalf("get conversation: %v", err)
	}
	if !conv.Completed() {
		t.Fatal("declined conversation should be completed")
	}
	if len(archiver.results) != 0 {
		t.Fatal("decline must not archive an assessment")
	}

	turn = send(t, svc, id, "actually yes")
	if turn.Response != alreadyComplete {
		t.Fatalf("expected completed reply, got %q", turn.Response)
	}
}

func TestProcessMessageUnclearConfirmation(t *testing.T) {
	svc, _, _ := newTestService()
	id := send(t, svc, "", "hello").ConversationID

	for _, text := range []string{"hmm", "boom"} {
		turn := send(t, svc, id, text)
		if turn.Response != unclearReply || turn.Complete {
			t.Fatalf("%q: expected unclear reply, got %+v", text, turn)
		}
	}
}

func TestProcessMessageUnclearThenDecline(t *testing.T) {
	svc, st, _ := newTestService()
	id := send(t, svc, "", "hello").ConversationID

	turn := send(t, svc, id, "hmm")
	if turn.Response != unclearReply {
		t.Fatalf("expected unclear reply, got %q", turn.Response)
	}

	turn = send(t, svc, id, "no")
	if turn.Step != StepConfirmation {
		t.Fatalf("expected the consent question to be asked again, got %s", turn.Step)
	}
	if turn.Response != declineReply || !turn.Complete {
		t.Fatalf("expected decline after re-asked consent, got %+v", turn)
	}

	conv, err := st.GetConversation(context.Background(), id)
	if err != nil {
		t.Fatalf("get conversation: %v", err)
	}
	if !conv.Completed() {
		t.Fatal("declined conversation should be completed")
	}
}

func TestProcessMessageUnclearThenProceed(t *testing.T) {
	svc, _, _ := newTestService()
	id := send(t, svc, "", "hello").ConversationID
	send(t, svc, id, "hmm")

	if turn := send(t, svc, id, "yes"); turn.Response != proceedReply {
		t.Fatalf("expected proceed reply, got %q", turn.Response)
	}
	turn := send(t, svc, id, "85000")
	if turn.Step != StepIncome || !strings.Contains(turn.Response, "$85,000") {
		t.Fatalf("expected income to be collected, got %+v", turn)
	}
}

func TestProcessMessageErrors(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	if _, err := svc.ProcessMessage(ctx, "   ", "", ""); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}
	if _, err := svc.ProcessMessage(ctx, "hi", "missing", ""); !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("expected ErrConversationNotFound, got %v", err)
	}

	owned, err := svc.ProcessMessage(ctx, "hi", "", "alice")
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if _, err := svc.ProcessMessage(ctx, "yes", owned.ConversationID, "bob"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if _, err := svc.ProcessMessage(ctx, "yes", owned.ConversationID, "alice"); err != nil {
		t.Fatalf("owner should continue: %v", err)
	}
}

func TestProcessMessageStoreFailureGivesGenericReply(t *testing.T) {
	st := &flakyStore{MemoryStore: store.NewMemory()}
	svc := NewService(st, &echoInterpreter{}, nil, nil, nil)

	id := send(t, svc, "", "hello").ConversationID
	send(t, svc, id, "yes")

	st.failWrites = true
	turn := send(t, svc, id, "85000")
	if turn.Response != GenericErrorReply || turn.Complete {
		t.Fatalf("expected generic error reply, got %+v", turn)
	}

	st.failWrites = false
	turn = send(t, svc, id, "85000")
	if !strings.Contains(turn.Response, "$85,000") {
		t.Fatalf("expected retry to succeed, got %q", turn.Response)
	}
}

func TestProcessMessageFieldReadFailureUsesMessageCount(t *testing.T) {
	st := &flakyStore{MemoryStore: store.NewMemory()}
	svc := NewService(st, &echoInterpreter{}, nil, nil, nil)

	id := send(t, svc, "", "hello").ConversationID
	send(t, svc, id, "yes")
	if turn := send(t, svc, id, "not sure"); turn.Response != incomeRetry {
		t.Fatalf("expected income re-prompt, got %q", turn.Response)
	}

	// Four user messages with no readable fields is estimated as the debt step.
	st.failFieldReads = true
	turn := send(t, svc, id, "85000")
	if turn.Step != StepDebt {
		t.Fatalf("expected estimated debt step, got %s", turn.Step)
	}
	if !strings.Contains(turn.Response, "monthly debt as $85,000") {
		t.Fatalf("expected the answer to be recorded as debt, got %q", turn.Response)
	}
}

func TestProcessMessageDownPaymentWithMissingFields(t *testing.T) {
	st := &flakyStore{MemoryStore: store.NewMemory()}
	archiver := &recordingArchiver{}
	svc := NewService(st, &echoInterpreter{}, nil, archiver, nil)

	id := send(t, svc, "", "hello").ConversationID
	for _, text := range []string{"yes", "85000", "500", "Good", "400000"} {
		send(t, svc, id, text)
	}

	// The property value disappears once the down payment lands.
	st.fieldsHook = func(fields models.FieldSet) models.FieldSet {
		if fields.DownPayment != nil {
			fields.PropertyValue = nil
		}
		return fields
	}

	turn := send(t, svc, id, "85000")
	if turn.Step != StepDownPayment {
		t.Fatalf("expected down payment step, got %s", turn.Step)
	}
	if turn.Response != missingInputsText || turn.Complete || turn.Assessment != nil {
		t.Fatalf("expected missing inputs reply, got %+v", turn)
	}

	conv, err := st.GetConversation(context.Background(), id)
	if err != nil {
		t.Fatalf("get conversation: %v", err)
	}
	if conv.Completed() {
		t.Fatal("conversation must stay open when inputs are missing")
	}
	if len(archiver.results) != 0 {
		t.Fatal("nothing should be archived without an assessment")
	}
}

func TestProcessMessageAfterCompletionLeavesConversationUntouched(t *testing.T) {
	svc, st, _ := newTestService()
	ctx := context.Background()
	id := send(t, svc, "", "hello").ConversationID
	send(t, svc, id, "no")

	before, err := st.GetConversation(ctx, id)
	if err != nil {
		t.Fatalf("get conversation: %v", err)
	}

	for _, text := range []string{"hello again", "yes"} {
		if turn := send(t, svc, id, text); turn.Response != alreadyComplete || !turn.Complete {
			t.Fatalf("%q: expected completed reply, got %+v", text, turn)
		}
	}

	after, err := st.GetConversation(ctx, id)
	if err != nil {
		t.Fatalf("get conversation: %v", err)
	}
	if !after.UpdatedAt.Equal(before.UpdatedAt) {
		t.Fatalf("completed conversation was re-marked: %s -> %s", before.UpdatedAt, after.UpdatedAt)
	}
}

func TestProcessMessageConcurrentTurnsStayOrdered(t *testing.T) {
	svc, st, _ := newTestService()
	id := send(t, svc, "", "hello").ConversationID
	send(t, svc, id, "yes")

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.ProcessMessage(context.Background(), "90000", id, ""); err != nil {
				t.Errorf("process: %v", err)
			}
		}()
	}
	wg.Wait()

	fields, err := st.GetFieldSet(context.Background(), id)
	if err != nil {
		t.Fatalf("get fields: %v", err)
	}
	// Each turn sees the previous one's write, so the five answers fill
	// income, debt and then fail credit tier validation twice.
	if fields.AnnualIncome == nil || fields.MonthlyDebt == nil {
		t.Fatalf("expected income and debt to be set, got %+v", fields)
	}
	if fields.CreditTier != nil {
		t.Fatalf("credit tier should not accept a number, got %v", *fields.CreditTier)
	}

	history, err := st.ListMessages(context.Background(), id)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	for i := 1; i < len(history); i++ {
		if history[i].Role == history[i-1].Role {
			t.Fatalf("messages interleaved at %d: %s after %s", i, history[i].Role, history[i-1].Role)
		}
	}
}

func TestContinue(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	id := send(t, svc, "", "hello").ConversationID
	send(t, svc, id, "yes")
	send(t, svc, id, "85000")

	progress, err := svc.Continue(ctx, id, "")
	if err != nil {
		t.Fatalf("continue: %v", err)
	}
	if progress.CurrentStep != int(StepDebt) || progress.StepName != "debt" {
		t.Fatalf("expected debt step, got %+v", progress)
	}
	if progress.MessageCount != 6 {
		t.Fatalf("expected 6 messages, got %d", progress.MessageCount)
	}
	if progress.LastMessage == nil || progress.LastMessage.Role != models.RoleAssistant {
		t.Fatalf("expected last assistant message, got %+v", progress.LastMessage)
	}

	fresh, err := svc.StartConversation(ctx, "")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	progress, err = svc.Continue(ctx, fresh.ID, "")
	if err != nil {
		t.Fatalf("continue fresh: %v", err)
	}
	if progress.CurrentStep != int(StepGreeting) || progress.LastMessage != nil {
		t.Fatalf("unexpected fresh progress: %+v", progress)
	}

	declined := send(t, svc, "", "hello").ConversationID
	send(t, svc, declined, "no")
	if _, err := svc.Continue(ctx, declined, ""); !errors.Is(err, ErrConversationCompleted) {
		t.Fatalf("expected ErrConversationCompleted, got %v", err)
	}
	if _, err := svc.Continue(ctx, "missing", ""); !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("expected ErrConversationNotFound, got %v", err)
	}
}

func TestHistoryAndListConversations(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	turn, err := svc.ProcessMessage(ctx, "hello", "", "alice")
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	history, err := svc.History(ctx, turn.ConversationID, "alice")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 || history[0].Content != "hello" || history[1].Content != greetingReply {
		t.Fatalf("unexpected history: %+v", history)
	}
	if _, err := svc.History(ctx, turn.ConversationID, "mallory"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}

	list, err := svc.ListConversations(ctx, "alice")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].ID != turn.ConversationID {
		t.Fatalf("unexpected conversations: %+v", list)
	}
	if _, err := svc.ListConversations(ctx, ""); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for anonymous list, got %v", err)
	}
}
