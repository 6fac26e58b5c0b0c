package contextwindow

import (
	"errors"
	"testing"

	"github.com/fenwick-ai/corerun/pkg/models"
)

func msg(id string, cat models.Category, tokens int) *models.Message {
	return &models.Message{ID: id, Category: cat, Content: "x", TokensEstimate: tokens}
}

func TestEstimateTokens(t *testing.T) {
	if got := EstimateTokens(""); got != 0 {
		t.Errorf("EstimateTokens(\"\") = %d, want 0", got)
	}
	if got := EstimateTokens("a"); got != 1 {
		t.Errorf("EstimateTokens(\"a\") = %d, want 1 (floor)", got)
	}
	if got := EstimateTokens("aaaaaaaaaaaaaaaaaaaa"); got != 5 {
		t.Errorf("EstimateTokens(20 chars) = %d, want 5", got)
	}
}

func TestReconcile_NoOverflowKeepsEverything(t *testing.T) {
	w := New(1000, DefaultBudgetConfig(), nil)
	messages := []*models.Message{
		msg("sys", models.CategorySystemPrompt, 10),
		msg("u1", models.CategoryDialog, 20),
	}
	kept, events, err := w.Reconcile(messages)
	if err != nil {
		t.Fatalf("Reconcile error: %v", err)
	}
	if len(kept) != 2 || len(events) != 0 {
		t.Fatalf("expected no trimming, got kept=%d events=%d", len(kept), len(events))
	}
}

func TestReconcile_TrimsReasoningBeforeOtherCategories(t *testing.T) {
	w := New(MinMaxTokens, DefaultBudgetConfig(), nil)
	messages := []*models.Message{
		msg("sys", models.CategorySystemPrompt, 100),
		msg("r1", models.CategoryReasoning, MinMaxTokens),
		msg("d1", models.CategoryDialog, 100),
	}
	kept, events, err := w.Reconcile(messages)
	if err != nil {
		t.Fatalf("Reconcile error: %v", err)
	}
	if len(events) == 0 || events[0].Category != models.CategoryReasoning {
		t.Fatalf("expected REASONING to be trimmed first, got %+v", events)
	}
	for _, m := range kept {
		if m.Category == models.CategoryReasoning {
			t.Fatalf("expected REASONING message to be dropped, found %+v", m)
		}
	}
}

func TestReconcile_NeverTrimsSystemPrompt(t *testing.T) {
	w := New(MinMaxTokens, DefaultBudgetConfig(), nil)
	messages := []*models.Message{
		msg("sys", models.CategorySystemPrompt, 50),
		msg("d1", models.CategoryDialog, MinMaxTokens*2),
	}
	kept, _, err := w.Reconcile(messages)
	if err != nil {
		t.Fatalf("Reconcile error: %v", err)
	}
	found := false
	for _, m := range kept {
		if m.ID == "sys" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected system prompt to survive trimming")
	}
}

func TestReconcile_OverflowWhenMandatoryExceedsMax(t *testing.T) {
	w := New(MinMaxTokens, DefaultBudgetConfig(), nil)
	messages := []*models.Message{
		msg("sys", models.CategorySystemPrompt, MinMaxTokens*2),
	}
	_, _, err := w.Reconcile(messages)
	if !errors.Is(err, ErrContextOverflow) {
		t.Fatalf("expected ErrContextOverflow, got %v", err)
	}
}

func TestReconcile_ToolResultTrimsLargestWithinAgeBucket(t *testing.T) {
	w := New(MinMaxTokens, DefaultBudgetConfig(), nil)
	messages := []*models.Message{
		msg("sys", models.CategorySystemPrompt, 10),
		msg("tr-small", models.CategoryToolResult, 3000),
		msg("tr-big", models.CategoryToolResult, 9000),
		msg("tr-mid", models.CategoryToolResult, 5000),
	}
	kept, events, err := w.Reconcile(messages)
	if err != nil {
		t.Fatalf("Reconcile error: %v", err)
	}
	if len(events) != 1 || events[0].Category != models.CategoryToolResult {
		t.Fatalf("expected one TOOL_RESULT truncation event, got %+v", events)
	}

	var survivors []string
	for _, m := range kept {
		survivors = append(survivors, m.ID)
	}
	for _, want := range []string{"tr-small", "tr-mid"} {
		found := false
		for _, id := range survivors {
			if id == want {
				found = true
			}
		}
		if !found {
			t.Fatalf("expected %q to survive trimming, kept=%v", want, survivors)
		}
	}
	for _, id := range survivors {
		if id == "tr-big" {
			t.Fatalf("expected the largest same-age tool result to be evicted first, kept=%v", survivors)
		}
	}
}

func TestReconcile_PinnedContextSurvives(t *testing.T) {
	w := New(MinMaxTokens, DefaultBudgetConfig(), nil)
	w.Pin("ctx1")
	messages := []*models.Message{
		msg("sys", models.CategorySystemPrompt, 10),
		msg("ctx1", models.CategoryContext, 10),
		msg("d1", models.CategoryDialog, MinMaxTokens*3),
	}
	kept, _, err := w.Reconcile(messages)
	if err != nil {
		t.Fatalf("Reconcile error: %v", err)
	}
	found := false
	for _, m := range kept {
		if m.ID == "ctx1" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected pinned context message to survive trimming")
	}
}

func TestFormatForGateway_SystemPromptFirst(t *testing.T) {
	w := New(1000, DefaultBudgetConfig(), nil)
	messages := []*models.Message{
		msg("d1", models.CategoryDialog, 10),
		msg("sys", models.CategorySystemPrompt, 10),
		msg("d2", models.CategoryDialog, 10),
	}
	out, _, err := w.FormatForGateway(messages)
	if err != nil {
		t.Fatalf("FormatForGateway error: %v", err)
	}
	if len(out) != 3 || out[0].ID != "sys" {
		t.Fatalf("expected system prompt first, got %+v", out)
	}
}

func TestClamped(t *testing.T) {
	w := New(DefaultMaxTokens, DefaultBudgetConfig(), nil)
	clamped := w.Clamped(512)
	if clamped.MaxTokens() != 512 {
		t.Errorf("Clamped MaxTokens = %d, want 512", clamped.MaxTokens())
	}
}

func TestBudgets(t *testing.T) {
	w := New(1000, DefaultBudgetConfig(), nil)
	w.OnAppend(msg("sys", models.CategorySystemPrompt, 50))
	budgets := w.Budgets()
	if budgets[models.CategorySystemPrompt].Used != 50 {
		t.Errorf("used = %d, want 50", budgets[models.CategorySystemPrompt].Used)
	}
}
