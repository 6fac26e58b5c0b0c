// Package contextwindow implements the Context Window Manager: per-category token budgets,
// overflow trimming, and the formatted view handed to the LLM Gateway.
package contextwindow

import (
	"errors"
	"fmt"
	"sort"

	"github.com/fenwick-ai/corerun/pkg/models"
)

// Defaults for token accounting: the default window size, the smallest window size New accepts
// (smaller requests are raised to it), and a chars-per-token heuristic.
const (
	DefaultMaxTokens = 128000
	MinMaxTokens     = 16000
	TokensPerChar    = 0.25
)

// trimOrder is the fixed category order the CWM trims in on overflow: REASONING first, then
// TOOL_RESULT, then DIALOG, and CONTEXT only as a last resort. SYSTEM_PROMPT is never trimmed.
var trimOrder = []models.Category{
	models.CategoryReasoning,
	models.CategoryToolResult,
	models.CategoryDialog,
	models.CategoryContext,
}

// ErrContextOverflow is returned when even the mandatory minimum (active system prompt and any
// pinned CONTEXT messages) cannot fit within max_tokens.
var ErrContextOverflow = errors.New("contextwindow: mandatory content exceeds max_tokens")

// BudgetConfig maps each category to the fraction of max_tokens it is nominally allotted.
// Fractions need not sum to 1; STATUS messages are never persisted into the formatted view and
// carry no budget.
type BudgetConfig struct {
	Fractions map[models.Category]float64
}

// DefaultBudgetConfig returns the default per-category split: SYSTEM_PROMPT 10%, CONTEXT 15%,
// DIALOG 55%, TOOL_RESULT 15%, REASONING 5%.
func DefaultBudgetConfig() BudgetConfig {
	return BudgetConfig{
		Fractions: map[models.Category]float64{
			models.CategorySystemPrompt: 0.10,
			models.CategoryContext:      0.15,
			models.CategoryDialog:       0.55,
			models.CategoryToolResult:   0.15,
			models.CategoryReasoning:    0.05,
		},
	}
}

// CategoryUsage reports used vs. budgeted tokens for one category.
type CategoryUsage struct {
	Used   int
	Budget int
}

// TruncationEvent records one trimming decision, emitted as a `token_update`-adjacent signal
// and mirrored into a `cw_clamp_notice` message by the caller (Conversation Manager).
type TruncationEvent struct {
	Category        models.Category
	DroppedTokens   int
	DroppedMessages int
}

// Estimator computes a token estimate for a piece of text. Pluggable so a gateway's authoritative
// usage counts can replace the heuristic retroactively.
type Estimator func(text string) int

// EstimateTokens is the default heuristic estimator: rune count scaled by TokensPerChar, with a
// floor of 1 token for any non-empty text.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	n := int(float64(len([]rune(text))) * TokensPerChar)
	if n < 1 {
		n = 1
	}
	return n
}

// Window tracks per-category token usage against a total budget and reconciles (trims) on
// overflow. It does not own the message list itself — callers pass the session's current
// message slice into Reconcile/FormatForGateway so Window stays a pure accounting structure.
type Window struct {
	maxTokens int
	budgets   map[models.Category]int
	usage     map[models.Category]int
	estimate  Estimator

	// pinned holds the IDs of messages the caller has marked mandatory (e.g. attached context
	// files) — Reconcile never trims them.
	pinned map[string]bool
}

// New creates a Window sized to maxTokens with the given per-category budget fractions.
func New(maxTokens int, cfg BudgetConfig, estimate Estimator) *Window {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	if maxTokens < MinMaxTokens {
		maxTokens = MinMaxTokens
	}
	if estimate == nil {
		estimate = EstimateTokens
	}
	budgets := make(map[models.Category]int, len(cfg.Fractions))
	for cat, frac := range cfg.Fractions {
		budgets[cat] = int(float64(maxTokens) * frac)
	}
	return &Window{
		maxTokens: maxTokens,
		budgets:   budgets,
		usage:     make(map[models.Category]int),
		estimate:  estimate,
		pinned:    make(map[string]bool),
	}
}

// MaxTokens returns the window's total token budget.
func (w *Window) MaxTokens() int { return w.maxTokens }

// Pin marks a message as mandatory content that Reconcile never trims; if mandatory content
// alone exceeds max_tokens, Reconcile returns ErrContextOverflow (used for pinned context files).
func (w *Window) Pin(messageID string) { w.pinned[messageID] = true }

// OnAppend updates category usage for a newly appended message, estimating its token count if
// one has not already been attached.
func (w *Window) OnAppend(msg *models.Message) {
	if msg == nil {
		return
	}
	if msg.TokensEstimate == 0 {
		msg.TokensEstimate = w.estimate(msg.Content)
	}
	w.usage[msg.Category] += msg.TokensEstimate
}

// SetUsage overwrites the tracked usage for a category, used when a gateway supplies an
// authoritative token count after the fact.
func (w *Window) SetUsage(cat models.Category, tokens int) { w.usage[cat] = tokens }

// Budgets returns a snapshot of used/budget pairs per category, for UI display
// (token_update events).
func (w *Window) Budgets() map[models.Category]CategoryUsage {
	out := make(map[models.Category]CategoryUsage, len(w.budgets))
	for cat, budget := range w.budgets {
		out[cat] = CategoryUsage{Used: w.usage[cat], Budget: budget}
	}
	return out
}

// TotalUsed sums usage across all categories.
func (w *Window) TotalUsed() int {
	total := 0
	for _, v := range w.usage {
		total += v
	}
	return total
}

// Clamped returns a copy of this window's budget config scaled down so its max_tokens does not
// exceed limit — used when a child agent's shared context window is clamped by
// shared_cw_max_tokens.
func (w *Window) Clamped(limit int) *Window {
	effective := w.maxTokens
	if limit > 0 && limit < effective {
		effective = limit
	}
	// Built directly rather than through New, so a limit below MinMaxTokens is kept as given.
	budgets := make(map[models.Category]int, len(w.budgets))
	for cat, budget := range w.budgets {
		if w.maxTokens > 0 {
			budgets[cat] = int(float64(effective) * float64(budget) / float64(w.maxTokens))
		}
	}
	return &Window{
		maxTokens: effective,
		budgets:   budgets,
		usage:     make(map[models.Category]int),
		estimate:  w.estimate,
		pinned:    make(map[string]bool),
	}
}

// Reconcile trims messages (in trimOrder) until total estimated usage fits within max_tokens,
// returning the kept messages in their original relative order plus one TruncationEvent per
// category actually trimmed. It never trims SYSTEM_PROMPT and never trims a pinned message.
// If even the mandatory minimum (system prompt + pinned context) cannot fit, it returns
// ErrContextOverflow.
func (w *Window) Reconcile(messages []*models.Message) ([]*models.Message, []TruncationEvent, error) {
	kept := make([]*models.Message, len(messages))
	copy(kept, messages)
	for _, m := range kept {
		if m.TokensEstimate == 0 {
			m.TokensEstimate = w.estimate(m.Content)
		}
	}

	mandatory := 0
	for _, m := range kept {
		if m.Category == models.CategorySystemPrompt || w.pinned[m.ID] {
			mandatory += m.TokensEstimate
		}
	}
	if mandatory > w.maxTokens {
		return nil, nil, fmt.Errorf("%w: mandatory content %d tokens exceeds max %d", ErrContextOverflow, mandatory, w.maxTokens)
	}

	var events []TruncationEvent
	total := sumTokens(kept)

	for _, cat := range trimOrder {
		if total <= w.maxTokens {
			break
		}
		kept, total = w.trimCategory(kept, cat, total, &events)
	}

	if total > w.maxTokens {
		return nil, events, fmt.Errorf("%w: cannot reduce below %d tokens (max %d)", ErrContextOverflow, total, w.maxTokens)
	}

	for cat := range w.usage {
		w.usage[cat] = 0
	}
	for _, m := range kept {
		w.usage[m.Category] += m.TokensEstimate
	}

	return kept, events, nil
}

// trimCategory drops messages of the given category, oldest-first (or biggest-first for
// TOOL_RESULT, which is trimmed by age then size), until total usage fits or the category is
// exhausted. Pinned messages are skipped.
func (w *Window) trimCategory(messages []*models.Message, cat models.Category, total int, events *[]TruncationEvent) ([]*models.Message, int) {
	var droppedTokens, droppedCount int

	candidates := make([]int, 0)
	for i, m := range messages {
		if m.Category != cat {
			continue
		}
		if w.pinned[m.ID] {
			continue
		}
		candidates = append(candidates, i)
	}
	if cat == models.CategoryToolResult {
		// Oldest-first by CreatedAt; within the same age bucket (messages created at the same
		// timestamp), evict the largest TokensEstimate first.
		sort.SliceStable(candidates, func(i, j int) bool {
			a, b := messages[candidates[i]], messages[candidates[j]]
			if !a.CreatedAt.Equal(b.CreatedAt) {
				return a.CreatedAt.Before(b.CreatedAt)
			}
			return a.TokensEstimate > b.TokensEstimate
		})
	}

	drop := make(map[int]bool, len(candidates))
	for _, idx := range candidates {
		if total <= w.maxTokens {
			break
		}
		drop[idx] = true
		total -= messages[idx].TokensEstimate
		droppedTokens += messages[idx].TokensEstimate
		droppedCount++
	}

	if droppedCount == 0 {
		return messages, total
	}

	out := make([]*models.Message, 0, len(messages)-droppedCount)
	for i, m := range messages {
		if !drop[i] {
			out = append(out, m)
		}
	}
	*events = append(*events, TruncationEvent{Category: cat, DroppedTokens: droppedTokens, DroppedMessages: droppedCount})
	return out, total
}

func sumTokens(messages []*models.Message) int {
	total := 0
	for _, m := range messages {
		total += m.TokensEstimate
	}
	return total
}

// FormatForGateway produces the ordered, trimmed view for the gateway: system prompt first (if
// present), followed by the remaining kept messages in session order, with tool-result grouping
// preserved (a TOOL_RESULT message always stays immediately after the assistant message whose
// tool_calls it answers, since Reconcile only ever removes whole messages, never reorders).
func (w *Window) FormatForGateway(messages []*models.Message) ([]*models.Message, []TruncationEvent, error) {
	kept, events, err := w.Reconcile(messages)
	if err != nil {
		return nil, events, err
	}

	var system *models.Message
	rest := make([]*models.Message, 0, len(kept))
	for _, m := range kept {
		if m.Category == models.CategorySystemPrompt && system == nil {
			system = m
			continue
		}
		rest = append(rest, m)
	}
	if system == nil {
		return rest, events, nil
	}
	out := make([]*models.Message, 0, len(rest)+1)
	out = append(out, system)
	out = append(out, rest...)
	return out, events, nil
}
