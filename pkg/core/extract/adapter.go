// Package extract turns the text of one annual report into the three statement
// maps of a single fiscal year by calling the extraction service.
package extract

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"annualreports/pkg/core/errs"
	"annualreports/pkg/core/llm"
	"annualreports/pkg/core/prompt"
	"annualreports/pkg/core/vocab"
	"annualreports/pkg/models"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	DefaultMinChars    = 1000
	DefaultMaxChars    = 100000
	DefaultCallTimeout = 120 * time.Second
)

// Options tunes an Adapter. Zero values select the defaults.
type Options struct {
	MinChars    int
	MaxChars    int
	CallDelay   time.Duration // minimum spacing between service calls
	CallTimeout time.Duration
	Prompts     *prompt.Registry
	Logger      *zap.Logger
	Now         func() time.Time
}

// Adapter is the bridge between document text and the extraction service.
// One Adapter is shared by all extractions of a run so pacing holds across years.
type Adapter struct {
	provider llm.Provider
	vocab    *vocab.Vocabulary
	prompts  *prompt.Registry
	limiter  *rate.Limiter
	logger   *zap.Logger
	now      func() time.Time

	minChars    int
	maxChars    int
	callTimeout time.Duration
}

// NewAdapter creates an adapter for provider using the canonical vocabulary v.
func NewAdapter(provider llm.Provider, v *vocab.Vocabulary, opts Options) *Adapter {
	a := &Adapter{
		provider:    provider,
		vocab:       v,
		prompts:     opts.Prompts,
		logger:      opts.Logger,
		now:         opts.Now,
		minChars:    opts.MinChars,
		maxChars:    opts.MaxChars,
		callTimeout: opts.CallTimeout,
	}
	if a.vocab == nil {
		a.vocab = vocab.Default()
	}
	if a.prompts == nil {
		a.prompts = prompt.Get()
	}
	if a.logger == nil {
		a.logger = zap.NewNop()
	}
	if a.now == nil {
		a.now = time.Now
	}
	if a.minChars <= 0 {
		a.minChars = DefaultMinChars
	}
	if a.maxChars <= 0 {
		a.maxChars = DefaultMaxChars
	}
	if a.callTimeout <= 0 {
		a.callTimeout = DefaultCallTimeout
	}
	// Burst of one: the first call goes out immediately, later ones wait CallDelay.
	limit := rate.Inf
	if opts.CallDelay > 0 {
		limit = rate.Every(opts.CallDelay)
	}
	a.limiter = rate.NewLimiter(limit, 1)
	return a
}

// Provider returns the underlying extraction service.
func (a *Adapter) Provider() llm.Provider { return a.provider }

// Extract reads the statements of fiscalYear from text. sourceFile is recorded on
// the result. Service failures come back classified (see package errs); a rate
// limit is returned to the caller untouched so it can decide to retry.
func (a *Adapter) Extract(ctx context.Context, text string, fiscalYear int, sourceFile string) (*models.YearExtraction, error) {
	text = strings.TrimSpace(text)
	if n := utf8.RuneCountInString(text); n < a.minChars {
		return nil, eris.Wrapf(errs.ErrExtractionUnreadable, "%s: %d characters of text, need %d", sourceFile, n, a.minChars)
	}
	text = truncateRunes(text, a.maxChars)

	pt, err := a.prompts.GetPrompt(prompt.ExtractionPromptID)
	if err != nil {
		return nil, err
	}
	userPrompt, err := prompt.RenderUserPrompt(pt, prompt.NewContext().
		Set("FiscalYear", fiscalYear).
		Set("Schema", a.schema()).
		Set("Terminology", a.vocab.Terminology()).
		Set("Text", text))
	if err != nil {
		return nil, err
	}

	if err := a.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "extraction pacing interrupted")
	}

	callCtx, cancel := context.WithTimeout(ctx, a.callTimeout)
	defer cancel()

	start := time.Now()
	raw, err := a.provider.GenerateResponse(callCtx, userPrompt, pt.SystemPrompt, map[string]interface{}{"json": true})
	if err != nil {
		return nil, err
	}
	a.logger.Debug("extraction response received",
		zap.Int("year", fiscalYear),
		zap.Int("chars", len(raw)),
		zap.Duration("elapsed", time.Since(start)))

	sections, err := decodeResponse(raw)
	if err != nil {
		return nil, err
	}

	result := &models.YearExtraction{
		FiscalYear:  fiscalYear,
		SourceFile:  sourceFile,
		ExtractedAt: a.now().UTC(),
		Provider:    a.provider.Name(),
		ModelUsed:   a.provider.Model(),
	}
	for _, st := range models.StatementTypes {
		items, err := a.normalizeStatement(st, sections[string(st)])
		if err != nil {
			return nil, err
		}
		switch st {
		case models.IncomeStatement:
			result.IncomeStatement = items
		case models.BalanceSheet:
			result.BalanceSheet = items
		case models.CashFlow:
			result.CashFlow = items
		}
	}
	return result, nil
}

// schema renders the expected answer shape with canonical items in vocabulary order.
func (a *Adapter) schema() string {
	var b strings.Builder
	b.WriteString("{\n")
	for i, st := range models.StatementTypes {
		b.WriteString("  \"" + string(st) + "\": {\n")
		items := a.vocab.Items(st)
		for j, item := range items {
			b.WriteString("    \"" + item + "\": \"<value in millions or N/A>\"")
			if j < len(items)-1 {
				b.WriteString(",")
			}
			b.WriteString("\n")
		}
		b.WriteString("  }")
		if i < len(models.StatementTypes)-1 {
			b.WriteString(",")
		}
		b.WriteString("\n")
	}
	b.WriteString("}")
	return b.String()
}

// truncateRunes cuts s to at most n runes without splitting a character.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
