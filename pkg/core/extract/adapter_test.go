package extract

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"annualreports/pkg/core/errs"
	"annualreports/pkg/models"

	"github.com/google/go-cmp/cmp"
	"github.com/rotisserie/eris"
)

type mockProvider struct {
	GenerateFunc func(ctx context.Context, prompt, systemPrompt string) (string, error)
	calls        int
	lastPrompt   string
}

func (m *mockProvider) GenerateResponse(ctx context.Context, prompt string, systemPrompt string, options map[string]interface{}) (string, error) {
	m.calls++
	m.lastPrompt = prompt
	return m.GenerateFunc(ctx, prompt, systemPrompt)
}

func (m *mockProvider) Name() string  { return "mock" }
func (m *mockProvider) Model() string { return "mock-1" }

func reportText(n int) string {
	return strings.Repeat("Consolidated statement of income. ", n/34+1)
}

func fixedNow() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }

const fencedResponse = "Here are the figures:\n```json\n" + `{
  "income_statement": {"Net sales": "1,234.5", "Net Income": "(56)", "Operating Income": "0", "Adjusted EBITDA": "999"},
  "balance_sheet": {"Total Assets": "$ 10,000 million", "Inventories": null},
  "cash_flow": {"Net cash from operating activities": "−300", "Capital Expenditures": "N/A"}
}` + "\n```\nLet me know if you need more."

func TestExtractNormalizesResponse(t *testing.T) {
	p := &mockProvider{GenerateFunc: func(ctx context.Context, prompt, systemPrompt string) (string, error) {
		return fencedResponse, nil
	}}
	a := NewAdapter(p, nil, Options{Now: fixedNow})

	got, err := a.Extract(context.Background(), reportText(2000), 2023, "2023.pdf")
	if err != nil {
		t.Fatalf("Extract() error: %v", err)
	}
	if got.FiscalYear != 2023 || got.SourceFile != "2023.pdf" || got.Provider != "mock" || got.ModelUsed != "mock-1" {
		t.Errorf("unexpected metadata: %+v", got)
	}
	if !got.ExtractedAt.Equal(fixedNow()) {
		t.Errorf("ExtractedAt = %v", got.ExtractedAt)
	}

	checks := []struct {
		st   models.StatementType
		item string
		want string
	}{
		{models.IncomeStatement, "Revenue", "1234.5"},
		{models.IncomeStatement, "Net Income", "-56"},
		{models.IncomeStatement, "Operating Income", "0"},
		{models.IncomeStatement, "Gross Profit", models.NotAvailable},
		{models.BalanceSheet, "Total Assets", "10000"},
		{models.BalanceSheet, "Inventory", models.NotAvailable},
		{models.CashFlow, "Operating Cash Flow", "-300"},
		{models.CashFlow, "Capital Expenditures", models.NotAvailable},
	}
	for _, c := range checks {
		if v := got.Statement(c.st)[c.item]; v != c.want {
			t.Errorf("%s[%s] = %q, want %q", c.st, c.item, v, c.want)
		}
	}
	if _, ok := got.IncomeStatement["Adjusted EBITDA"]; ok {
		t.Error("non-canonical item should be dropped")
	}
	if len(got.IncomeStatement) != len(a.vocab.Items(models.IncomeStatement)) {
		t.Errorf("income statement has %d items, want every canonical item", len(got.IncomeStatement))
	}
}

func TestExtractPromptContents(t *testing.T) {
	p := &mockProvider{GenerateFunc: func(ctx context.Context, prompt, systemPrompt string) (string, error) {
		if !strings.Contains(systemPrompt, "N/A") {
			t.Error("system prompt should carry the normalization rules")
		}
		return `{"income_statement": {}, "balance_sheet": {}, "cash_flow": {}}`, nil
	}}
	a := NewAdapter(p, nil, Options{MaxChars: 1500})

	text := reportText(2000) + "TAIL-MARKER"
	if _, err := a.Extract(context.Background(), text, 2021, "2021.pdf"); err != nil {
		t.Fatalf("Extract() error: %v", err)
	}
	for _, want := range []string{"2021", `"Revenue"`, `"cash_flow"`, "Net sales -> Revenue"} {
		if !strings.Contains(p.lastPrompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
	if strings.Contains(p.lastPrompt, "TAIL-MARKER") {
		t.Error("text beyond MaxChars should be truncated")
	}
}

func TestExtractShortTextIsUnreadable(t *testing.T) {
	p := &mockProvider{GenerateFunc: func(ctx context.Context, prompt, systemPrompt string) (string, error) {
		t.Fatal("provider must not be called for unreadable text")
		return "", nil
	}}
	a := NewAdapter(p, nil, Options{})

	_, err := a.Extract(context.Background(), "scanned image only", 2022, "2022.pdf")
	if !eris.Is(err, errs.ErrExtractionUnreadable) {
		t.Fatalf("expected ErrExtractionUnreadable, got %v", err)
	}
}

func TestExtractResponseErrors(t *testing.T) {
	tests := []struct {
		name     string
		response string
		provErr  error
		want     error
	}{
		{"missing section", `{"income_statement": {}, "balance_sheet": {}}`, nil, errs.ErrMalformedResponse},
		{"null section", `{"income_statement": {}, "balance_sheet": {}, "cash_flow": null}`, nil, errs.ErrMalformedResponse},
		{"no object", "I could not find any statements.", nil, errs.ErrMalformedResponse},
		{"section not an object", `{"income_statement": [], "balance_sheet": {}, "cash_flow": {}}`, nil, errs.ErrMalformedResponse},
		{"rate limit passes through", "", eris.Wrap(errs.ErrRateLimit, "429"), errs.ErrRateLimit},
		{"auth passes through", "", eris.Wrap(errs.ErrAuthentication, "401"), errs.ErrAuthentication},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &mockProvider{GenerateFunc: func(ctx context.Context, prompt, systemPrompt string) (string, error) {
				return tt.response, tt.provErr
			}}
			a := NewAdapter(p, nil, Options{})
			_, err := a.Extract(context.Background(), reportText(2000), 2020, "2020.pdf")
			if !eris.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestExtractRepairsProseWrappedObject(t *testing.T) {
	p := &mockProvider{GenerateFunc: func(ctx context.Context, prompt, systemPrompt string) (string, error) {
		return `Sure. {"income_statement": {"Revenue": "100",}, "balance_sheet": {}, "cash_flow": {},} Hope this helps.`, nil
	}}
	a := NewAdapter(p, nil, Options{})

	got, err := a.Extract(context.Background(), reportText(2000), 2019, "2019.pdf")
	if err != nil {
		t.Fatalf("Extract() error: %v", err)
	}
	if got.IncomeStatement["Revenue"] != "100" {
		t.Errorf("Revenue = %q, want 100", got.IncomeStatement["Revenue"])
	}
}

func TestExtractPacesCalls(t *testing.T) {
	p := &mockProvider{GenerateFunc: func(ctx context.Context, prompt, systemPrompt string) (string, error) {
		return `{"income_statement": {}, "balance_sheet": {}, "cash_flow": {}}`, nil
	}}
	a := NewAdapter(p, nil, Options{CallDelay: time.Hour})

	if _, err := a.Extract(context.Background(), reportText(2000), 2023, "a.pdf"); err != nil {
		t.Fatalf("first call should not wait: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := a.Extract(ctx, reportText(2000), 2022, "b.pdf"); err == nil {
		t.Fatal("second call should wait for the call delay")
	}
	if p.calls != 1 {
		t.Errorf("provider called %d times, want 1", p.calls)
	}
}

func TestExactCanonicalLabelWinsOverSynonym(t *testing.T) {
	p := &mockProvider{GenerateFunc: func(ctx context.Context, prompt, systemPrompt string) (string, error) {
		return `{"income_statement": {"Sales": "90", "Revenue": "100"}, "balance_sheet": {}, "cash_flow": {}}`, nil
	}}
	a := NewAdapter(p, nil, Options{})

	got, err := a.Extract(context.Background(), reportText(2000), 2023, "2023.pdf")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff("100", got.IncomeStatement["Revenue"]); diff != "" {
		t.Errorf("Revenue mismatch (-want +got):\n%s", diff)
	}
}

func TestNormalizeValue(t *testing.T) {
	tests := []struct {
		in   interface{}
		want string
	}{
		{"1,234.5", "1234.5"},
		{"(1,234)", "-1234"},
		{"−" + "56", "-56"},
		{"$ 1,200 million", "1200"},
		{"€2.5bn", "2500"},
		{"USD 300m", "300"},
		{"4,500 thousand", "4.5"},
		{"1.234.567", "1234567"},
		{"0", "0"},
		{"-0", "0"},
		{"N/A", models.NotAvailable},
		{"", models.NotAvailable},
		{"—", models.NotAvailable},
		{"approx. 12", models.NotAvailable},
		{nil, models.NotAvailable},
		{true, models.NotAvailable},
		{float64(12.5), "12.5"},
		{"1.234,5", "1234.5"},
		{"(1.234,5)", "-1234.5"},
		{"€ 2.345,6 Mio", "2345.6"},
		{"1,234.567", "1234.567"},
		{json.Number("42"), "42"},
		{json.Number("1e3"), "1000"},
		{json.Number("1.5E+4"), "15000"},
		{json.Number("-2.5e2"), "-250"},
		{float64(1e21), "1000000000000000000000"},
	}
	for _, tt := range tests {
		if got := normalizeValue(tt.in); got != tt.want {
			t.Errorf("normalizeValue(%#v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTruncateRunes(t *testing.T) {
	if got := truncateRunes("Geschäftsbericht", 6); got != "Geschä" {
		t.Errorf("truncateRunes() = %q", got)
	}
	if got := truncateRunes("short", 10); got != "short" {
		t.Errorf("truncateRunes() = %q", got)
	}
}
