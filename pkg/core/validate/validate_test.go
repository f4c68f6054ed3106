package validate

import (
	"math"
	"testing"

	"annualreports/pkg/models"
)

// Apple FY2024 10-K, millions USD.
func appleFY2024() *models.YearExtraction {
	return &models.YearExtraction{
		FiscalYear: 2024,
		IncomeStatement: models.LineItems{
			"Revenue":         "391035",
			"Cost of Revenue": "210352",
			"Gross Profit":    "180683",
		},
		BalanceSheet: models.LineItems{
			"Total Assets":      "364980",
			"Total Liabilities": "308030",
			"Total Equity":      "56950",
		},
		CashFlow: models.LineItems{
			"Operating Cash Flow": "118254",
			"Investing Cash Flow": "2935",
			"Financing Cash Flow": "-121983",
			"Net Change in Cash":  "-794",
		},
	}
}

func TestCalculateYoY(t *testing.T) {
	tests := []struct {
		name     string
		current  float64
		prior    float64
		expected float64
	}{
		{"growth", 391035, 383285, 2.02},
		{"decline", 93736, 96995, -3.36},
		{"negative prior", -50, -100, 50},
		{"both zero", 0, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CalculateYoY(tt.current, tt.prior)
			if math.Abs(got-tt.expected) > 0.01 {
				t.Errorf("CalculateYoY(%v, %v) = %.2f, want %.2f", tt.current, tt.prior, got, tt.expected)
			}
		})
	}
	if !math.IsInf(CalculateYoY(10, 0), 1) {
		t.Error("growth from zero should be +Inf")
	}
}

func TestYearPassesConsistentStatements(t *testing.T) {
	if failed := Year(appleFY2024(), 0); len(failed) != 0 {
		t.Errorf("expected no failed checks, got %v", failed)
	}
}

func TestYearFlagsInconsistentStatements(t *testing.T) {
	rec := appleFY2024()
	rec.BalanceSheet["Total Equity"] = "5695" // lost a digit
	rec.IncomeStatement["Cost of Revenue"] = "-210352"
	rec.CashFlow["Net Change in Cash"] = models.NotAvailable

	failed := Year(rec, 0)
	if len(failed) != 1 {
		t.Fatalf("expected only the balance check to fail, got %v", failed)
	}
	if failed[0].Passed || failed[0].Expected != 313725 {
		t.Errorf("unexpected check %+v", failed[0])
	}
}

func TestValue(t *testing.T) {
	items := models.LineItems{"a": "-12.5", "b": models.NotAvailable, "c": "12abc"}
	if v, ok := Value(items, "a"); !ok || v != -12.5 {
		t.Errorf("Value(a) = %v, %v", v, ok)
	}
	for _, k := range []string{"b", "c", "missing"} {
		if _, ok := Value(items, k); ok {
			t.Errorf("Value(%s) should not parse", k)
		}
	}
}

func TestOutliers(t *testing.T) {
	rec := &models.ConsolidatedFinancials{
		Company: "acme",
		Statements: map[models.StatementType]models.YearSeries{
			models.IncomeStatement: {
				"2021": {"Revenue": "1000", "Net Income": "100"},
				"2023": {"Revenue": "1100", "Net Income": "0"},
			},
			models.BalanceSheet: {
				"2021": {"Total Assets": "500"},
				"2023": {"Total Assets": "50000"},
			},
			models.CashFlow: {},
		},
	}

	got := Outliers(rec, 0)
	if len(got) != 2 {
		t.Fatalf("expected 2 outliers, got %+v", got)
	}
	if got[0].Item != "Net Income" || got[0].PriorYear != 2021 || got[0].Year != 2023 {
		t.Errorf("unexpected first outlier %+v", got[0])
	}
	if got[1].Item != "Total Assets" || got[1].ChangePct != 9900 {
		t.Errorf("unexpected second outlier %+v", got[1])
	}
}
