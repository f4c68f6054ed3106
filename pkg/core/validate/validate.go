// Package validate runs accounting consistency checks on extracted statements.
// Failed checks are warnings: they flag likely extraction mistakes but never
// change or drop values.
package validate

import (
	"fmt"
	"math"
	"sort"
	"strconv"

	"annualreports/pkg/models"
)

// DefaultTolerance is the relative gap allowed by the identity checks.
const DefaultTolerance = 0.01

// DefaultOutlierPct is the year-over-year change treated as suspicious.
const DefaultOutlierPct = 300.0

// CalculateYoY calculates year-over-year change between two values.
// Returns percentage change: (current - prior) / |prior| * 100
func CalculateYoY(current, prior float64) float64 {
	if prior == 0 {
		if current == 0 {
			return 0
		}
		return math.Inf(1) // Infinite growth from zero
	}
	return (current - prior) / math.Abs(prior) * 100
}

// Value parses a normalized line-item value. N/A and malformed values report false.
func Value(items models.LineItems, item string) (float64, bool) {
	raw, ok := items[item]
	if !ok || raw == models.NotAvailable || raw == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// Check is the result of one identity check.
type Check struct {
	Name       string  `json:"name"`
	Expected   float64 `json:"expected"`
	Reported   float64 `json:"reported"`
	Difference float64 `json:"difference"`
	Passed     bool    `json:"passed"`
}

func (c Check) String() string {
	return fmt.Sprintf("%s: reported %.1f, expected %.1f (diff %.1f)", c.Name, c.Reported, c.Expected, c.Difference)
}

func newCheck(name string, expected, reported, tolerance float64) Check {
	diff := reported - expected
	scale := math.Max(math.Abs(expected), math.Abs(reported))
	return Check{
		Name:       name,
		Expected:   expected,
		Reported:   reported,
		Difference: diff,
		Passed:     math.Abs(diff) <= tolerance*scale+0.5, // half a million absorbs rounding
	}
}

// CheckBalanceEquation validates Assets = Liabilities + Equity.
func CheckBalanceEquation(assets, liabilities, equity, tolerance float64) Check {
	return newCheck("balance sheet: assets = liabilities + equity", liabilities+equity, assets, tolerance)
}

// CheckGrossProfit validates Gross Profit = Revenue - Cost of Revenue. Reports
// print cost of revenue with either sign.
func CheckGrossProfit(revenue, cost, gross, tolerance float64) Check {
	return newCheck("income statement: gross profit = revenue - cost of revenue", revenue-math.Abs(cost), gross, tolerance)
}

// CheckCashFlowEquation validates CFO + CFI + CFF = Net Change in Cash.
// Exchange-rate effects are not extracted, hence the tolerance.
func CheckCashFlowEquation(cfo, cfi, cff, reportedNetChange, tolerance float64) Check {
	return newCheck("cash flow: operating + investing + financing = net change", cfo+cfi+cff, reportedNetChange, tolerance)
}

// Year runs every identity check whose inputs are present and returns the failed
// ones.
func Year(rec *models.YearExtraction, tolerance float64) []Check {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	var failed []Check
	add := func(c Check) {
		if !c.Passed {
			failed = append(failed, c)
		}
	}

	bs := rec.BalanceSheet
	if a, ok := Value(bs, "Total Assets"); ok {
		l, okL := Value(bs, "Total Liabilities")
		e, okE := Value(bs, "Total Equity")
		if okL && okE {
			add(CheckBalanceEquation(a, l, e, tolerance))
		}
	}

	is := rec.IncomeStatement
	r, okR := Value(is, "Revenue")
	c, okC := Value(is, "Cost of Revenue")
	g, okG := Value(is, "Gross Profit")
	if okR && okC && okG {
		add(CheckGrossProfit(r, c, g, tolerance))
	}

	cf := rec.CashFlow
	cfo, ok1 := Value(cf, "Operating Cash Flow")
	cfi, ok2 := Value(cf, "Investing Cash Flow")
	cff, ok3 := Value(cf, "Financing Cash Flow")
	net, ok4 := Value(cf, "Net Change in Cash")
	if ok1 && ok2 && ok3 && ok4 {
		add(CheckCashFlowEquation(cfo, cfi, cff, net, tolerance))
	}
	return failed
}

// Outlier is a suspicious change of one item between consecutive covered years.
type Outlier struct {
	Statement  models.StatementType `json:"statement"`
	Item       string               `json:"item"`
	Year       int                  `json:"year"`
	PriorYear  int                  `json:"prior_year"`
	Value      float64              `json:"value"`
	PriorValue float64              `json:"prior_value"`
	ChangePct  float64              `json:"change_pct"`
	Reason     string               `json:"reason"`
}

// CheckForOutlier identifies if a value change is suspicious.
func CheckForOutlier(current, prior, thresholdPct float64) (string, bool) {
	if current == 0 && prior != 0 {
		return "value dropped to zero (likely extraction error)", true
	}
	if prior == 0 {
		return "", false
	}
	if change := CalculateYoY(current, prior); math.Abs(change) > thresholdPct {
		return fmt.Sprintf("change of %.1f%% exceeds threshold of %.1f%%", change, thresholdPct), true
	}
	return "", false
}

// Outliers compares each item with the nearest earlier covered year.
func Outliers(rec *models.ConsolidatedFinancials, thresholdPct float64) []Outlier {
	if thresholdPct <= 0 {
		thresholdPct = DefaultOutlierPct
	}
	years := rec.Years()
	var out []Outlier
	for _, st := range models.StatementTypes {
		series := rec.Statements[st]
		for i := 1; i < len(years); i++ {
			cur := series[strconv.Itoa(years[i])]
			prev := series[strconv.Itoa(years[i-1])]
			items := make([]string, 0, len(cur))
			for item := range cur {
				items = append(items, item)
			}
			sort.Strings(items)
			for _, item := range items {
				v, ok := Value(cur, item)
				p, okP := Value(prev, item)
				if !ok || !okP {
					continue
				}
				if reason, bad := CheckForOutlier(v, p, thresholdPct); bad {
					out = append(out, Outlier{
						Statement:  st,
						Item:       item,
						Year:       years[i],
						PriorYear:  years[i-1],
						Value:      v,
						PriorValue: p,
						ChangePct:  CalculateYoY(v, p),
						Reason:     reason,
					})
				}
			}
		}
	}
	return out
}
