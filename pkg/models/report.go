package models

import (
	"sort"
	"strconv"
	"time"
)

// NotAvailable marks a line item the document does not report.
const NotAvailable = "N/A"

// StatementType names one of the three financial statements.
type StatementType string

const (
	IncomeStatement StatementType = "income_statement"
	BalanceSheet    StatementType = "balance_sheet"
	CashFlow        StatementType = "cash_flow"
)

// StatementTypes lists the statements in export order.
var StatementTypes = []StatementType{IncomeStatement, BalanceSheet, CashFlow}

// DisplayName returns the human label used in tabular exports.
func (s StatementType) DisplayName() string {
	switch s {
	case IncomeStatement:
		return "Income Statement"
	case BalanceSheet:
		return "Balance Sheet"
	case CashFlow:
		return "Cash Flow"
	}
	return string(s)
}

// DocumentFormat is the rendering of a candidate annual report.
type DocumentFormat string

const (
	FormatPDF   DocumentFormat = "pdf"
	FormatXHTML DocumentFormat = "xhtml"
	FormatOther DocumentFormat = "other"
)

// CandidateLink is a link found on an investor-relations page that may point at an
// annual report. InferredYear is 0 when no year could be read from it.
type CandidateLink struct {
	DisplayText  string         `json:"display_text"`
	URL          string         `json:"url"`
	InferredYear int            `json:"inferred_year,omitempty"`
	Format       DocumentFormat `json:"format"`
}

// AnnualReportDocument is a downloaded annual report stored on disk.
type AnnualReportDocument struct {
	CompanyID    string    `json:"company_id"`
	FiscalYear   int       `json:"fiscal_year"`
	SourceURL    string    `json:"source_url"`
	LocalPath    string    `json:"local_path"`
	SizeBytes    int64     `json:"size_bytes"`
	ContentType  string    `json:"content_type"`
	DownloadedAt time.Time `json:"downloaded_at"`
}

// LineItems maps a canonical item name to a value in millions ("-" prefix for
// negatives) or NotAvailable.
type LineItems map[string]string

// Clone returns an independent copy.
func (l LineItems) Clone() LineItems {
	out := make(LineItems, len(l))
	for k, v := range l {
		out[k] = v
	}
	return out
}

// YearExtraction is the statement data read from one annual report.
type YearExtraction struct {
	CompanyID       string    `json:"company_id"`
	FiscalYear      int       `json:"fiscal_year"`
	SourceFile      string    `json:"source_file"`
	IncomeStatement LineItems `json:"income_statement"`
	BalanceSheet    LineItems `json:"balance_sheet"`
	CashFlow        LineItems `json:"cash_flow"`
	ExtractedAt     time.Time `json:"extracted_at"`
	Provider        string    `json:"ai_provider"`
	ModelUsed       string    `json:"model_used"`
}

// Statement returns the line items of the given statement.
func (y *YearExtraction) Statement(st StatementType) LineItems {
	switch st {
	case IncomeStatement:
		return y.IncomeStatement
	case BalanceSheet:
		return y.BalanceSheet
	case CashFlow:
		return y.CashFlow
	}
	return nil
}

// YearSeries maps a fiscal year ("2023") to that year's line items.
type YearSeries map[string]LineItems

// ConsolidatedFinancials is the multi-year statement set of one company.
type ConsolidatedFinancials struct {
	Company    string                       `json:"company"`
	Statements map[StatementType]YearSeries `json:"statements"`
	Metadata   ConsolidationMetadata        `json:"metadata"`
}

// ConsolidationMetadata describes how a consolidated record was built.
type ConsolidationMetadata struct {
	ParsedAt     time.Time `json:"parsed_at"`
	TotalFiles   int       `json:"total_files"`
	YearsCovered []string  `json:"years_covered"`
	AIProvider   string    `json:"ai_provider"`
	ModelUsed    string    `json:"model_used"`
}

// Years returns the fiscal years present in any statement, ascending.
func (c *ConsolidatedFinancials) Years() []int {
	seen := make(map[int]bool)
	for _, series := range c.Statements {
		for y := range series {
			if n, err := strconv.Atoi(y); err == nil {
				seen[n] = true
			}
		}
	}
	years := make([]int, 0, len(seen))
	for y := range seen {
		years = append(years, y)
	}
	sort.Ints(years)
	return years
}

// Value returns the stored value for one cell, or NotAvailable.
func (c *ConsolidatedFinancials) Value(st StatementType, year int, item string) string {
	series, ok := c.Statements[st]
	if !ok {
		return NotAvailable
	}
	items, ok := series[strconv.Itoa(year)]
	if !ok {
		return NotAvailable
	}
	v, ok := items[item]
	if !ok || v == "" {
		return NotAvailable
	}
	return v
}
