// Package consolidate merges per-year extractions into one multi-year record.
package consolidate

import (
	"sort"
	"strconv"
	"time"

	"annualreports/pkg/core/errs"
	"annualreports/pkg/models"

	"github.com/rotisserie/eris"
)

// Consolidate builds the multi-year record of a company from its year extractions.
//
// Extractions are visited by fiscal year, newest first, and the first result seen
// for a (statement, year) pair is kept. Running it twice on the same input gives the
// same record apart from ParsedAt.
func Consolidate(companyID string, extractions []models.YearExtraction, provider, model string, now time.Time) (*models.ConsolidatedFinancials, error) {
	if len(extractions) == 0 {
		return nil, eris.Wrapf(errs.ErrConsolidationEmpty, "company %s", companyID)
	}

	ordered := make([]models.YearExtraction, len(extractions))
	copy(ordered, extractions)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].FiscalYear > ordered[j].FiscalYear
	})

	out := &models.ConsolidatedFinancials{
		Company:    companyID,
		Statements: make(map[models.StatementType]models.YearSeries, len(models.StatementTypes)),
	}
	for _, st := range models.StatementTypes {
		out.Statements[st] = models.YearSeries{}
	}

	years := make(map[int]bool)
	files := make(map[string]bool)
	for i := range ordered {
		ext := &ordered[i]
		year := strconv.Itoa(ext.FiscalYear)
		for _, st := range models.StatementTypes {
			series := out.Statements[st]
			if _, written := series[year]; written {
				continue
			}
			series[year] = ext.Statement(st).Clone()
		}
		years[ext.FiscalYear] = true
		if ext.SourceFile != "" {
			files[ext.SourceFile] = true
		}
		if provider == "" {
			provider = ext.Provider
		}
		if model == "" {
			model = ext.ModelUsed
		}
	}

	covered := make([]int, 0, len(years))
	for y := range years {
		covered = append(covered, y)
	}
	sort.Ints(covered)
	yearStrings := make([]string, len(covered))
	for i, y := range covered {
		yearStrings[i] = strconv.Itoa(y)
	}

	out.Metadata = models.ConsolidationMetadata{
		ParsedAt:     now.UTC(),
		TotalFiles:   len(files),
		YearsCovered: yearStrings,
		AIProvider:   provider,
		ModelUsed:    model,
	}
	return out, nil
}
