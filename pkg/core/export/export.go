// Package export renders consolidated financials as CSV tables.
package export

import (
	"context"
	"encoding/csv"
	"io"
	"sort"
	"strconv"

	"annualreports/pkg/core/vocab"
	"annualreports/pkg/models"

	"github.com/rotisserie/eris"
)

// Loader returns the consolidated record of a company.
type Loader interface {
	Load(ctx context.Context, companyID string) (*models.ConsolidatedFinancials, error)
}

// CompanyFileName is the export file name of a single company table.
func CompanyFileName(companyID string) string {
	return companyID + "_financials.csv"
}

// WriteCompany writes one company as rows of (statement, item) and one column per
// fiscal year from the earliest to the latest covered year. Years without data are
// written as N/A columns.
func WriteCompany(w io.Writer, rec *models.ConsolidatedFinancials, v *vocab.Vocabulary) error {
	if rec == nil {
		return eris.New("nil consolidated record")
	}
	if v == nil {
		v = vocab.Default()
	}

	years := yearRange(rec.Years())
	header := []string{"Statement", "Item"}
	for _, y := range years {
		header = append(header, strconv.Itoa(y))
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return eris.Wrap(err, "failed to write header")
	}
	for _, st := range models.StatementTypes {
		for _, item := range rowItems(v, st, rec) {
			row := []string{st.DisplayName(), item}
			for _, y := range years {
				row = append(row, rec.Value(st, y, item))
			}
			if err := cw.Write(row); err != nil {
				return eris.Wrapf(err, "failed to write row %s", item)
			}
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return eris.Wrap(err, "failed to flush csv")
	}
	return nil
}

// WriteComparative writes one row per (statement, item, year) and one column per
// company. Items and years are the union across all companies.
func WriteComparative(ctx context.Context, w io.Writer, companies []string, loader Loader, v *vocab.Vocabulary) error {
	if len(companies) == 0 {
		return eris.New("no companies to compare")
	}
	if v == nil {
		v = vocab.Default()
	}

	records := make([]*models.ConsolidatedFinancials, len(companies))
	yearSet := make(map[int]bool)
	for i, id := range companies {
		rec, err := loader.Load(ctx, id)
		if err != nil {
			return eris.Wrapf(err, "failed to load company %s", id)
		}
		records[i] = rec
		for _, y := range rec.Years() {
			yearSet[y] = true
		}
	}
	years := make([]int, 0, len(yearSet))
	for y := range yearSet {
		years = append(years, y)
	}
	sort.Ints(years)

	cw := csv.NewWriter(w)
	header := append([]string{"Statement", "Item", "Year"}, companies...)
	if err := cw.Write(header); err != nil {
		return eris.Wrap(err, "failed to write header")
	}
	for _, st := range models.StatementTypes {
		for _, item := range rowItems(v, st, records...) {
			for _, y := range years {
				row := []string{st.DisplayName(), item, strconv.Itoa(y)}
				for _, rec := range records {
					row = append(row, rec.Value(st, y, item))
				}
				if err := cw.Write(row); err != nil {
					return eris.Wrapf(err, "failed to write row %s %d", item, y)
				}
			}
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return eris.Wrap(err, "failed to flush csv")
	}
	return nil
}

// rowItems lists the vocabulary items of st followed by any other item found in the
// records, sorted.
func rowItems(v *vocab.Vocabulary, st models.StatementType, records ...*models.ConsolidatedFinancials) []string {
	items := append([]string(nil), v.Items(st)...)
	known := make(map[string]bool, len(items))
	for _, item := range items {
		known[item] = true
	}
	var extras []string
	for _, rec := range records {
		for _, lineItems := range rec.Statements[st] {
			for item := range lineItems {
				if !known[item] {
					known[item] = true
					extras = append(extras, item)
				}
			}
		}
	}
	sort.Strings(extras)
	return append(items, extras...)
}

func yearRange(years []int) []int {
	if len(years) == 0 {
		return nil
	}
	out := make([]int, 0, years[len(years)-1]-years[0]+1)
	for y := years[0]; y <= years[len(years)-1]; y++ {
		out = append(out, y)
	}
	return out
}
