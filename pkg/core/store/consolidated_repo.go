package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"

	"annualreports/pkg/models"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// ConsolidatedRepo stores one consolidated record per company.
type ConsolidatedRepo struct {
	db     DB
	layout Layout
}

// NewConsolidatedRepo creates the repository. A nil db keeps everything on disk.
func NewConsolidatedRepo(db DB, layout Layout) *ConsolidatedRepo {
	return &ConsolidatedRepo{db: usable(db), layout: layout}
}

// Save replaces the consolidated record of rec.Company.
func (r *ConsolidatedRepo) Save(ctx context.Context, rec *models.ConsolidatedFinancials) error {
	if rec.Company == "" {
		return eris.New("consolidated record without company")
	}

	if r.db != nil {
		data, err := json.Marshal(rec)
		if err != nil {
			return eris.Wrap(err, "failed to marshal consolidated record")
		}
		query := `
			INSERT INTO consolidated_financials (company_id, data, years_covered, parsed_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (company_id)
			DO UPDATE SET
				data = EXCLUDED.data,
				years_covered = EXCLUDED.years_covered,
				parsed_at = EXCLUDED.parsed_at,
				updated_at = NOW()
		`
		if _, err := r.db.Exec(ctx, query, rec.Company, data, rec.Metadata.YearsCovered, rec.Metadata.ParsedAt); err != nil {
			return eris.Wrap(err, "failed to save consolidated record to db")
		}
	}

	return writeJSON(r.layout.ConsolidatedPath(rec.Company), rec)
}

// Load returns the consolidated record of a company, or ErrNotFound.
func (r *ConsolidatedRepo) Load(ctx context.Context, companyID string) (*models.ConsolidatedFinancials, error) {
	var rec models.ConsolidatedFinancials

	if r.db != nil {
		var data []byte
		err := r.db.QueryRow(ctx, `SELECT data FROM consolidated_financials WHERE company_id = $1`, companyID).Scan(&data)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "consolidated record of %s", companyID)
		}
		if err != nil {
			return nil, eris.Wrap(err, "failed to query consolidated record")
		}
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, eris.Wrap(err, "failed to unmarshal db consolidated record")
		}
		return &rec, nil
	}

	found, err := readJSON(r.layout.ConsolidatedPath(companyID), &rec)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, eris.Wrapf(ErrNotFound, "consolidated record of %s", companyID)
	}
	return &rec, nil
}

// Companies lists the companies that have a consolidated record, sorted.
func (r *ConsolidatedRepo) Companies(ctx context.Context) ([]string, error) {
	if r.db != nil {
		rows, err := r.db.Query(ctx, `SELECT company_id FROM consolidated_financials ORDER BY company_id`)
		if err != nil {
			return nil, eris.Wrap(err, "failed to list companies")
		}
		defer rows.Close()
		var ids []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				return nil, eris.Wrap(err, "failed to scan company id")
			}
			ids = append(ids, id)
		}
		if err := rows.Err(); err != nil {
			return nil, eris.Wrap(err, "failed to read companies")
		}
		return ids, nil
	}

	all, err := r.layout.Companies()
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, id := range all {
		if _, err := os.Stat(r.layout.ConsolidatedPath(id)); err == nil {
			ids = append(ids, id)
		}
	}
	return ids, nil
}
