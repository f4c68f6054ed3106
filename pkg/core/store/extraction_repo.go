package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sort"
	"strconv"
	"strings"

	"annualreports/pkg/models"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = eris.New("record not found")

// ExtractionRepo stores per-year extraction records.
// Supports Hybrid Vault: DB (Primary) + File System (always written).
type ExtractionRepo struct {
	db     DB
	layout Layout
}

// NewExtractionRepo creates the repository. A nil db keeps everything on disk.
func NewExtractionRepo(db DB, layout Layout) *ExtractionRepo {
	return &ExtractionRepo{db: usable(db), layout: layout}
}

// Get returns the record of one year, or ErrNotFound.
func (r *ExtractionRepo) Get(ctx context.Context, companyID string, year int) (*models.YearExtraction, error) {
	if r.db != nil {
		query := `
			SELECT data
			FROM year_extractions
			WHERE company_id = $1 AND fiscal_year = $2
		`
		var data []byte
		err := r.db.QueryRow(ctx, query, companyID, year).Scan(&data)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "extraction %s/%d", companyID, year)
		}
		if err != nil {
			return nil, eris.Wrap(err, "failed to query extraction")
		}
		var rec models.YearExtraction
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, eris.Wrap(err, "failed to unmarshal db extraction")
		}
		return &rec, nil
	}

	var rec models.YearExtraction
	found, err := readJSON(r.layout.ExtractionPath(companyID, year), &rec)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, eris.Wrapf(ErrNotFound, "extraction %s/%d", companyID, year)
	}
	return &rec, nil
}

// Save stores a record, replacing any earlier record of the same year.
func (r *ExtractionRepo) Save(ctx context.Context, rec *models.YearExtraction) error {
	if rec.CompanyID == "" || rec.FiscalYear == 0 {
		return eris.New("extraction without company or fiscal year")
	}

	if r.db != nil {
		data, err := json.Marshal(rec)
		if err != nil {
			return eris.Wrap(err, "failed to marshal extraction")
		}
		query := `
			INSERT INTO year_extractions (
				company_id, fiscal_year, source_file, data,
				ai_provider, model_used, extracted_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (company_id, fiscal_year)
			DO UPDATE SET
				source_file = EXCLUDED.source_file,
				data = EXCLUDED.data,
				ai_provider = EXCLUDED.ai_provider,
				model_used = EXCLUDED.model_used,
				extracted_at = EXCLUDED.extracted_at,
				updated_at = NOW()
		`
		if _, err := r.db.Exec(ctx, query,
			rec.CompanyID, rec.FiscalYear, rec.SourceFile, data,
			rec.Provider, rec.ModelUsed, rec.ExtractedAt,
		); err != nil {
			return eris.Wrap(err, "failed to save extraction to db")
		}
	}

	return writeJSON(r.layout.ExtractionPath(rec.CompanyID, rec.FiscalYear), rec)
}

// List returns every stored record of a company, newest fiscal year first.
func (r *ExtractionRepo) List(ctx context.Context, companyID string) ([]models.YearExtraction, error) {
	if r.db != nil {
		return r.listDB(ctx, companyID)
	}

	entries, err := os.ReadDir(r.layout.ExtractionsDir(companyID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "failed to list extractions of %s", companyID)
	}
	var out []models.YearExtraction
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		year, err := strconv.Atoi(strings.TrimSuffix(name, ".json"))
		if err != nil {
			continue
		}
		var rec models.YearExtraction
		if found, err := readJSON(r.layout.ExtractionPath(companyID, year), &rec); err != nil || !found {
			continue
		}
		out = append(out, rec)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].FiscalYear > out[j].FiscalYear })
	return out, nil
}

func (r *ExtractionRepo) listDB(ctx context.Context, companyID string) ([]models.YearExtraction, error) {
	query := `
		SELECT data
		FROM year_extractions
		WHERE company_id = $1
		ORDER BY fiscal_year DESC
	`
	rows, err := r.db.Query(ctx, query, companyID)
	if err != nil {
		return nil, eris.Wrap(err, "failed to query extractions")
	}
	defer rows.Close()

	var out []models.YearExtraction
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "failed to scan extraction")
		}
		var rec models.YearExtraction
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, eris.Wrap(err, "failed to unmarshal db extraction")
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "failed to read extractions")
	}
	return out, nil
}
