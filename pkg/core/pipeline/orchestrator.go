// Package pipeline runs the annual-report flow for a company: discovery, download,
// extraction, consolidation and export.
package pipeline

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"annualreports/pkg/core/browser"
	"annualreports/pkg/core/consolidate"
	"annualreports/pkg/core/errs"
	"annualreports/pkg/core/export"
	"annualreports/pkg/core/fetch"
	"annualreports/pkg/core/store"
	"annualreports/pkg/core/validate"
	"annualreports/pkg/core/vocab"
	"annualreports/pkg/models"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Discoverer finds candidate annual-report links on an investor-relations page.
type Discoverer interface {
	Discover(ctx context.Context, irURL string) ([]models.CandidateLink, error)
}

// DocumentFetcher stores the document behind a candidate link.
type DocumentFetcher interface {
	Fetch(ctx context.Context, companyID string, candidate models.CandidateLink) (*models.AnnualReportDocument, error)
}

// TextExtractor turns a stored document into plain text.
type TextExtractor interface {
	Extract(ctx context.Context, doc *models.AnnualReportDocument) (string, error)
}

// StatementExtractor reads the three statements out of report text.
type StatementExtractor interface {
	Extract(ctx context.Context, text string, fiscalYear int, sourceFile string) (*models.YearExtraction, error)
}

// ExtractionRepository persists per-year extractions.
type ExtractionRepository interface {
	Get(ctx context.Context, companyID string, year int) (*models.YearExtraction, error)
	Save(ctx context.Context, rec *models.YearExtraction) error
	List(ctx context.Context, companyID string) ([]models.YearExtraction, error)
}

// ConsolidatedRepository persists consolidated records.
type ConsolidatedRepository interface {
	Save(ctx context.Context, rec *models.ConsolidatedFinancials) error
	Load(ctx context.Context, companyID string) (*models.ConsolidatedFinancials, error)
}

// RetryPolicy controls how rate-limited extraction calls are retried.
type RetryPolicy struct {
	Retries int
	Backoff time.Duration // multiplied by the attempt number
}

// DefaultRetryPolicy retries a throttled call twice.
var DefaultRetryPolicy = RetryPolicy{Retries: 2, Backoff: 30 * time.Second}

// Orchestrator wires the stages together. Browser may be nil.
type Orchestrator struct {
	Discoverer   Discoverer
	Fetcher      DocumentFetcher
	Text         TextExtractor
	Statements   StatementExtractor
	Extractions  ExtractionRepository
	Consolidated ConsolidatedRepository
	Browser      browser.Factory
	Locker       RunLocker
	Tracker      *Tracker
	Vocabulary   *vocab.Vocabulary
	Layout       store.Layout
	Retry        RetryPolicy
	Logger       *zap.Logger
	Now          func() time.Time
}

// NewOrchestrator creates an orchestrator with an in-process run lock.
func NewOrchestrator(d Discoverer, f DocumentFetcher, t TextExtractor, s StatementExtractor,
	extractions ExtractionRepository, consolidated ConsolidatedRepository, layout store.Layout, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		Discoverer:   d,
		Fetcher:      f,
		Text:         t,
		Statements:   s,
		Extractions:  extractions,
		Consolidated: consolidated,
		Locker:       NewLocalLocker(),
		Tracker:      NewTracker(),
		Vocabulary:   vocab.Default(),
		Layout:       layout,
		Retry:        DefaultRetryPolicy,
		Logger:       logger,
		Now:          time.Now,
	}
}

// Year outcome states.
const (
	OutcomeExtracted = "extracted"
	OutcomeReused    = "reused"
	OutcomeFailed    = "failed"
)

// YearOutcome records what happened to one candidate year.
type YearOutcome struct {
	FiscalYear int        `json:"fiscal_year"`
	SourceURL  string     `json:"source_url"`
	Status     string     `json:"status"`
	Stage      errs.Stage `json:"stage,omitempty"`
	Kind       string     `json:"kind,omitempty"`
	Error      string     `json:"error,omitempty"`
	Warnings   []string   `json:"warnings,omitempty"`
}

// RunReport summarizes one company run.
type RunReport struct {
	RunID      string                         `json:"run_id"`
	CompanyID  string                         `json:"company_id"`
	IRURL      string                         `json:"ir_url"`
	StartedAt  time.Time                      `json:"started_at"`
	FinishedAt time.Time                      `json:"finished_at"`
	Candidates int                            `json:"candidates"`
	Years      []YearOutcome                  `json:"years"`
	ExportPath string                         `json:"export_path,omitempty"`
	Outliers   []validate.Outlier             `json:"outliers,omitempty"`
	Record     *models.ConsolidatedFinancials `json:"-"`
}

// Succeeded counts the years with an extraction available after the run.
func (r *RunReport) Succeeded() int {
	n := 0
	for _, y := range r.Years {
		if y.Status != OutcomeFailed {
			n++
		}
	}
	return n
}

// RunForCompany executes the full pipeline for one company. Failures of a single
// candidate or year are recorded in the report and skipped; the returned error is
// a *errs.StageError for conditions that end the run.
func (o *Orchestrator) RunForCompany(ctx context.Context, companyID, irURL string) (*RunReport, error) {
	return o.run(ctx, uuid.NewString(), companyID, irURL)
}

func (o *Orchestrator) run(ctx context.Context, runID, companyID, irURL string) (*RunReport, error) {
	release, err := o.acquire(ctx, companyID)
	if err != nil {
		return nil, err
	}
	return o.runLocked(ctx, runID, companyID, irURL, release)
}

func (o *Orchestrator) acquire(ctx context.Context, companyID string) (func(), error) {
	if !store.ValidCompanyID(companyID) {
		return nil, eris.Errorf("invalid company id %q", companyID)
	}
	release, err := o.Locker.Acquire(ctx, companyID)
	if err != nil {
		return nil, errs.AtStage(errs.StageLock, err)
	}
	return release, nil
}

func (o *Orchestrator) runLocked(ctx context.Context, runID, companyID, irURL string, release func()) (*RunReport, error) {
	defer release()

	log := o.Logger.With(zap.String("company", companyID), zap.String("run_id", runID))
	report := &RunReport{RunID: runID, CompanyID: companyID, IRURL: irURL, StartedAt: o.Now().UTC()}
	o.Tracker.Start(companyID, runID, irURL, report.StartedAt)

	err := o.execute(ctx, report, log)
	report.FinishedAt = o.Now().UTC()
	o.Tracker.Finish(companyID, report, err, report.FinishedAt)
	if err != nil {
		log.Error("run failed", zap.String("stage", string(errs.StageOf(err))), zap.Error(err))
		return report, err
	}
	log.Info("run completed",
		zap.Int("years", report.Succeeded()),
		zap.Duration("elapsed", report.FinishedAt.Sub(report.StartedAt)))
	return report, nil
}

func (o *Orchestrator) execute(ctx context.Context, report *RunReport, log *zap.Logger) error {
	companyID := report.CompanyID

	// 1. Discovery
	o.Tracker.Stage(companyID, errs.StageDiscovery)
	candidates, err := o.Discoverer.Discover(ctx, report.IRURL)
	if err != nil {
		return errs.AtStage(errs.StageDiscovery, err)
	}
	report.Candidates = len(candidates)

	// 2. Download, one document at a time
	o.Tracker.Stage(companyID, errs.StageDownload)
	docs := o.fetchAll(ctx, companyID, candidates, report, log)
	if err := ctx.Err(); err != nil {
		return errs.AtStage(errs.StageDownload, eris.Wrap(err, "run interrupted"))
	}

	// 3. Text and statement extraction, paced by the adapter
	o.Tracker.Stage(companyID, errs.StageExtraction)
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return errs.AtStage(errs.StageExtraction, eris.Wrap(err, "run interrupted"))
		}
		stage, err := o.extractYear(ctx, doc, report, log)
		if err == nil {
			continue
		}
		if eris.Is(err, errs.ErrAuthentication) {
			return errs.AtStage(errs.StageExtraction, err)
		}
		report.Years = append(report.Years, failed(doc.FiscalYear, doc.SourceURL, stage, err))
		o.Tracker.Years(companyID, report.Years)
		log.Warn("year skipped", zap.Int("year", doc.FiscalYear), zap.String("stage", string(stage)), zap.Error(err))
	}

	// 4. Consolidation from every stored extraction
	o.Tracker.Stage(companyID, errs.StageConsolidation)
	rec, err := o.Consolidate(ctx, companyID)
	if err != nil {
		return errs.AtStage(errs.StageConsolidation, err)
	}
	report.Record = rec
	report.Outliers = validate.Outliers(rec, validate.DefaultOutlierPct)
	for _, o := range report.Outliers {
		log.Warn("suspicious year-over-year change",
			zap.String("statement", string(o.Statement)),
			zap.String("item", o.Item),
			zap.Int("year", o.Year),
			zap.String("reason", o.Reason))
	}

	// 5. Export
	o.Tracker.Stage(companyID, errs.StageExport)
	path, err := o.Export(rec)
	if err != nil {
		return errs.AtStage(errs.StageExport, err)
	}
	report.ExportPath = path
	return nil
}

// fetchAll downloads every candidate. The browser is shared by the whole phase and
// released before returning.
func (o *Orchestrator) fetchAll(ctx context.Context, companyID string, candidates []models.CandidateLink, report *RunReport, log *zap.Logger) []*models.AnnualReportDocument {
	session := browser.NewLazy(o.Browser, log)
	defer func() {
		if err := session.Close(); err != nil {
			log.Warn("browser release failed", zap.Error(err))
		}
	}()
	fetcher := o.Fetcher
	if f, ok := fetcher.(*fetch.Fetcher); ok && session.Available() {
		fetcher = f.WithBrowser(session)
	}

	var docs []*models.AnnualReportDocument
	for _, c := range candidates {
		if ctx.Err() != nil {
			break
		}
		doc, err := fetcher.Fetch(ctx, companyID, c)
		if err != nil {
			stage := errs.StageDownload
			if eris.Is(err, errs.ErrResolutionFailure) {
				stage = errs.StageResolution
			}
			report.Years = append(report.Years, failed(c.InferredYear, c.URL, stage, err))
			o.Tracker.Years(companyID, report.Years)
			log.Warn("document skipped", zap.Int("year", c.InferredYear), zap.String("url", c.URL), zap.Error(err))
			continue
		}
		docs = append(docs, doc)
	}
	return docs
}

// extractYear produces and stores the extraction of one document, reusing a stored
// extraction when there is one. The returned stage names where a failure happened.
func (o *Orchestrator) extractYear(ctx context.Context, doc *models.AnnualReportDocument, report *RunReport, log *zap.Logger) (errs.Stage, error) {
	companyID := report.CompanyID
	outcome := YearOutcome{FiscalYear: doc.FiscalYear, SourceURL: doc.SourceURL, Status: OutcomeReused}

	_, err := o.Extractions.Get(ctx, companyID, doc.FiscalYear)
	switch {
	case err == nil:
		log.Info("reusing stored extraction", zap.Int("year", doc.FiscalYear))
	case !eris.Is(err, store.ErrNotFound):
		return errs.StageExtraction, err
	default:
		text, err := o.Text.Extract(ctx, doc)
		if err != nil {
			return errs.StageTextExtract, err
		}
		rec, err := o.extractWithRetry(ctx, text, doc, log)
		if err != nil {
			return errs.StageExtraction, err
		}
		rec.CompanyID = companyID
		if err := o.Extractions.Save(ctx, rec); err != nil {
			return errs.StageExtraction, err
		}
		for _, c := range validate.Year(rec, validate.DefaultTolerance) {
			outcome.Warnings = append(outcome.Warnings, c.String())
			log.Warn("statement check failed", zap.Int("year", doc.FiscalYear), zap.String("check", c.Name))
		}
		outcome.Status = OutcomeExtracted
		log.Info("year extracted", zap.Int("year", doc.FiscalYear), zap.String("source", rec.SourceFile))
	}

	report.Years = append(report.Years, outcome)
	o.Tracker.Years(companyID, report.Years)
	return "", nil
}

// extractWithRetry calls the statement extractor, waiting and retrying when the
// service reports a rate limit.
func (o *Orchestrator) extractWithRetry(ctx context.Context, text string, doc *models.AnnualReportDocument, log *zap.Logger) (*models.YearExtraction, error) {
	source := filepath.Base(doc.LocalPath)
	for attempt := 1; ; attempt++ {
		rec, err := o.Statements.Extract(ctx, text, doc.FiscalYear, source)
		if err == nil || !eris.Is(err, errs.ErrRateLimit) || attempt > o.Retry.Retries {
			return rec, err
		}
		wait := o.Retry.Backoff * time.Duration(attempt)
		log.Warn("rate limited, retrying",
			zap.Int("year", doc.FiscalYear),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait))
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, eris.Wrap(ctx.Err(), "retry interrupted")
		case <-timer.C:
		}
	}
}

// Consolidate rebuilds and stores the consolidated record of a company from its
// stored extractions.
func (o *Orchestrator) Consolidate(ctx context.Context, companyID string) (*models.ConsolidatedFinancials, error) {
	extractions, err := o.Extractions.List(ctx, companyID)
	if err != nil {
		return nil, err
	}
	rec, err := consolidate.Consolidate(companyID, extractions, "", "", o.Now())
	if err != nil {
		return nil, err
	}
	if err := o.Consolidated.Save(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Export writes the company table into the company's exports directory and
// returns its path.
func (o *Orchestrator) Export(rec *models.ConsolidatedFinancials) (string, error) {
	dir := o.Layout.ExportsDir(rec.Company)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", eris.Wrapf(err, "failed to create %s", dir)
	}
	path := filepath.Join(dir, export.CompanyFileName(rec.Company))
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return "", eris.Wrapf(err, "failed to create %s", tmp)
	}
	if err := export.WriteCompany(f, rec, o.Vocabulary); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", eris.Wrapf(err, "failed to write %s", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", eris.Wrapf(err, "failed to move %s", path)
	}
	return path, nil
}

func failed(year int, source string, stage errs.Stage, err error) YearOutcome {
	return YearOutcome{
		FiscalYear: year,
		SourceURL:  source,
		Status:     OutcomeFailed,
		Stage:      stage,
		Kind:       errs.Kind(err),
		Error:      err.Error(),
	}
}

var nonIDChars = regexp.MustCompile(`[^a-z0-9]+`)

// DeriveCompanyID builds a company id from the host of an investor-relations URL,
// e.g. "https://www.acme-corp.com/investors" gives "acme-corp".
func DeriveCompanyID(irURL string) (string, error) {
	u, err := url.Parse(irURL)
	if err != nil || u.Hostname() == "" {
		return "", eris.Errorf("cannot derive company id from %q", irURL)
	}
	labels := strings.Split(strings.ToLower(u.Hostname()), ".")
	for len(labels) > 0 && isHostNoise(labels[0]) {
		labels = labels[1:]
	}
	if len(labels) > 1 {
		labels = labels[:len(labels)-1]
	}
	// Keep the registrable name, e.g. "acme" from "acme.co.uk".
	for len(labels) > 1 && secondLevel[labels[len(labels)-1]] {
		labels = labels[:len(labels)-1]
	}
	id := strings.Trim(nonIDChars.ReplaceAllString(strings.Join(labels, "-"), "-"), "-")
	if !store.ValidCompanyID(id) {
		return "", eris.Errorf("cannot derive company id from %q", irURL)
	}
	return id, nil
}

var secondLevel = map[string]bool{"co": true, "com": true, "net": true, "org": true, "ac": true, "gov": true}

func isHostNoise(label string) bool {
	switch label {
	case "www", "ir", "investors", "investor", "corporate":
		return true
	}
	return false
}
