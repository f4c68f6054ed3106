// Package fetch turns candidate links into annual-report documents on disk.
package fetch

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"annualreports/pkg/core/browser"
	"annualreports/pkg/core/errs"
	"annualreports/pkg/core/ingest"
	"annualreports/pkg/models"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

const (
	DefaultMinSizeBytes    = 1024
	DefaultDownloadTimeout = 120 * time.Second
)

var pdfMagic = []byte("%PDF")

// DocumentStore records downloaded documents.
type DocumentStore interface {
	FindDocument(companyID string, year int) (*models.AnnualReportDocument, bool)
	DocumentPath(companyID string, year int, ext string) string
	SaveDocument(doc *models.AnnualReportDocument) error
}

// Downloader opens document downloads.
type Downloader interface {
	Open(ctx context.Context, target string) (*http.Response, error)
}

// Fetcher downloads and validates annual reports. Documents already on disk are
// reused; at most one fetch per (company, year) runs at a time.
type Fetcher struct {
	Store           DocumentStore
	Client          Prober     // page reads and probes
	Downloads       Downloader // long-running document downloads
	Resolver        *Resolver
	MinSizeBytes    int64
	DownloadTimeout time.Duration
	Logger          *zap.Logger
	Now             func() time.Time

	locks *keyedMutex
}

// New creates a Fetcher. downloads may be the same client as client when one
// timeout fits both.
func New(store DocumentStore, client Prober, downloads Downloader, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		Store:           store,
		Client:          client,
		Downloads:       downloads,
		Resolver:        NewResolver(client, logger),
		MinSizeBytes:    DefaultMinSizeBytes,
		DownloadTimeout: DefaultDownloadTimeout,
		Logger:          logger,
		Now:             time.Now,
		locks:           &keyedMutex{},
	}
}

// WithBrowser returns a Fetcher sharing f's store and locks whose resolver
// renders viewer pages with r.
func (f *Fetcher) WithBrowser(r browser.Renderer) *Fetcher {
	c := *f
	resolver := *f.Resolver
	resolver.Browser = r
	c.Resolver = &resolver
	return &c
}

// Fetch stores the document behind candidate as the company's report for the
// candidate's fiscal year.
func (f *Fetcher) Fetch(ctx context.Context, companyID string, candidate models.CandidateLink) (*models.AnnualReportDocument, error) {
	year := candidate.InferredYear
	if year == 0 {
		return nil, eris.Wrapf(errs.ErrDownloadFailure, "candidate %s has no fiscal year", candidate.URL)
	}
	unlock := f.locks.Lock(companyID + "/" + strconv.Itoa(year))
	defer unlock()

	log := f.Logger.With(zap.String("company", companyID), zap.Int("year", year), zap.String("url", candidate.URL))

	if doc, ok := f.Store.FindDocument(companyID, year); ok {
		log.Info("reusing stored document", zap.String("path", doc.LocalPath))
		return doc, nil
	}

	direct, err := f.directURL(ctx, candidate)
	if err != nil {
		return nil, err
	}
	doc, err := f.download(ctx, companyID, year, direct, candidate.Format)
	if err != nil {
		return nil, err
	}
	log.Info("document stored", zap.String("path", doc.LocalPath), zap.Int64("bytes", doc.SizeBytes))
	return doc, nil
}

// directURL returns the URL that serves the document itself, resolving viewer
// pages when needed.
func (f *Fetcher) directURL(ctx context.Context, c models.CandidateLink) (string, error) {
	if isPDFPath(c.URL) {
		return c.URL, nil
	}
	ct, err := f.Client.Probe(ctx, c.URL)
	if err == nil {
		if ingest.IsDocumentType(ct) {
			return c.URL, nil
		}
		if c.Format == models.FormatXHTML && ingest.IsHTMLType(ct) {
			return c.URL, nil
		}
	}
	return f.Resolver.Resolve(ctx, c.URL)
}

func (f *Fetcher) download(ctx context.Context, companyID string, year int, src string, format models.DocumentFormat) (*models.AnnualReportDocument, error) {
	ctx, cancel := context.WithTimeout(ctx, f.DownloadTimeout)
	defer cancel()

	resp, err := f.Downloads.Open(ctx, src)
	if err != nil {
		return nil, eris.Wrapf(errs.ErrDownloadFailure, "%v", err)
	}
	defer resp.Body.Close()

	ct := ingest.MediaType(resp.Header.Get("Content-Type"))
	xhtml := format == models.FormatXHTML && ingest.IsHTMLType(ct)
	if !xhtml && !ingest.IsDocumentType(ct) {
		return nil, eris.Wrapf(errs.ErrDownloadFailure, "%s served %q, not a document", src, ct)
	}

	body := bufio.NewReader(resp.Body)
	ext := ".pdf"
	if xhtml {
		ext = ".xhtml"
	} else {
		head, _ := body.Peek(len(pdfMagic))
		if !bytes.Equal(head, pdfMagic) {
			return nil, eris.Wrapf(errs.ErrDownloadFailure, "%s is not a PDF", src)
		}
		ct = "application/pdf"
	}

	final := f.Store.DocumentPath(companyID, year, ext)
	size, err := writeFile(final, body)
	if err != nil {
		return nil, eris.Wrapf(errs.ErrDownloadFailure, "%s: %v", src, err)
	}
	if size < f.MinSizeBytes {
		os.Remove(final)
		return nil, eris.Wrapf(errs.ErrDownloadFailure, "%s is only %d bytes", src, size)
	}

	doc := &models.AnnualReportDocument{
		CompanyID:    companyID,
		FiscalYear:   year,
		SourceURL:    src,
		LocalPath:    final,
		SizeBytes:    size,
		ContentType:  ct,
		DownloadedAt: f.Now().UTC(),
	}
	if err := f.Store.SaveDocument(doc); err != nil {
		os.Remove(final)
		return nil, eris.Wrapf(errs.ErrDownloadFailure, "failed to record %s: %v", final, err)
	}
	return doc, nil
}

// writeFile streams r to final through a .part file that is removed on failure.
func writeFile(final string, r io.Reader) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(final), 0755); err != nil {
		return 0, err
	}
	part := final + ".part"
	file, err := os.Create(part)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(file, r)
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Rename(part, final)
	}
	if err != nil {
		os.Remove(part)
		return 0, err
	}
	return n, nil
}
