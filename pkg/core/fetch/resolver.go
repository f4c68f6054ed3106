package fetch

import (
	"context"
	"net/url"
	"path"
	"regexp"
	"strings"

	"annualreports/pkg/core/browser"
	"annualreports/pkg/core/errs"
	"annualreports/pkg/core/ingest"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

const maxProbesPerStrategy = 15

// ViewerPage is the page behind a viewer link. Doc is nil when the page could
// not be loaded; URL-based strategies still apply.
type ViewerPage struct {
	URL  *url.URL
	HTML string
	Doc  *goquery.Document
}

// Strategy proposes direct-document URLs for a viewer page, best guess first.
type Strategy struct {
	Name       string
	Candidates func(page *ViewerPage) []string
}

// Prober reports the media type served at a URL and fetches pages.
type Prober interface {
	Probe(ctx context.Context, target string) (string, error)
	GetPage(ctx context.Context, pageURL string) (*ingest.Page, error)
}

// Resolver turns viewer links into direct document URLs by trying its
// strategies in order until a proposed URL serves a binary document.
type Resolver struct {
	Client     Prober
	Browser    browser.Renderer // optional; rendered markup exposes script-built links
	Strategies []Strategy
	Logger     *zap.Logger
}

// NewResolver creates a resolver with the default strategy chain.
func NewResolver(client Prober, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{Client: client, Strategies: DefaultStrategies(), Logger: logger}
}

// DefaultStrategies is the resolution order: explicit download affordance,
// embedded frame or object, URL patterns in markup, guesses from the URL shape.
func DefaultStrategies() []Strategy {
	return []Strategy{
		{Name: "download-affordance", Candidates: downloadAffordances},
		{Name: "embedded-source", Candidates: embeddedSources},
		{Name: "markup-pattern", Candidates: markupPatterns},
		{Name: "constructed-guess", Candidates: constructedGuesses},
	}
}

// Resolve returns the first proposed URL whose probe shows a binary document.
func (r *Resolver) Resolve(ctx context.Context, viewerURL string) (string, error) {
	page, err := r.load(ctx, viewerURL)
	if err != nil {
		return "", eris.Wrapf(errs.ErrResolutionFailure, "invalid viewer url %s", viewerURL)
	}
	log := r.Logger.With(zap.String("url", viewerURL))

	tried := map[string]bool{viewerURL: true}
	for _, s := range r.Strategies {
		probes := 0
		for _, candidate := range s.Candidates(page) {
			if tried[candidate] {
				continue
			}
			tried[candidate] = true
			if probes == maxProbesPerStrategy {
				break
			}
			probes++
			if err := ctx.Err(); err != nil {
				return "", eris.Wrap(err, "resolution interrupted")
			}

			ct, err := r.Client.Probe(ctx, candidate)
			if err != nil {
				log.Debug("probe failed", zap.String("candidate", candidate), zap.Error(err))
				continue
			}
			if ingest.IsDocumentType(ct) {
				log.Info("viewer resolved", zap.String("strategy", s.Name), zap.String("direct", candidate))
				return candidate, nil
			}
		}
	}
	return "", eris.Wrapf(errs.ErrResolutionFailure, "%s", viewerURL)
}

func (r *Resolver) load(ctx context.Context, viewerURL string) (*ViewerPage, error) {
	u, err := url.Parse(viewerURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, eris.Errorf("not an http url: %q", viewerURL)
	}
	page := &ViewerPage{URL: u}

	if r.Browser != nil {
		if rendered, err := r.Browser.Render(ctx, viewerURL); err == nil {
			page.HTML = rendered.HTML
			if final, err := url.Parse(rendered.URL); err == nil && final.Scheme != "" {
				page.URL = final
			}
		} else {
			r.Logger.Debug("viewer render failed", zap.String("url", viewerURL), zap.Error(err))
		}
	}
	if page.HTML == "" {
		if p, err := r.Client.GetPage(ctx, viewerURL); err == nil && ingest.IsHTMLType(p.ContentType) {
			page.HTML = p.HTML
			page.URL = p.URL
		}
	}
	if page.HTML != "" {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.HTML)); err == nil {
			page.Doc = doc
		}
	}
	return page, nil
}

var downloadText = regexp.MustCompile(`(?i)download|\bpdf\b`)

func downloadAffordances(page *ViewerPage) []string {
	if page.Doc == nil {
		return nil
	}
	var out []string
	page.Doc.Find("a[href], [data-download-url], [data-href]").Each(func(_ int, s *goquery.Selection) {
		ref := firstAttr(s, "data-download-url", "href", "data-href")
		link := ingest.Resolve(page.URL, ref)
		if link == "" {
			return
		}
		_, hasDownload := s.Attr("download")
		_, isData := s.Attr("data-download-url")
		label := s.Text() + " " + s.AttrOr("title", "") + " " + s.AttrOr("aria-label", "")
		if hasDownload || isData || downloadText.MatchString(label) || isPDFPath(link) {
			out = append(out, link)
		}
	})
	return out
}

func embeddedSources(page *ViewerPage) []string {
	if page.Doc == nil {
		return nil
	}
	var out []string
	page.Doc.Find("iframe[src], embed[src], object[data]").Each(func(_ int, s *goquery.Selection) {
		link := ingest.Resolve(page.URL, firstAttr(s, "src", "data"))
		if link == "" {
			return
		}
		// pdf.js style viewers carry the document in a query parameter.
		out = append(out, queryTargets(link)...)
		out = append(out, link)
	})
	return out
}

var (
	absolutePDF  = regexp.MustCompile(`https?://[^\s"'<>()]+?\.pdf(?:\?[^\s"'<>()]*)?`)
	quotedPDF    = regexp.MustCompile(`["']([^"'\s<>]+?\.pdf(?:\?[^"'\s<>]*)?)["']`)
	assignedFile = regexp.MustCompile(`(?i)["']?(?:file|pdfurl|pdf_url|documenturl|document_url|downloadurl|download_url)["']?\s*[:=]\s*["']([^"']+)["']`)
	hiddenInput  = regexp.MustCompile(`(?i)name=["'](?:pdfurl|file|document|url)["']\s+value=["']([^"']+)["']`)
)

func markupPatterns(page *ViewerPage) []string {
	if page.HTML == "" {
		return nil
	}
	html := strings.ReplaceAll(page.HTML, `\/`, "/")
	out := absolutePDF.FindAllString(html, -1)
	for _, re := range []*regexp.Regexp{assignedFile, hiddenInput, quotedPDF} {
		for _, m := range re.FindAllStringSubmatch(html, -1) {
			if link := ingest.Resolve(page.URL, decode(m[1])); link != "" {
				out = append(out, link)
			}
		}
	}
	return out
}

var targetParams = []string{"file", "url", "doc", "src", "document", "pdf"}

func constructedGuesses(page *ViewerPage) []string {
	u := page.URL
	out := queryTargets(u.String())

	swaps := []struct{ from, to string }{
		{"/view/", "/download/"},
		{"/viewer/", "/download/"},
		{"/view", "/download"},
		{"viewer", "download"},
		{"/preview/", "/download/"},
	}
	for _, s := range swaps {
		if strings.Contains(u.Path, s.from) {
			g := *u
			g.Path = strings.Replace(u.Path, s.from, s.to, 1)
			out = append(out, g.String())
		}
	}

	q := u.Query()
	q.Set("download", "1")
	g := *u
	g.RawQuery = q.Encode()
	out = append(out, g.String())

	if path.Ext(u.Path) == "" && u.Path != "" && u.Path != "/" {
		g := *u
		g.Path = strings.TrimSuffix(u.Path, "/") + ".pdf"
		out = append(out, g.String())
	}
	return out
}

// queryTargets returns the URLs carried in well-known query parameters of link.
func queryTargets(link string) []string {
	u, err := url.Parse(link)
	if err != nil {
		return nil
	}
	var out []string
	q := u.Query()
	for _, name := range targetParams {
		for _, v := range q[name] {
			if target := ingest.Resolve(u, v); target != "" {
				out = append(out, target)
			}
		}
	}
	return out
}

func firstAttr(s *goquery.Selection, names ...string) string {
	for _, n := range names {
		if v, ok := s.Attr(n); ok && strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func isPDFPath(link string) bool {
	u, err := url.Parse(link)
	if err != nil {
		return false
	}
	return strings.EqualFold(path.Ext(u.Path), ".pdf")
}

func decode(s string) string {
	if v, err := url.QueryUnescape(s); err == nil {
		return v
	}
	return s
}
