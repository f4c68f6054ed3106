// Package browser provides the scripted browser used when a page only shows its
// links after JavaScript runs. A Session owns an external browser process and must
// be closed; Lazy defers starting it until a page actually needs rendering.
package browser

import (
	"context"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Page is a rendered document. URL is where the browser ended up after
// redirects and is the base for the page's relative links.
type Page struct {
	URL  string
	HTML string
}

// Renderer returns the markup of a page after scripts have run.
type Renderer interface {
	Render(ctx context.Context, url string) (*Page, error)
	Close() error
}

// Options configures a Session.
type Options struct {
	ExecPath   string // empty uses the chromedp lookup
	Headless   bool
	UserAgent  string
	NavTimeout time.Duration
	Settle     time.Duration // wait after load for late scripts
}

// Session is one running browser. It is not safe for concurrent Render calls.
type Session struct {
	opts        Options
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	mu          sync.Mutex
	closed      bool
}

// NewSession starts a browser process.
func NewSession(parent context.Context, opts Options) (*Session, error) {
	if opts.NavTimeout <= 0 {
		opts.NavTimeout = 60 * time.Second
	}
	if opts.Settle <= 0 {
		opts.Settle = 2 * time.Second
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
	)
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}
	if opts.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(opts.UserAgent))
	}

	// The browser outlives the caller's per-unit context; it is bound to Close instead.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.WithoutCancel(parent), allocOpts...)
	ctx, cancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(ctx); err != nil {
		cancel()
		allocCancel()
		return nil, eris.Wrap(err, "failed to start browser")
	}
	return &Session{opts: opts, ctx: ctx, cancel: cancel, allocCancel: allocCancel}, nil
}

// Render navigates to url and returns the document's outer HTML with the final
// location.
func (s *Session) Render(ctx context.Context, url string) (*Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, eris.New("browser session closed")
	}

	navCtx, cancel := context.WithTimeout(s.ctx, s.opts.NavTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var html, final string
	err := chromedp.Run(navCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(s.opts.Settle),
		chromedp.Location(&final),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to render %s", url)
	}
	if final == "" {
		final = url
	}
	return &Page{URL: final, HTML: html}, nil
}

// Close shuts the browser down. It is safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	err := chromedp.Cancel(s.ctx)
	s.cancel()
	s.allocCancel()
	if err != nil {
		return eris.Wrap(err, "failed to close browser")
	}
	return nil
}

// Factory starts a Renderer.
type Factory func(ctx context.Context) (Renderer, error)

// NewFactory returns a Factory producing chromedp sessions with opts.
func NewFactory(opts Options) Factory {
	return func(ctx context.Context) (Renderer, error) {
		s, err := NewSession(ctx, opts)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

// Lazy starts its Renderer on the first Render call and at most once. A failed
// start is remembered so later calls fail fast. Close releases whatever was started.
type Lazy struct {
	factory Factory
	logger  *zap.Logger

	mu      sync.Mutex
	r       Renderer
	err     error
	started bool
}

// NewLazy wraps factory. A nil factory yields a Lazy whose Render always fails.
func NewLazy(factory Factory, logger *zap.Logger) *Lazy {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Lazy{factory: factory, logger: logger}
}

// Available reports whether a browser can be used at all.
func (l *Lazy) Available() bool {
	return l != nil && l.factory != nil
}

func (l *Lazy) Render(ctx context.Context, url string) (*Page, error) {
	r, err := l.get(ctx)
	if err != nil {
		return nil, err
	}
	return r.Render(ctx, url)
}

func (l *Lazy) get(ctx context.Context) (Renderer, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started {
		return l.r, l.err
	}
	l.started = true
	if l.factory == nil {
		l.err = eris.New("no browser configured")
		return nil, l.err
	}
	l.logger.Debug("starting browser session")
	l.r, l.err = l.factory(ctx)
	return l.r, l.err
}

// Close releases the session if one was started.
func (l *Lazy) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.r == nil {
		return nil
	}
	err := l.r.Close()
	l.r = nil
	l.err = eris.New("browser session closed")
	l.logger.Debug("browser session released")
	return err
}
