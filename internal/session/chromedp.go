// Package session manages isolated browser automation contexts via chromedp.
// The Launcher owns one shared headless browser; each run gets its own tab
// context which is torn down when the run finishes, successfully or not.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/newsdeck/hn-ingest/internal/scraper"
)

// Config controls browser behavior shared across runs.
type Config struct {
	UserAgent string
	// NavQPS rate-limits navigations against the single source host.
	NavQPS float64
	// MaxParallel bounds concurrently open run contexts.
	MaxParallel int
	// TitleMarker, when set, must appear in the loaded page title; a
	// mismatch (captcha or error interstitial) is a navigation error.
	TitleMarker string
}

// Launcher owns the shared browser and opens per-run sessions.
type Launcher struct {
	allocatorCancel context.CancelFunc
	browserCtx      context.Context
	browserCancel   context.CancelFunc
	limiter         *rate.Limiter
	sem             chan struct{}
	artifacts       scraper.ArtifactSink
	logger          *zap.Logger
	cfg             Config
}

// NewLauncher starts the headless browser. Launch failures wrap
// ErrSessionUnavailable so callers can classify them.
func NewLauncher(cfg Config, artifacts scraper.ArtifactSink, logger *zap.Logger) (*Launcher, error) {
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 2
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := chromedp.DefaultExecAllocatorOptions[:]
	opts = append(opts,
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		allocatorCancel()
		browserCancel()
		return nil, fmt.Errorf("chromedp warmup: %w: %w", scraper.ErrSessionUnavailable, err)
	}

	var limiter *rate.Limiter
	if cfg.NavQPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.NavQPS), 1)
	}

	return &Launcher{
		allocatorCancel: allocatorCancel,
		browserCtx:      browserCtx,
		browserCancel:   browserCancel,
		limiter:         limiter,
		sem:             make(chan struct{}, cfg.MaxParallel),
		artifacts:       artifacts,
		logger:          logger,
		cfg:             cfg,
	}, nil
}

// Open implements scraper.SessionFactory. It blocks while all parallel
// slots are busy and returns an isolated tab context for the run.
func (l *Launcher) Open(ctx context.Context, correlationID string) (scraper.Session, error) {
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("acquire browser slot: %w: %w", scraper.ErrSessionUnavailable, ctx.Err())
	}

	tabCtx, cancelTab := chromedp.NewContext(l.browserCtx)
	// Materialize the tab so an unusable browser fails here, not mid-run.
	if err := chromedp.Run(tabCtx); err != nil {
		cancelTab()
		<-l.sem
		return nil, fmt.Errorf("open tab for %s: %w: %w", correlationID, scraper.ErrSessionUnavailable, err)
	}

	l.logger.Info("browser context opened", zap.String("correlation_id", correlationID))
	return &Session{
		correlationID: correlationID,
		tabCtx:        tabCtx,
		cancelTab:     cancelTab,
		release:       func() { <-l.sem },
		limiter:       l.limiter,
		artifacts:     l.artifacts,
		titleMarker:   l.cfg.TitleMarker,
		logger:        l.logger.With(zap.String("correlation_id", correlationID)),
	}, nil
}

// Close tears down the shared browser and allocator.
func (l *Launcher) Close(ctx context.Context) error {
	if l == nil {
		return nil
	}
	done := make(chan error, 1)
	go func() { done <- chromedp.Cancel(l.browserCtx) }()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = fmt.Errorf("browser shutdown: %w", ctx.Err())
	}
	l.browserCancel()
	l.allocatorCancel()
	return err
}

// Session is one run's isolated browser context.
type Session struct {
	correlationID string
	tabCtx        context.Context
	cancelTab     context.CancelFunc
	release       func()
	limiter       *rate.Limiter
	artifacts     scraper.ArtifactSink
	titleMarker   string
	logger        *zap.Logger

	closeOnce sync.Once
}

// Load navigates the session's tab to url and returns the rendered DOM.
// Failures are classified as ErrNavigationTimeout or ErrNavigationError and
// capture a best-effort diagnostic screenshot before returning.
func (s *Session) Load(ctx context.Context, url string, timeout time.Duration) (scraper.Document, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return scraper.Document{}, fmt.Errorf("navigation rate limit: %w", err)
		}
	}

	taskCtx, cancelTask := context.WithTimeout(s.tabCtx, timeout)
	defer cancelTask()
	stopForward := forwardCancel(ctx, cancelTask)
	defer stopForward()

	meta := newResponseMeta()
	recordResponse(taskCtx, meta)

	var html, title string
	tasks := chromedp.Tasks{
		network.Enable(),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Title(&title),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(taskCtx, tasks); err != nil {
		return scraper.Document{}, s.loadFailure(url, err)
	}

	if status := meta.snapshot(); status >= 400 {
		err := fmt.Errorf("load %s: http status %d: %w", url, status, scraper.ErrNavigationError)
		s.captureSnapshot(url, "http_error")
		return scraper.Document{}, err
	}
	if s.titleMarker != "" && !strings.Contains(title, s.titleMarker) {
		err := fmt.Errorf("load %s: unexpected page title %q: %w", url, title, scraper.ErrNavigationError)
		s.captureSnapshot(url, "unexpected_page")
		return scraper.Document{}, err
	}

	return scraper.Document{URL: url, HTML: html}, nil
}

// Close releases the tab context and parallel slot. Idempotent and
// guaranteed safe to call after any failure.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.cancelTab()
		s.release()
		s.logger.Info("browser context closed")
	})
	return nil
}

func (s *Session) loadFailure(url string, err error) error {
	s.captureSnapshot(url, "navigation_failed")
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("load %s: %w: %w", url, scraper.ErrNavigationTimeout, err)
	}
	return fmt.Errorf("load %s: %w: %w", url, scraper.ErrNavigationError, err)
}

// captureSnapshot saves a screenshot artifact for post-mortem inspection.
// Best-effort: it must never raise past this boundary.
func (s *Session) captureSnapshot(url, reason string) {
	if s.artifacts == nil {
		return
	}
	snapCtx, cancel := context.WithTimeout(s.tabCtx, 10*time.Second)
	defer cancel()

	var shot []byte
	if err := chromedp.Run(snapCtx, chromedp.CaptureScreenshot(&shot)); err != nil {
		s.logger.Warn("snapshot capture failed", zap.String("url", url), zap.Error(err))
		return
	}
	name := fmt.Sprintf("%s_%s_%d.png", s.correlationID, reason, time.Now().UTC().UnixMilli())
	uri, err := s.artifacts.Put(context.Background(), name, "image/png", shot)
	if err != nil {
		s.logger.Warn("snapshot store failed", zap.String("url", url), zap.Error(err))
		return
	}
	s.logger.Info("failure snapshot captured",
		zap.String("url", url),
		zap.String("reason", reason),
		zap.String("artifact", uri),
	)
}

// responseMeta collects the document response status from the chromedp
// event listener goroutine; all access goes through the mutex.
type responseMeta struct {
	mu     sync.RWMutex
	status int
}

func newResponseMeta() *responseMeta {
	return &responseMeta{}
}

func (m *responseMeta) capture(ev *network.EventResponseReceived) {
	if ev.Type != network.ResourceTypeDocument || ev.Response == nil {
		return
	}
	m.mu.Lock()
	m.status = int(ev.Response.Status)
	m.mu.Unlock()
}

func (m *responseMeta) captureEvent(ev any) {
	if resp, ok := ev.(*network.EventResponseReceived); ok {
		m.capture(resp)
	}
}

func (m *responseMeta) snapshot() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

func recordResponse(tabCtx context.Context, meta *responseMeta) {
	chromedp.ListenTarget(tabCtx, meta.captureEvent)
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
