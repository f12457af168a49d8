package session

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"go.uber.org/zap"

	"github.com/newsdeck/hn-ingest/internal/scraper"
)

func TestLauncherLoadAndClose(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<!doctype html><html><head><title>Fixture Front Page</title></head>`+
			`<body><table><tr class="athing" id="1"><td>row</td></tr></table></body></html>`)
	}))
	defer srv.Close()

	launcher, err := NewLauncher(Config{
		UserAgent:   "TestAgent",
		MaxParallel: 1,
		TitleMarker: "Fixture",
	}, nil, zap.NewNop())
	if err != nil {
		t.Skipf("chromedp unavailable: %v", err)
	}
	defer launcher.Close(context.Background())

	sess, err := launcher.Open(context.Background(), "run-test")
	if err != nil {
		t.Skipf("open session failed: %v", err)
	}
	defer sess.Close()

	doc, err := sess.Load(context.Background(), srv.URL, 10*time.Second)
	if err != nil {
		t.Skipf("load failed: %v", err)
	}
	if !strings.Contains(doc.HTML, "athing") {
		t.Fatal("loaded document missing listing row")
	}

	// Close is idempotent.
	if err := sess.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
}

func TestLauncherTitleMarkerMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<!doctype html><html><head><title>Access Denied</title></head><body>captcha</body></html>`)
	}))
	defer srv.Close()

	launcher, err := NewLauncher(Config{MaxParallel: 1, TitleMarker: "Fixture"}, nil, zap.NewNop())
	if err != nil {
		t.Skipf("chromedp unavailable: %v", err)
	}
	defer launcher.Close(context.Background())

	sess, err := launcher.Open(context.Background(), "run-marker")
	if err != nil {
		t.Skipf("open session failed: %v", err)
	}
	defer sess.Close()

	_, err = sess.Load(context.Background(), srv.URL, 10*time.Second)
	if err == nil {
		t.Fatal("expected navigation error for mismatched title")
	}
	if !strings.Contains(err.Error(), "unexpected page title") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestForwardCancelStops(t *testing.T) {
	t.Parallel()

	parent, cancelParent := context.WithCancel(context.Background())
	fired := make(chan struct{})
	stop := forwardCancel(parent, func() { close(fired) })
	defer stop()

	cancelParent()
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("cancel was not forwarded")
	}
}

// The capture side runs on the chromedp listener goroutine while Load reads
// the status after navigation; both directions must be safe concurrently.
func TestResponseMetaConcurrentCaptureAndSnapshot(t *testing.T) {
	t.Parallel()

	meta := newResponseMeta()
	ev := &network.EventResponseReceived{
		Type:     network.ResourceTypeDocument,
		Response: &network.Response{Status: 404},
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				meta.captureEvent(ev)
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				meta.snapshot()
			}
		}()
	}
	wg.Wait()

	if got := meta.snapshot(); got != 404 {
		t.Fatalf("snapshot() = %d, want 404", got)
	}
}

func TestResponseMetaIgnoresSubresources(t *testing.T) {
	t.Parallel()

	meta := newResponseMeta()
	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeImage,
		Response: &network.Response{Status: 500},
	})
	if got := meta.snapshot(); got != 0 {
		t.Fatalf("snapshot() = %d, want 0 for non-document response", got)
	}
}

var _ scraper.SessionFactory = (*Launcher)(nil)
var _ scraper.Session = (*Session)(nil)
