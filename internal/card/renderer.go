// Package card renders styled word-card images by filling an HTML template
// and screenshotting it in a headless Chromium driven through go-rod.
package card

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const cardSelector = "#card"

// Config holds browser configuration.
type Config struct {
	ChromeBin       string
	ViewportWidth   int
	ViewportHeight  int
	RenderTimeoutMs int
}

func (c Config) viewportWidth() int {
	if c.ViewportWidth == 0 {
		return 760
	}
	return c.ViewportWidth
}

func (c Config) viewportHeight() int {
	if c.ViewportHeight == 0 {
		return 900
	}
	return c.ViewportHeight
}

func (c Config) renderTimeout() time.Duration {
	if c.RenderTimeoutMs == 0 {
		return 20 * time.Second
	}
	return time.Duration(c.RenderTimeoutMs) * time.Millisecond
}

// Renderer owns a lazily-launched headless browser shared across renders.
type Renderer struct {
	cfg    Config
	logger *zap.SugaredLogger

	mu      sync.Mutex
	browser *rod.Browser
}

func NewRenderer(cfg Config, logger *zap.SugaredLogger) *Renderer {
	return &Renderer{cfg: cfg, logger: logger}
}

// Render produces a PNG of the card for one word.
func (r *Renderer) Render(ctx context.Context, data Data) ([]byte, error) {
	html, err := FillTemplate(data)
	if err != nil {
		return nil, err
	}

	path := filepath.Join(os.TempDir(), "vocabcard-"+uuid.NewString()+".html")
	if err := os.WriteFile(path, html, 0o600); err != nil {
		return nil, fmt.Errorf("write card html: %w", err)
	}
	defer func() {
		if err := os.Remove(path); err != nil {
			r.logger.Warnw("remove card html failed", "path", path, "err", err)
		}
	}()

	browser, err := r.ensureBrowser()
	if err != nil {
		return nil, err
	}

	page, err := browser.Page(proto.TargetCreateTarget{URL: "file://" + path})
	if err != nil {
		return nil, fmt.Errorf("open card page: %w", err)
	}
	defer func() {
		if err := page.Close(); err != nil {
			r.logger.Warnw("close card page failed", "err", err)
		}
	}()

	page = page.Context(ctx).Timeout(r.cfg.renderTimeout())

	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             r.cfg.viewportWidth(),
		Height:            r.cfg.viewportHeight(),
		DeviceScaleFactor: 2,
	}); err != nil {
		return nil, fmt.Errorf("set viewport: %w", err)
	}

	if err := page.WaitLoad(); err != nil {
		return nil, fmt.Errorf("wait card load: %w", err)
	}

	el, err := page.Element(cardSelector)
	if err != nil {
		return nil, fmt.Errorf("find card element: %w", err)
	}

	png, err := el.Screenshot(proto.PageCaptureScreenshotFormatPng, 0)
	if err != nil {
		return nil, fmt.Errorf("screenshot card: %w", err)
	}

	return png, nil
}

// ensureBrowser connects to the shared browser, launching or relaunching
// Chromium when there is no healthy connection.
func (r *Renderer) ensureBrowser() (*rod.Browser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.browser != nil {
		if _, err := r.browser.Version(); err == nil {
			return r.browser, nil
		}
		r.logger.Warnw("stale browser connection, relaunching")
		_ = r.browser.Close()
		r.browser = nil
	}

	launch := launcher.New().Headless(true)
	if r.cfg.ChromeBin != "" {
		launch = launch.Bin(r.cfg.ChromeBin)
	}

	controlURL, err := launch.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch chromium: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect to chromium: %w", err)
	}

	r.browser = browser
	return browser, nil
}

// Close shuts the shared browser down. Safe to call when nothing launched.
func (r *Renderer) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.browser == nil {
		return
	}
	if err := r.browser.Close(); err != nil {
		r.logger.Warnw("close browser failed", "err", err)
	}
	r.browser = nil
}
