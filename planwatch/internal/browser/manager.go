// Package browser runs the Chrome instance the harvester drives: launch or
// remote connect via Rod, time and memory based recycling, and stealth tabs
// implementing portal.Page.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
)

// Mode selects how Chrome is displayed.
type Mode string

const (
	// Headless runs headless Chrome with stealth patches.
	Headless Mode = "headless"
	// Headful runs a visible Chrome on an Xvfb display, for portals that
	// fingerprint headless mode.
	Headful Mode = "headful"
)

// Config configures the browser manager.
type Config struct {
	// RemoteURL is the DevTools WebSocket URL of an external Chrome.
	// Empty launches a local Chrome.
	RemoteURL string `yaml:"remote_url"`
	// Bin is the Chrome binary. Empty lets the launcher find or download one.
	Bin string `yaml:"bin"`
	// Mode defaults to Headless.
	Mode Mode `yaml:"mode"`
	// ResourceBlocking lists resource types never loaded (images, fonts,
	// media, stylesheets). Default: images, fonts, media.
	ResourceBlocking []string `yaml:"resource_blocking"`
	// NavigateTimeout bounds one navigation. Default: 30s.
	NavigateTimeout time.Duration `yaml:"navigate_timeout"`
	// MemoryLimit in bytes of JS heap before Chrome is recycled. Default: 1GB.
	MemoryLimit int64 `yaml:"memory_limit"`
	// RecycleInterval is the maximum lifetime of a Chrome process. Default: 4h.
	RecycleInterval time.Duration `yaml:"recycle_interval"`
	// XvfbDisplay for headful mode. Default: ":99".
	XvfbDisplay string `yaml:"xvfb_display"`

	Logger *slog.Logger `yaml:"-"`
}

func (c *Config) defaults() {
	if c.Mode == "" {
		c.Mode = Headless
	}
	if c.ResourceBlocking == nil {
		c.ResourceBlocking = []string{"images", "fonts", "media"}
	}
	if c.NavigateTimeout <= 0 {
		c.NavigateTimeout = 30 * time.Second
	}
	if c.MemoryLimit <= 0 {
		c.MemoryLimit = 1 << 30
	}
	if c.RecycleInterval <= 0 {
		c.RecycleInterval = 4 * time.Hour
	}
	if c.XvfbDisplay == "" {
		c.XvfbDisplay = ":99"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Manager owns one Chrome process (or remote connection).
type Manager struct {
	cfg     Config
	mu      sync.RWMutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	xvfb    *exec.Cmd
	startAt time.Time
	closed  bool
}

// NewManager creates a Manager. Call Start before opening tabs.
func NewManager(cfg Config) *Manager {
	cfg.defaults()
	return &Manager{cfg: cfg}
}

// Start launches or connects to Chrome and starts the recycle monitor,
// which stops with ctx.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("browser: manager is closed")
	}
	b, err := m.launch()
	if err != nil {
		return err
	}
	m.browser = b
	m.startAt = time.Now()
	go m.monitorLoop(ctx)
	return nil
}

// Browser returns the current Rod browser. Nil before Start.
func (m *Manager) Browser() *rod.Browser {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.browser
}

// Recycle restarts Chrome. Open tabs become invalid.
func (m *Manager) Recycle() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("browser: manager is closed")
	}
	m.cfg.Logger.Info("browser: recycling", "uptime", time.Since(m.startAt))
	m.cleanup()
	b, err := m.launch()
	if err != nil {
		return fmt.Errorf("browser: relaunch: %w", err)
	}
	m.browser = b
	m.startAt = time.Now()
	return nil
}

// Close shuts down Chrome and Xvfb.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.cleanup()
	return nil
}

func (m *Manager) launch() (*rod.Browser, error) {
	log := m.cfg.Logger
	if m.cfg.Mode == Headful {
		if err := m.startXvfb(); err != nil {
			return nil, fmt.Errorf("browser: xvfb: %w", err)
		}
	}

	wsURL := m.cfg.RemoteURL
	if wsURL != "" {
		log.Info("browser: connecting to remote", "url", wsURL)
	} else {
		l := launcher.New().
			Headless(m.cfg.Mode != Headful).
			Set("disable-blink-features", "AutomationControlled").
			NoSandbox(true)
		if m.cfg.Mode == Headful {
			l = l.Env("DISPLAY=" + m.cfg.XvfbDisplay)
		}
		if m.cfg.Bin != "" {
			l = l.Bin(m.cfg.Bin)
		}
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("browser: launch: %w", err)
		}
		wsURL = u
		m.lnch = l
		log.Info("browser: launched local chrome", "url", wsURL, "mode", m.cfg.Mode)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("browser: connect: %w", err)
	}
	return b, nil
}

func (m *Manager) cleanup() {
	if m.browser != nil {
		m.browser.Close()
		m.browser = nil
	}
	if m.lnch != nil {
		m.lnch.Cleanup()
		m.lnch = nil
	}
	m.stopXvfb()
}

func (m *Manager) monitorLoop(ctx context.Context) {
	log := m.cfg.Logger
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		m.mu.RLock()
		closed, b, startAt := m.closed, m.browser, m.startAt
		m.mu.RUnlock()
		if closed || b == nil {
			return
		}

		if time.Since(startAt) > m.cfg.RecycleInterval {
			log.Info("browser: recycle interval reached")
			if err := m.Recycle(); err != nil {
				log.Error("browser: recycle failed", "error", err)
			}
			continue
		}
		used, err := jsHeapUsage(b)
		if err != nil {
			log.Debug("browser: heap check failed", "error", err)
			continue
		}
		if used > m.cfg.MemoryLimit {
			log.Info("browser: memory limit exceeded", "used", used, "limit", m.cfg.MemoryLimit)
			if err := m.Recycle(); err != nil {
				log.Error("browser: recycle failed", "error", err)
			}
		}
	}
}

// jsHeapUsage reads the JS heap of the first open page.
func jsHeapUsage(b *rod.Browser) (int64, error) {
	pages, err := b.Pages()
	if err != nil || len(pages) == 0 {
		return 0, fmt.Errorf("no pages for heap check")
	}
	res, err := pages[0].Eval(`() => performance.memory ? performance.memory.usedJSHeapSize : 0`)
	if err != nil {
		return 0, err
	}
	return int64(res.Value.Int()), nil
}
