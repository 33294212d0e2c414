package shim

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-loader/fetch"
)

// defaultBaseURL is the canonical shim distribution source. The
// version string is substituted for %s.
const defaultBaseURL = "https://shim.wippy.ai/wasm-loader/v%s/shim.wasm"

const defaultDownloadTimeout = 30 * time.Second

// Shim is the host-side support code a module needs to execute: a
// versioned support binary instantiated alongside the guest, or the
// builtin default when no binary is pinned.
type Shim struct {
	Version string
	Bytes   []byte // support module binary; nil for the builtin default
}

// Builtin reports whether this is the default shim with no support
// binary of its own.
func (s *Shim) Builtin() bool {
	return s.Bytes == nil
}

// Config holds shim management settings.
type Config struct {
	// BaseURL is the canonical download source; %s is replaced with
	// the version.
	BaseURL string

	// Dir roots the per-version on-disk cache. Empty disables it.
	Dir string

	// Timeout bounds a single version download.
	Timeout time.Duration
}

// Manager ensures the correct shim version is present, caching each
// downloaded version for reuse. Without a pin it hands out the
// builtin default.
type Manager struct {
	cfg    Config
	client *fetch.Client

	mu     sync.Mutex
	loaded map[string]*Shim
	def    *Shim
}

// NewManager creates a Manager on top of an acquisition client.
func NewManager(cfg Config, client *fetch.Client) *Manager {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultDownloadTimeout
	}
	return &Manager{
		cfg:    cfg,
		client: client,
		loaded: make(map[string]*Shim),
	}
}

// Default returns the builtin shim, creating it lazily on first use.
func (m *Manager) Default() *Shim {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.def == nil {
		m.def = &Shim{Version: "builtin"}
	}
	return m.def
}

// Ensure returns a shim satisfying the requested version pin. An
// already-loaded compatible version is reused; otherwise the pinned
// version is downloaded from the canonical source and cached. A
// failed pinned download falls back to the default shim with a
// warning rather than failing the load, since the module may remain
// ABI-compatible.
func (m *Manager) Ensure(ctx context.Context, version string) *Shim {
	if version == "" {
		return m.Default()
	}

	want, ok := ParseVersion(version)
	if !ok {
		Logger().Warn("unparsable shim version pin, using default",
			zap.String("version", version))
		return m.Default()
	}

	m.mu.Lock()
	if s, found := m.loaded[want.String()]; found {
		m.mu.Unlock()
		return s
	}
	// A newer compatible loaded version serves an older pin.
	for have, s := range m.loaded {
		if v, ok := ParseVersion(have); ok && v.Compatible(want) {
			m.mu.Unlock()
			return s
		}
	}
	m.mu.Unlock()

	s, err := m.acquire(ctx, want)
	if err != nil {
		Logger().Warn("pinned shim unavailable, falling back to default",
			zap.String("version", want.String()),
			zap.Error(err))
		return m.Default()
	}

	m.mu.Lock()
	m.loaded[want.String()] = s
	m.mu.Unlock()
	return s
}

func (m *Manager) acquire(ctx context.Context, want Version) (*Shim, error) {
	// Per-version disk cache first: downloads survive restarts.
	if m.cfg.Dir != "" {
		path := m.versionPath(want)
		if data, err := os.ReadFile(path); err == nil {
			Logger().Debug("shim served from disk",
				zap.String("version", want.String()))
			return &Shim{Version: want.String(), Bytes: data}, nil
		}
	}

	url := fmt.Sprintf(m.cfg.BaseURL, want.String())

	ctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	res, err := m.client.Fetch(ctx, url, fetch.Options{})
	if err != nil {
		return nil, err
	}

	if m.cfg.Dir != "" {
		path := m.versionPath(want)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err == nil {
			if err := os.WriteFile(path, res.Bytes, 0o644); err != nil {
				Logger().Warn("shim disk cache write failed",
					zap.String("version", want.String()), zap.Error(err))
			}
		}
	}

	Logger().Info("shim downloaded",
		zap.String("version", want.String()),
		zap.Int("size", len(res.Bytes)))
	return &Shim{Version: want.String(), Bytes: res.Bytes}, nil
}

func (m *Manager) versionPath(v Version) string {
	return filepath.Join(m.cfg.Dir, v.String(), "shim.wasm")
}
