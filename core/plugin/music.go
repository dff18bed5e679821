package plugin

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"VKMBot/model"
)

const (
	MinResults     = 1
	MaxResults     = 10
	DefaultResults = 5
)

var (
	ErrEmptyQuery          = errors.New("empty search query")
	ErrNoPlugin            = errors.New("no music plugin registered")
	ErrProviderUnavailable = errors.New("search provider unavailable")
	ErrNotFound            = errors.New("nothing downloadable at locator")
	ErrRateLimited         = errors.New("provider rate limited")
	ErrTimeout             = errors.New("provider timed out")
	ErrExtraction          = errors.New("audio extraction failed")
	ErrLocalIO             = errors.New("local write failed")
)

// IsTransient reports whether a fetch error is worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrExtraction)
}

// NormalizeQuery trims the query and rejects empty input.
func NormalizeQuery(query string) (string, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return "", ErrEmptyQuery
	}
	return q, nil
}

// ClampResults bounds a requested result count to MinResults..MaxResults.
func ClampResults(n int) int {
	if n < MinResults {
		return MinResults
	}
	if n > MaxResults {
		return MaxResults
	}
	return n
}

// FetchRequest asks a plugin to materialize audio for one locator.
type FetchRequest struct {
	Locator string
	// OutputTemplate is "<dir>/<base>.%(ext)s"; the plugin substitutes the
	// final extension.
	OutputTemplate string
	Format         string
	Bitrate        string
	Progress       func(downloaded, total int64)
}

const extPlaceholder = "%(ext)s"

// OutputPath resolves the template for a concrete extension.
func (r FetchRequest) OutputPath(ext string) string {
	return strings.Replace(r.OutputTemplate, extPlaceholder, ext, 1)
}

// Report forwards progress when a callback is set.
func (r FetchRequest) Report(downloaded, total int64) {
	if r.Progress != nil {
		r.Progress(downloaded, total)
	}
}

// MusicPlugin is a search and retrieval backend.
type MusicPlugin interface {
	// Search returns at most maxResults candidates, in provider order.
	// Finding nothing is not an error.
	Search(ctx context.Context, query string, maxResults int) ([]model.Candidate, error)

	// Fetch downloads the locator's audio into req.OutputTemplate.
	Fetch(ctx context.Context, req FetchRequest) error

	GetSource() string
}

// MusicPluginManager keeps the registered plugins.
type MusicPluginManager struct {
	mu            sync.RWMutex
	plugins       map[string]MusicPlugin
	defaultSource string
}

func NewMusicPluginManager(defaultSource string) *MusicPluginManager {
	return &MusicPluginManager{
		plugins:       make(map[string]MusicPlugin),
		defaultSource: defaultSource,
	}
}

// Register adds or replaces a plugin under its source name.
func (m *MusicPluginManager) Register(plugin MusicPlugin) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plugins[plugin.GetSource()] = plugin
}

func (m *MusicPluginManager) Get(source string) MusicPlugin {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.plugins[source]
}

// GetDefault returns the plugin configured as default.
func (m *MusicPluginManager) GetDefault() MusicPlugin {
	return m.Get(m.defaultSource)
}

func (m *MusicPluginManager) Sources() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.plugins))
	for name := range m.plugins {
		out = append(out, name)
	}
	return out
}

// Search runs the query against the default plugin.
func (m *MusicPluginManager) Search(ctx context.Context, query string, maxResults int) ([]model.Candidate, error) {
	p := m.GetDefault()
	if p == nil {
		return nil, fmt.Errorf("%w: %q", ErrNoPlugin, m.defaultSource)
	}
	q, err := NormalizeQuery(query)
	if err != nil {
		return nil, err
	}
	return p.Search(ctx, q, ClampResults(maxResults))
}

// Fetch retrieves through the default plugin.
func (m *MusicPluginManager) Fetch(ctx context.Context, req FetchRequest) error {
	p := m.GetDefault()
	if p == nil {
		return fmt.Errorf("%w: %q", ErrNoPlugin, m.defaultSource)
	}
	return p.Fetch(ctx, req)
}

func (m *MusicPluginManager) GetSource() string {
	return m.defaultSource
}
