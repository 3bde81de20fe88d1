// Package pricing resolves per-model token costs and context limits from
// a LiteLLM-format price snapshot, with process-lifetime custom entries
// layered on top.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/davidbz/conduit/internal/domain"
	"github.com/davidbz/conduit/internal/observability"
)

// DefaultSnapshotURL is the upstream LiteLLM price document.
const DefaultSnapshotURL = "https://raw.githubusercontent.com/BerriAI/litellm/main/model_prices_and_context_window.json"

const defaultFetchTimeout = 30 * time.Second

// SnapshotStore persists the most recently refreshed snapshot.
type SnapshotStore interface {
	// Load returns the stored snapshot or ErrNoSnapshot.
	Load(ctx context.Context) ([]byte, error)

	// Save stores a snapshot, replacing any previous one.
	Save(ctx context.Context, data []byte) error
}

// ErrNoSnapshot indicates that a store holds no snapshot.
var ErrNoSnapshot = errors.New("no stored price snapshot")

// Lookup filter presets.
//
//nolint:gochecknoglobals // Read-only presets
var (
	Exact   = domain.QualityFilter{}
	Similar = domain.QualityFilter{AllowSimilar: true}
)

// Table is the price lookup source. The base snapshot is loaded lazily
// from the bundled document and replaced wholesale on Refresh; custom
// entries are consulted first and survive a refresh.
type Table struct {
	mu       sync.RWMutex
	base     index
	custom   index
	seed     []byte
	url      string
	client   *http.Client
	store    SnapshotStore
	loadedAt time.Time
}

// TableOption configures a Table.
type TableOption func(*Table)

// WithSnapshotURL sets the remote document fetched by Refresh.
func WithSnapshotURL(url string) TableOption {
	return func(t *Table) {
		if url != "" {
			t.url = url
		}
	}
}

// WithHTTPClient sets the client used by Refresh.
func WithHTTPClient(client *http.Client) TableOption {
	return func(t *Table) {
		if client != nil {
			t.client = client
		}
	}
}

// WithStore persists refreshed snapshots and lets Warm reuse them.
func WithStore(store SnapshotStore) TableOption {
	return func(t *Table) {
		t.store = store
	}
}

// WithSnapshot replaces the bundled document used for lazy loading.
func WithSnapshot(data []byte) TableOption {
	return func(t *Table) {
		t.seed = data
	}
}

// NewTable creates an unloaded table.
func NewTable(opts ...TableOption) *Table {
	t := &Table{
		custom: make(index),
		seed:   bundledSnapshot,
		url:    DefaultSnapshotURL,
		client: &http.Client{Timeout: defaultFetchTimeout},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Process-wide table shared by engines that are not given their own.
//
//nolint:gochecknoglobals // Price data is process-wide by design of the lookup contract
var (
	defaultTable   *Table
	defaultTableMu sync.Mutex
)

// Default returns the process-wide table, creating it on first use.
func Default() *Table {
	defaultTableMu.Lock()
	defer defaultTableMu.Unlock()

	if defaultTable == nil {
		defaultTable = NewTable()
	}
	return defaultTable
}

// SetDefault replaces the process-wide table.
func SetDefault(t *Table) {
	defaultTableMu.Lock()
	defaultTable = t
	defaultTableMu.Unlock()
}

// Get resolves a model. Only chat and responses entries are visible.
// Without filter.AllowSimilar only the exact (service, model) key matches.
func (t *Table) Get(service, model string, filter domain.QualityFilter) (*Entry, bool) {
	if service == "" || model == "" {
		return nil, false
	}

	t.ensureLoaded()

	t.mu.RLock()
	defer t.mu.RUnlock()

	if entry, ok := t.lookup(service, model); ok {
		return entry, true
	}
	if !filter.AllowSimilar {
		return nil, false
	}
	for _, candidate := range candidates(service, model) {
		if entry, ok := t.lookup(service, candidate); ok {
			return entry, true
		}
	}
	return nil, false
}

func (t *Table) lookup(service, model string) (*Entry, bool) {
	if entry, ok := t.custom.get(service, model); ok && entry.Visible() {
		return &entry, true
	}
	if entry, ok := t.base.get(service, model); ok && entry.Visible() {
		return &entry, true
	}
	return nil, false
}

// AddCustom registers an entry that takes priority over the snapshot.
// An empty mode is treated as chat.
func (t *Table) AddCustom(service, model string, entry Entry) error {
	if service == "" || model == "" {
		return errors.New("service and model cannot be empty")
	}
	entry.Service = service
	entry.Model = model
	if entry.Mode == "" {
		entry.Mode = ModeChat
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.custom.put(entry)
	return nil
}

// RemoveCustom drops one custom entry; the snapshot is unaffected.
func (t *Table) RemoveCustom(service, model string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.custom[service], model)
}

// ClearCustom drops every custom entry.
func (t *Table) ClearCustom() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.custom = make(index)
}

// Reset forgets both the loaded snapshot and custom entries. The next
// lookup reloads the bundled snapshot.
func (t *Table) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.base = nil
	t.custom = make(index)
	t.loadedAt = time.Time{}
}

// Load replaces the base snapshot with data.
func (t *Table) Load(data []byte) error {
	idx, err := parseSnapshot(data)
	if err != nil {
		return fmt.Errorf("failed to parse price snapshot: %w", err)
	}

	t.mu.Lock()
	t.base = idx
	t.loadedAt = time.Now()
	t.mu.Unlock()

	return nil
}

// Refresh fetches the remote snapshot and swaps it in. The previous base
// table is kept if the fetch or parse fails.
func (t *Table) Refresh(ctx context.Context) error {
	logger := observability.FromContext(ctx)
	logger.Info("refreshing price snapshot", observability.String("url", t.url))

	data, err := t.fetch(ctx)
	if err != nil {
		logger.Error("price snapshot fetch failed", observability.Error(err))
		return err
	}

	if loadErr := t.Load(data); loadErr != nil {
		return loadErr
	}

	if t.store != nil {
		if saveErr := t.store.Save(ctx, data); saveErr != nil {
			logger.Warn("failed to store price snapshot", observability.Error(saveErr))
		}
	}

	logger.Info("price snapshot refreshed",
		observability.Int("services", t.serviceCount()),
		observability.Int("bytes", len(data)))
	return nil
}

// Warm loads the stored snapshot when one is available and falls back
// to the bundled document otherwise.
func (t *Table) Warm(ctx context.Context) error {
	if t.store != nil {
		data, err := t.store.Load(ctx)
		switch {
		case err == nil:
			if loadErr := t.Load(data); loadErr == nil {
				return nil
			}
		case !errors.Is(err, ErrNoSnapshot):
			observability.FromContext(ctx).Warn("failed to load stored price snapshot",
				observability.Error(err))
		}
	}

	t.ensureLoaded()
	return nil
}

// LoadedAt returns when the base snapshot was last replaced.
func (t *Table) LoadedAt() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.loadedAt
}

// Entries returns every visible base and custom entry for a service.
// Custom entries shadow base entries with the same model.
func (t *Table) Entries(service string) []Entry {
	t.ensureLoaded()

	t.mu.RLock()
	defer t.mu.RUnlock()

	seen := make(map[string]bool)
	var out []Entry
	for _, source := range []index{t.custom, t.base} {
		for model, entry := range source[service] {
			if seen[model] || !entry.Visible() {
				continue
			}
			seen[model] = true
			out = append(out, entry)
		}
	}
	return out
}

func (t *Table) ensureLoaded() {
	t.mu.RLock()
	loaded := t.base != nil
	t.mu.RUnlock()
	if loaded {
		return
	}

	idx, err := parseSnapshot(t.seed)
	if err != nil {
		idx = make(index)
	}

	t.mu.Lock()
	if t.base == nil {
		t.base = idx
		t.loadedAt = time.Now()
	}
	t.mu.Unlock()
}

func (t *Table) serviceCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return len(t.base)
}

func (t *Table) fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create snapshot request: %w", err)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, &domain.TransportError{Service: "pricing", Message: "snapshot fetch failed", Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &domain.TransportError{Service: "pricing", StatusCode: resp.StatusCode}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.TransportError{Service: "pricing", Message: "failed to read snapshot", Cause: err}
	}
	return data, nil
}
