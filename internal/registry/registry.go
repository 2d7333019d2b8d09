// Package registry is the keyed store of configured cameras. Each entry carries
// the camera's client and its quirks pipeline, both resolved once at
// registration time.
package registry

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"sync"

	"github.com/anthonyacole/onvif-proxy/internal/camera"
	"github.com/anthonyacole/onvif-proxy/internal/quirks"
	"github.com/anthonyacole/onvif-proxy/pkg/hostutil"
	"go.uber.org/zap"
)

var (
	// ErrNotFound means no camera is registered under the id.
	ErrNotFound = errors.New("camera not found")
	// ErrInvalid means the camera definition was rejected.
	ErrInvalid = errors.New("invalid camera")
)

var validID = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,63}$`)

// ValidID reports whether id can be used as a camera id (it appears in URL paths).
func ValidID(id string) bool { return validID.MatchString(id) }

// Store persists camera definitions across restarts.
type Store interface {
	Save(ctx context.Context, ep camera.Endpoint) error
	Delete(ctx context.Context, id string) error
	LoadAll(ctx context.Context) ([]camera.Endpoint, error)
}

// Entry is an immutable registration. Replacing a camera swaps the entry.
type Entry struct {
	Endpoint camera.Endpoint
	Client   *camera.Client
	Pipeline *quirks.Pipeline
}

// Registry is a concurrent map of camera id to Entry.
//
// Concurrency:
//   - Reads use shared (R) locks; writes use exclusive (W) locks.
//   - The lock is never held across store I/O or camera calls.
type Registry struct {
	log    *zap.Logger
	quirks *quirks.Registry
	store  Store // optional

	mu      sync.RWMutex
	entries map[string]*Entry
}

// New returns an empty registry. store may be nil for a purely in-memory registry.
func New(q *quirks.Registry, store Store, log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	if q == nil {
		q = quirks.NewRegistry(log)
	}
	return &Registry{
		log:     log.Named("registry"),
		quirks:  q,
		store:   store,
		entries: make(map[string]*Entry),
	}
}

// Load registers every camera found in the store without writing back.
// Invalid stored definitions are logged and skipped.
func (r *Registry) Load(ctx context.Context) (int, error) {
	if r.store == nil {
		return 0, nil
	}
	eps, err := r.store.LoadAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("load cameras: %w", err)
	}
	n := 0
	for _, ep := range eps {
		entry, err := r.build(ep)
		if err != nil {
			r.log.Warn("skipping stored camera", zap.String("camera_id", ep.ID), zap.Error(err))
			continue
		}
		r.put(entry)
		n++
	}
	return n, nil
}

// Upsert validates ep, resolves its pipeline, persists it when a store is
// configured and registers it, replacing any camera with the same id.
func (r *Registry) Upsert(ctx context.Context, ep camera.Endpoint) (*Entry, error) {
	entry, err := r.build(ep)
	if err != nil {
		return nil, err
	}
	if r.store != nil {
		if err := r.store.Save(ctx, entry.Endpoint); err != nil {
			return nil, fmt.Errorf("persist camera %s: %w", ep.ID, err)
		}
	}
	r.put(entry)

	r.log.Info("camera registered",
		zap.String("camera_id", ep.ID),
		zap.String("address", ep.Address),
		zap.String("model", entry.Pipeline.Model()),
		zap.Strings("rules", entry.Pipeline.Rules()),
	)
	return entry, nil
}

// Get returns the entry for id or ErrNotFound.
func (r *Registry) Get(id string) (*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	return e, nil
}

// Remove unregisters id. Returns ErrNotFound if it is not registered.
func (r *Registry) Remove(ctx context.Context, id string) error {
	r.mu.RLock()
	_, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}

	if r.store != nil {
		if err := r.store.Delete(ctx, id); err != nil {
			return fmt.Errorf("delete camera %s: %w", id, err)
		}
	}

	r.mu.Lock()
	delete(r.entries, id)
	r.mu.Unlock()

	r.log.Info("camera removed", zap.String("camera_id", id))
	return nil
}

// List returns every registered endpoint, ordered by id.
func (r *Registry) List() []camera.Endpoint {
	r.mu.RLock()
	out := make([]camera.Endpoint, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.Endpoint)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func (r *Registry) put(e *Entry) {
	r.mu.Lock()
	r.entries[e.Endpoint.ID] = e
	r.mu.Unlock()
}

func (r *Registry) build(ep camera.Endpoint) (*Entry, error) {
	if err := Validate(ep); err != nil {
		return nil, err
	}
	ep = ep.WithDefaults()

	names := ep.Quirks
	if ep.EnableSmartDetection && !contains(names, quirks.QuirkTranslateSmartEvents) {
		names = append(append([]string(nil), names...), quirks.QuirkTranslateSmartEvents)
	}

	pipeline, err := r.quirks.Resolve(ep.Model, names, ep.Rules)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalid, ep.ID, err)
	}

	return &Entry{
		Endpoint: ep,
		Client:   camera.NewClient(ep, r.log),
		Pipeline: pipeline,
	}, nil
}

// Validate checks the fields every camera needs.
func Validate(ep camera.Endpoint) error {
	if !ValidID(ep.ID) {
		return fmt.Errorf("%w: id %q must match %s", ErrInvalid, ep.ID, validID.String())
	}
	if ep.Address == "" {
		return fmt.Errorf("%w: %s: address is required", ErrInvalid, ep.ID)
	}
	if err := hostutil.ValidateAddress(ep.Address); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalid, ep.ID, err)
	}
	if ep.HTTPSPort < 0 || ep.HTTPSPort > 65535 {
		return fmt.Errorf("%w: %s: https_port out of range", ErrInvalid, ep.ID)
	}
	if ep.Channel < 0 {
		return fmt.Errorf("%w: %s: channel must not be negative", ErrInvalid, ep.ID)
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
