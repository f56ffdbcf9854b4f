package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"

	"github.com/recera/lcars/internal/logging"
)

// Registration identifies a screen asking the server for a panel
type Registration struct {
	Host     string `json:"host"`
	ScreenID int    `json:"screenId"`
	Payload  []byte `json:"payload,omitempty"`
}

// Key returns the registry key "hostname.screenId"
func (r Registration) Key() string {
	return r.Host + "." + strconv.Itoa(r.ScreenID)
}

// EncodeRegistration encodes r for a serve or destroy call
func EncodeRegistration(r Registration) []byte {
	b, _ := json.Marshal(r)
	return b
}

// DecodeRegistration decodes a serve or destroy call body
func DecodeRegistration(b []byte) (Registration, error) {
	var r Registration
	if err := json.Unmarshal(b, &r); err != nil {
		return r, fmt.Errorf("adapter: bad registration: %w", err)
	}
	if r.Host == "" {
		return r, errors.New("adapter: registration without host")
	}
	return r, nil
}

// Factory builds the adapter serving one registered screen. The registry
// starts it.
type Factory func(reg Registration) (*Adapter, error)

// Registry tracks the adapters a server runs, one per "hostname.screenId".
// It is constructed by the composition root; there is no global instance.
type Registry struct {
	mu       sync.Mutex
	adapters map[string]*Adapter
	factory  Factory
	log      *slog.Logger
}

// NewRegistry creates an empty registry
func NewRegistry(factory Factory) *Registry {
	return &Registry{
		adapters: make(map[string]*Adapter),
		factory:  factory,
		log:      logging.For("registry"),
	}
}

// Serve makes sure an adapter runs for the given screen. It returns
// immediately if one already exists.
func (r *Registry) Serve(ctx context.Context, reg Registration) error {
	key := reg.Key()
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.adapters[key]; ok {
		return nil
	}
	a, err := r.factory(reg)
	if err != nil {
		return fmt.Errorf("serve %s: %w", key, err)
	}
	if err := a.Start(ctx); err != nil {
		return fmt.Errorf("serve %s: %w", key, err)
	}
	r.adapters[key] = a
	r.log.Info("adapter served", "key", key, "name", a.Name())
	return nil
}

// Destroy shuts the adapter for the given screen down. Unknown keys are ignored.
func (r *Registry) Destroy(host string, screenID int) error {
	key := Registration{Host: host, ScreenID: screenID}.Key()
	r.mu.Lock()
	a, ok := r.adapters[key]
	delete(r.adapters, key)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	r.log.Info("adapter destroyed", "key", key)
	return a.Shutdown()
}

// Get returns the adapter registered under key
func (r *Registry) Get(key string) (*Adapter, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.adapters[key]
	return a, ok
}

// Keys returns the registered keys in sorted order
func (r *Registry) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.adapters))
	for k := range r.adapters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Close shuts every adapter down
func (r *Registry) Close() error {
	r.mu.Lock()
	adapters := r.adapters
	r.adapters = make(map[string]*Adapter)
	r.mu.Unlock()

	var errs []error
	for _, a := range adapters {
		if err := a.Shutdown(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Handler exposes serve, destroy and ping as remote calls
func (r *Registry) Handler() Handler {
	return HandlerFunc(func(ctx context.Context, method string, body []byte) ([]byte, error) {
		switch method {
		case MethodPing:
			return nil, nil
		case MethodServe, MethodDestroy:
			reg, err := DecodeRegistration(body)
			if err != nil {
				return nil, err
			}
			if method == MethodServe {
				return nil, r.Serve(ctx, reg)
			}
			return nil, r.Destroy(reg.Host, reg.ScreenID)
		}
		return nil, fmt.Errorf("%w: %s", ErrUnknownMethod, method)
	})
}
