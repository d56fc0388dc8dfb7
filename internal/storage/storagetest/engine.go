// Package storagetest provides an in-memory storage.Engine for tests.
package storagetest

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/nerrad567/tag-ingest/internal/record"
	"github.com/nerrad567/tag-ingest/internal/storage"
)

// Engine is an in-memory storage.Engine that records every call.
//
// Error hooks, when set, are consulted before the call takes effect; a
// non-nil result is returned to the caller and nothing is recorded.
type Engine struct {
	mu sync.Mutex

	databases map[string]bool
	templates map[string]storage.Template
	bindings  map[string]string
	tablets   []*record.Tablet
	setCalls  map[string]int
	pings     int
	closed    bool

	PingErr        func() error
	InsertErr      func(t *record.Tablet) error
	SetTemplateErr func(devicePath string) error
	CreateDBErr    func(name string) error
	ListErr        func() error
}

// NewEngine returns an empty, open Engine.
func NewEngine() *Engine {
	return &Engine{
		databases: make(map[string]bool),
		templates: make(map[string]storage.Template),
		bindings:  make(map[string]string),
		setCalls:  make(map[string]int),
	}
}

// Dialer returns a storage.Dialer that always yields e.
func (e *Engine) Dialer() storage.Dialer {
	return func(context.Context) (storage.Engine, error) {
		e.mu.Lock()
		e.closed = false
		e.mu.Unlock()
		return e, nil
	}
}

// CreateDatabase implements storage.Engine.
func (e *Engine) CreateDatabase(_ context.Context, name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return storage.ErrPoolClosed
	}
	if e.CreateDBErr != nil {
		if err := e.CreateDBErr(name); err != nil {
			return err
		}
	}
	if e.databases[name] {
		return fmt.Errorf("%w: database %s", storage.ErrAlreadyExists, name)
	}
	e.databases[name] = true
	return nil
}

// ListTemplates implements storage.Engine.
func (e *Engine) ListTemplates(context.Context) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, storage.ErrPoolClosed
	}
	if e.ListErr != nil {
		if err := e.ListErr(); err != nil {
			return nil, err
		}
	}
	names := make([]string, 0, len(e.templates))
	for name := range e.templates {
		names = append(names, name)
	}
	slices.Sort(names)
	return names, nil
}

// CreateTemplate implements storage.Engine.
func (e *Engine) CreateTemplate(_ context.Context, tmpl storage.Template) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return storage.ErrPoolClosed
	}
	if _, ok := e.templates[tmpl.Name]; ok {
		return fmt.Errorf("%w: template %s", storage.ErrAlreadyExists, tmpl.Name)
	}
	e.templates[tmpl.Name] = tmpl
	return nil
}

// SetTemplate implements storage.Engine.
func (e *Engine) SetTemplate(_ context.Context, template, devicePath string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return storage.ErrPoolClosed
	}
	if e.SetTemplateErr != nil {
		if err := e.SetTemplateErr(devicePath); err != nil {
			return err
		}
	}
	e.setCalls[devicePath]++
	if _, ok := e.bindings[devicePath]; ok {
		return fmt.Errorf("%w: template already set on %s", storage.ErrAlreadyExists, devicePath)
	}
	e.bindings[devicePath] = template
	return nil
}

// InsertTablet implements storage.Engine.
func (e *Engine) InsertTablet(_ context.Context, t *record.Tablet) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return storage.ErrPoolClosed
	}
	if e.InsertErr != nil {
		if err := e.InsertErr(t); err != nil {
			return err
		}
	}
	e.tablets = append(e.tablets, t)
	return nil
}

// Ping implements storage.Engine.
func (e *Engine) Ping(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pings++
	if e.closed {
		return storage.ErrPoolClosed
	}
	if e.PingErr != nil {
		return e.PingErr()
	}
	return nil
}

// Close implements storage.Engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

// SetHooks replaces error hooks under the engine lock, for tests that
// change behaviour while goroutines are running.
func (e *Engine) SetHooks(fn func(e *Engine)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(e)
}

// Tablets returns the inserted tablets in insert order.
func (e *Engine) Tablets() []*record.Tablet {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.tablets)
}

// SetTemplateCalls returns how often SetTemplate reached the engine for path.
func (e *Engine) SetTemplateCalls(path string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.setCalls[path]
}

// Templates returns the registered template names.
func (e *Engine) Templates() []string {
	names, _ := e.ListTemplates(context.Background())
	return names
}

// HasDatabase reports whether the database was created.
func (e *Engine) HasDatabase(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.databases[name]
}

// Pings returns the number of liveness probes received.
func (e *Engine) Pings() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pings
}

// Closed reports whether Close was called since the last dial.
func (e *Engine) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}
