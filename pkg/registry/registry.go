// Package registry implements the Tenant Runtime Registry of §4.5: the
// single process-wide mutable structure in this system, constructed once
// with every collaborator passed in explicitly (§9 "Global state"), never
// reached through an ambient package-level variable.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/cuemby/dataplane/pkg/dataerr"
	"github.com/cuemby/dataplane/pkg/storagebackend"
)

// BackendFactory builds a storagebackend.Backend for one tenant resource
// entry; the reference binary wires this to storagebackend/localfs.
type BackendFactory func(tenant, key string, cfg ResourceConfig) (storagebackend.Backend, error)

// StorageManager resolves a tenant's storage_key -> backend map and exposes
// the tenant's defaults, per §9's "one interface per capability set".
type StorageManager struct {
	mu       sync.RWMutex
	backends map[string]storagebackend.Backend
	location string
	format   string
}

func newStorageManager(location, format string) *StorageManager {
	return &StorageManager{backends: map[string]storagebackend.Backend{}, location: location, format: format}
}

func (m *StorageManager) FileStorage(key string) (storagebackend.Backend, error) { return m.backend(key) }
func (m *StorageManager) DataStorage(key string) (storagebackend.Backend, error) { return m.backend(key) }

func (m *StorageManager) backend(key string) (storagebackend.Backend, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.backends[key]
	if !ok {
		return nil, dataerr.New(dataerr.InputInvalid, "unknown storage key %q", key)
	}
	return b, nil
}

func (m *StorageManager) DefaultLocation() string { return m.location }
func (m *StorageManager) DefaultFormat() string    { return m.format }

func (m *StorageManager) addStorage(key string, b storagebackend.Backend) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.backends[key] = b
}

func (m *StorageManager) updateStorage(key string, b storagebackend.Backend) {
	m.addStorage(key, b)
}

func (m *StorageManager) removeStorage(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.backends, key)
}

// TenantRuntime is everything the registry holds for one tenant.
type TenantRuntime struct {
	Code       string
	Static     StaticTenantConfig
	Dynamic    map[string]string // dynamic properties merged under static
	Properties map[string]string // static + dynamic merged, re-derived on every change
	Storage    *StorageManager
}

func (t *TenantRuntime) remerge() {
	merged := make(map[string]string, len(t.Static.Properties)+len(t.Dynamic))
	for k, v := range t.Dynamic {
		merged[k] = v
	}
	for k, v := range t.Static.Properties {
		merged[k] = v // static always wins
	}
	t.Properties = merged
}

// ConfigUpdateType is the mutation kind a ConfigUpdate applies.
type ConfigUpdateType string

const (
	ConfigCreate ConfigUpdateType = "CREATE"
	ConfigUpdate_ ConfigUpdateType = "UPDATE"
	ConfigDelete ConfigUpdateType = "DELETE"
)

// ConfigEntryKind distinguishes a tenant-properties update from a
// resource (storage backend) update, the two dynamic config classes of §6
// (trac_config / trac_resources).
type ConfigEntryKind string

const (
	EntryProperties ConfigEntryKind = "properties"
	EntryResource   ConfigEntryKind = "resource"
)

// ConfigUpdate is one dynamic config event the registry may apply.
type ConfigUpdate struct {
	Tenant     string
	EntryKind  ConfigEntryKind
	EntryKey   string // property name, or storage key for resource entries
	Type       ConfigUpdateType
	Value      string         // new property value (EntryProperties)
	Resource   ResourceConfig // new resource definition (EntryResource, CREATE/UPDATE)
}

// Registry is the tenant runtime registry described by §4.5.
type Registry struct {
	factory BackendFactory
	log     zerolog.Logger

	mu      sync.RWMutex
	tenants map[string]*TenantRuntime
	locks   sync.Map // tenant -> *sync.Mutex, serialises same-tenant updates
}

// New constructs the registry. No tenant is populated until Bootstrap runs.
func New(factory BackendFactory, log zerolog.Logger) *Registry {
	return &Registry{factory: factory, log: log, tenants: map[string]*TenantRuntime{}}
}

// Bootstrap initialises every tenant named in cfg up front, building its
// storage manager from its static resource config. A static config file
// takes the place of a catalogue list-tenants RPC (the catalogue interface
// of §4.2 exposes no such op); tenants are built here, not on first use.
func (r *Registry) Bootstrap(ctx context.Context, cfg *FileConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for code, static := range cfg.Tenants {
		rt := &TenantRuntime{
			Code:    code,
			Static:  static,
			Dynamic: map[string]string{},
			Storage: newStorageManager(static.DefaultBucket, static.DefaultFormat),
		}
		rt.remerge()

		for key, rc := range static.Resources {
			backend, err := r.factory(code, key, rc)
			if err != nil {
				return fmt.Errorf("bootstrap tenant %s storage %s: %w", code, key, err)
			}
			rt.Storage.addStorage(key, backend)
		}

		r.tenants[code] = rt
	}
	return nil
}

func (r *Registry) tenantLock(tenant string) *sync.Mutex {
	v, _ := r.locks.LoadOrStore(tenant, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// Tenant returns the runtime for code, or TENANT_NOT_FOUND.
func (r *Registry) Tenant(code string) (*TenantRuntime, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rt, ok := r.tenants[code]
	if !ok {
		return nil, dataerr.New(dataerr.TenantNotFound, "unknown tenant %q", code)
	}
	return rt, nil
}

// Apply applies a dynamic ConfigUpdate. Updates to different tenants run
// concurrently; updates to the same tenant serialise on that tenant's lock.
// An update is a no-op (not an error) if the tenant is unknown, if it
// addresses a key the static config already defines, or if nothing changed.
func (r *Registry) Apply(update ConfigUpdate) error {
	lock := r.tenantLock(update.Tenant)
	lock.Lock()
	defer lock.Unlock()

	r.mu.RLock()
	rt, ok := r.tenants[update.Tenant]
	r.mu.RUnlock()
	if !ok {
		return nil // unknown tenant: ignored, not an error (§4.5)
	}

	switch update.EntryKind {
	case EntryProperties:
		if _, isStatic := rt.Static.Properties[update.EntryKey]; isStatic {
			return nil // static overrides dynamic
		}
		switch update.Type {
		case ConfigCreate, ConfigUpdate_:
			rt.Dynamic[update.EntryKey] = update.Value
		case ConfigDelete:
			delete(rt.Dynamic, update.EntryKey)
		}
		rt.remerge()

	case EntryResource:
		if _, isStatic := rt.Static.Resources[update.EntryKey]; isStatic {
			return nil
		}
		switch update.Type {
		case ConfigCreate:
			b, err := r.factory(update.Tenant, update.EntryKey, update.Resource)
			if err != nil {
				return err
			}
			rt.Storage.addStorage(update.EntryKey, b)
		case ConfigUpdate_:
			b, err := r.factory(update.Tenant, update.EntryKey, update.Resource)
			if err != nil {
				return err
			}
			rt.Storage.updateStorage(update.EntryKey, b)
		case ConfigDelete:
			rt.Storage.removeStorage(update.EntryKey)
		}
	}
	return nil
}

// Shutdown tears down every tenant in deterministic order, logging but
// swallowing per-tenant failures so one bad tenant never blocks the rest
// (§4.5).
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.RLock()
	codes := make([]string, 0, len(r.tenants))
	for code := range r.tenants {
		codes = append(codes, code)
	}
	r.mu.RUnlock()
	sort.Strings(codes)

	for _, code := range codes {
		r.log.Info().Str("tenant", code).Msg("shutting down tenant storage")
		// Backends in this reference implementation hold no unmanaged
		// resources of their own (localfs is stateless); a backend with a
		// Close method would be closed here, its error logged and
		// swallowed exactly as described in §4.5.
	}
}
