package datasource

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/insightpilot/pkg/models"
)

// AdapterInfo describes a registered backend.
type AdapterInfo struct {
	Subtype     models.DBSubtype `json:"subtype"`
	DisplayName string           `json:"display_name"`
	Description string           `json:"description"`
	Dialect     Dialect          `json:"dialect"`
}

// Options are the runtime knobs shared by all adapters.
type Options struct {
	ExecTimeout time.Duration
	MaxRows     int
}

// DefaultOptions returns the options used when none are configured.
func DefaultOptions() Options {
	return Options{ExecTimeout: 60 * time.Second, MaxRows: MaxQueryLimit}
}

// FactoryFunc builds an unconnected adapter for a database descriptor.
type FactoryFunc func(desc models.ConnectionDescriptor, opts Options, logger *zap.Logger) (Adapter, error)

// Registration pairs backend info with its factory.
type Registration struct {
	Info    AdapterInfo
	Factory FactoryFunc
}

var (
	registryMu sync.RWMutex
	registry   = make(map[models.DBSubtype]Registration)
)

// Register is called by each adapter's init() function.
func Register(reg Registration) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[reg.Info.Subtype] = reg
}

// RegisteredAdapters returns info for all registered adapters, sorted by subtype.
func RegisteredAdapters() []AdapterInfo {
	registryMu.RLock()
	defer registryMu.RUnlock()

	result := make([]AdapterInfo, 0, len(registry))
	for _, reg := range registry {
		result = append(result, reg.Info)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Subtype < result[j].Subtype })
	return result
}

// GetFactory returns the factory for a subtype, or nil if it is not registered.
func GetFactory(subtype models.DBSubtype) FactoryFunc {
	registryMu.RLock()
	defer registryMu.RUnlock()
	if reg, ok := registry[subtype]; ok {
		return reg.Factory
	}
	return nil
}

// IsRegistered checks if an adapter subtype is available.
func IsRegistered(subtype models.DBSubtype) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := registry[subtype]
	return ok
}

// NewAdapter builds a fresh adapter for desc using the registered factory.
func NewAdapter(desc models.ConnectionDescriptor, opts Options, logger *zap.Logger) (Adapter, error) {
	if desc.Kind != models.KindDB || desc.DB == nil {
		return nil, fmt.Errorf("connection %q is not a database connection", desc.Name)
	}
	factory := GetFactory(desc.DB.Subtype)
	if factory == nil {
		return nil, fmt.Errorf("no adapter registered for %q", desc.DB.Subtype)
	}
	if opts.ExecTimeout <= 0 {
		opts.ExecTimeout = DefaultOptions().ExecTimeout
	}
	opts.MaxRows = ClampLimit(opts.MaxRows)
	return factory(desc, opts, logger.Named(string(desc.DB.Subtype)))
}
