package datasource

import (
	"go.uber.org/zap"

	"github.com/ekaya-inc/insightpilot/pkg/models"
)

// AdapterFactory creates a dedicated adapter per pipeline run.
type AdapterFactory interface {
	NewAdapter(desc models.ConnectionDescriptor) (Adapter, error)
	// ListTypes returns info for all registered adapter types.
	ListTypes() []AdapterInfo
}

type registryFactory struct {
	opts   Options
	logger *zap.Logger
}

// NewAdapterFactory returns a factory backed by the global registry.
func NewAdapterFactory(opts Options, logger *zap.Logger) AdapterFactory {
	return &registryFactory{opts: opts, logger: logger.Named("datasource")}
}

func (f *registryFactory) NewAdapter(desc models.ConnectionDescriptor) (Adapter, error) {
	return NewAdapter(desc, f.opts, f.logger)
}

func (f *registryFactory) ListTypes() []AdapterInfo {
	return RegisteredAdapters()
}
