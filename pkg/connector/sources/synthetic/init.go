package synthetic

import (
	"github.com/vortexdata/vortex/pkg/connector/core"
	"github.com/vortexdata/vortex/pkg/connector/registry"
)

func init() {
	registry.MustRegister(func() core.Connector { return NewSource() })
}
