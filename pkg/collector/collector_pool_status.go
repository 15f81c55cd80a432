package collector

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/cirocosta/dataplane-exporter/pkg/cache"
	"github.com/cirocosta/dataplane-exporter/pkg/identity"
)

// PoolStatusCollector reports the numeric state of every pool (see
// cache.PoolState).
//
type PoolStatusCollector struct {
	*poolCollector
}

var _ prometheus.Collector = (*PoolStatusCollector)(nil)

func NewPoolStatusCollector(
	c *cache.Cache, nodeNamer identity.NodeNamer, opts ...Option,
) (*PoolStatusCollector, error) {
	pc, err := newPoolCollector("pool_status", c, nodeNamer, []gaugeDefinition{
		{
			name: "status",
			help: "Status of the pool",
			value: func(p cache.PoolInfo) float64 {
				return float64(p.State)
			},
		},
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("new pool collector: %w", err)
	}

	return &PoolStatusCollector{pc}, nil
}
