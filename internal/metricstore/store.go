// Package metricstore selects where rule metrics are persisted.
package metricstore

import (
	"fmt"

	"github.com/opensource-finance/fraudwatch/internal/domain"
)

// New returns the metrics store named by cfg.Type. "sql" reuses the
// repository; "none" returns a nil store and metrics live only in memory.
func New(cfg domain.MetricsStoreConfig, repo domain.MetricsStore) (domain.MetricsStore, error) {
	switch cfg.Type {
	case "sql", "":
		if repo == nil {
			return nil, fmt.Errorf("sql metrics store requires a repository")
		}
		return repo, nil

	case "redis":
		store, err := NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, err
		}
		return store, nil

	case "none":
		return nil, nil

	default:
		return nil, fmt.Errorf("unsupported metrics store type: %s", cfg.Type)
	}
}
