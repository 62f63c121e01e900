package quota

import (
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/hyperjump/docvec/internal/config"
)

// New builds the ledger named by cfg.Backend. The redis ledger connects with redisCfg.
func New(cfg config.QuotaConfig, redisCfg config.RedisConfig) (Ledger, error) {
	allowances := Allowances{Default: cfg.Allowance, PerScope: cfg.ScopeAllowances}
	switch cfg.Backend {
	case config.BackendNone, "":
		return Unlimited{}, nil
	case config.BackendMemory:
		return NewMemoryLedger(allowances, cfg.Window), nil
	case config.BackendRedis:
		client := goredis.NewClient(&goredis.Options{
			Addr:     redisCfg.Addr,
			Password: redisCfg.Password,
			DB:       redisCfg.DB,
		})
		return NewRedisLedger(client, allowances, cfg.Window), nil
	default:
		return nil, fmt.Errorf("unknown quota backend %q", cfg.Backend)
	}
}

// PolicyFromConfig reads the per-operation gate flags.
func PolicyFromConfig(cfg config.QuotaConfig) Policy {
	return Policy{
		Search: cfg.CheckSearchOrDefault(),
		Add:    cfg.CheckAddOrDefault(),
		List:   cfg.CheckListOrDefault(),
	}
}
