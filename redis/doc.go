// Package redis provides a go-redis client component and a run.Store kept
// in Redis.
//
// # Layout
//
// Each run is one JSON document under {prefix}:run:{id}. Sorted sets index
// runs by creation time ({prefix}:runs:all and {prefix}:runs:owner:{owner})
// and IN_PROGRESS runs by start time ({prefix}:runs:in_progress). Appends
// and finalize are WATCH/MULTI optimistic transactions on the run key,
// retried on conflict.
//
//	comp := redis.NewComponent(cfg.Redis, log)
//	registry.Register(comp)
//	...
//	store := redis.NewRunStore(comp.Client(), cfg.Redis.KeyPrefix)
package redis
