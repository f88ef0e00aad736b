package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"sheetwise/internal/config"
	"sheetwise/internal/events"
)

// Invalidator drops cached sheet reads when a job rewrites a sheet, so
// other consumers never serve stale rows. With no Redis configured it
// degrades to publishing the invalidation event only.
type Invalidator struct {
	client *redis.Client
	bus    *events.Bus
	logger *zap.Logger
}

func New(cfg config.RedisConfig, bus *events.Bus, logger *zap.Logger) *Invalidator {
	var client *redis.Client
	if cfg.Addr != "" {
		client = redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Pass,
			DB:       cfg.DB,
		})
		if err := client.Ping(context.Background()).Err(); err != nil {
			logger.Warn("Redis unavailable, cache invalidation is event-only", zap.Error(err))
			client = nil
		}
	}
	return &Invalidator{client: client, bus: bus, logger: logger}
}

// Start subscribes to sheet.changed events; the returned function detaches.
func (i *Invalidator) Start() func() {
	return i.bus.Subscribe(events.KindSheetChanged, i.onSheetChanged)
}

func (i *Invalidator) onSheetChanged(event events.Event) {
	payload, ok := event.Payload.(events.SheetPayload)
	if !ok {
		return
	}

	if i.client != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		keys := []string{
			"sheet:rows:" + payload.SheetID,
			"sheet:meta:" + payload.SheetID,
		}
		if err := i.client.Del(ctx, keys...).Err(); err != nil {
			i.logger.Warn("Cache key deletion failed",
				zap.String("sheet_id", payload.SheetID),
				zap.Error(err))
			return
		}
	}

	i.bus.Publish(events.KindCacheInvalidated, events.SheetPayload{
		SheetID: payload.SheetID,
		JobID:   payload.JobID,
		Action:  "invalidated",
	}, "cache")
}
