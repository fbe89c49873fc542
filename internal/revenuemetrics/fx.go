package revenuemetrics

import (
	"context"
	"runtime"
	"time"

	"github.com/inkwell-ai/inkwell/internal/config"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const pushInterval = 30 * time.Minute

var Module = fx.Module("revenue.metrics",
	fx.Provide(func() *prometheus.Registry {
		return prometheus.NewRegistry()
	}),
	fx.Provide(NewPusher),
	fx.Invoke(Register),
)

// Register installs the revenue recorder and starts the periodic push
// worker. Without a pusher the recorder stays a no-op and nothing runs.
func Register(lc fx.Lifecycle, cfg config.Config, registry *prometheus.Registry, pusher Pusher, logger *zap.Logger, db *gorm.DB) {
	if pusher == nil {
		return
	}
	log := logger.Named("revenue.metrics")

	rec := &recorder{metrics: newMetrics(registry)}
	setRecorder(rec)

	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			log.Info("starting revenue metrics push worker")
			go func() {
				ticker := time.NewTicker(pushInterval)
				defer ticker.Stop()

				pushOnce(ctx, rec, pusher, registry, db, log)
				for {
					select {
					case <-ticker.C:
						pushOnce(ctx, rec, pusher, registry, db, log)
					case <-ctx.Done():
						log.Info("stopping revenue metrics push worker")
						return
					}
				}
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}

func pushOnce(ctx context.Context, rec *recorder, pusher Pusher, registry *prometheus.Registry, db *gorm.DB, log *zap.Logger) {
	updateSystemMetrics(rec)
	updateAccountStats(ctx, rec, db)

	pushCtx, cancel := context.WithTimeout(ctx, defaultPushTimeout)
	defer cancel()
	if err := pusher.Push(pushCtx, registry); err != nil {
		log.Warn("revenue metrics push failed", zap.Error(err))
	}
}

func updateSystemMetrics(rec *recorder) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	rec.SetMemoryUsage(m.Sys)
}

func updateAccountStats(ctx context.Context, rec *recorder, db *gorm.DB) {
	if db == nil {
		return
	}
	var row struct {
		Count   int64 `gorm:"column:count"`
		Balance int64 `gorm:"column:balance"`
	}
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(*) AS count, COALESCE(SUM(token_balance), 0) AS balance FROM accounts`,
	).Scan(&row).Error
	if err != nil {
		return
	}
	rec.SetAccountsTotal(row.Count)
	rec.SetCreditsOutstanding(row.Balance)
}
