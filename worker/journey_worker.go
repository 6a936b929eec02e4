package worker

import (
	"context"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"leadpilot/engine"
	"leadpilot/models"
)

// JourneyWorker drives the execution engine on a cron schedule: one
// sweep of due executions every minute, plus a midnight reset of the
// per-day transfer number counters.
type JourneyWorker struct {
	DB     *gorm.DB
	Engine *engine.Engine
	Logger *logrus.Logger
}

func NewJourneyWorker(db *gorm.DB, eng *engine.Engine, logger *logrus.Logger) *JourneyWorker {
	return &JourneyWorker{
		DB:     db,
		Engine: eng,
		Logger: logger,
	}
}

// Start blocks until the context is cancelled.
func (jw *JourneyWorker) Start(ctx context.Context) {
	// Initial delay to let the server start up
	time.Sleep(5 * time.Second)

	jw.Logger.Info("Journey worker started")

	c := cron.New()

	_, err := c.AddFunc("* * * * *", func() {
		jw.tick(ctx)
	})
	if err != nil {
		jw.Logger.WithError(err).Error("Failed to schedule engine tick")
		return
	}

	_, err = c.AddFunc("0 0 * * *", func() {
		jw.resetDailyCounters()
	})
	if err != nil {
		jw.Logger.WithError(err).Error("Failed to schedule daily reset")
		return
	}

	c.Start()

	<-ctx.Done()
	jw.Logger.Info("Journey worker shutting down...")

	// Let an in-flight sweep finish before returning.
	stopCtx := c.Stop()
	<-stopCtx.Done()
}

func (jw *JourneyWorker) tick(ctx context.Context) {
	processed, err := jw.Engine.ProcessDueExecutions(ctx)
	if err != nil {
		jw.Logger.WithError(err).Error("Engine sweep failed")
		sentry.CaptureException(err)
		return
	}
	if processed > 0 {
		jw.Logger.WithField("processed", processed).Info("Engine sweep completed")
	}
}

// resetDailyCounters zeroes calls_today on every transfer number so the
// percentage and roundrobin policies start the day fresh.
func (jw *JourneyWorker) resetDailyCounters() {
	result := jw.DB.Model(&models.TransferNumber{}).
		Where("calls_today > 0").
		Update("calls_today", 0)
	if result.Error != nil {
		jw.Logger.WithError(result.Error).Error("Failed to reset daily call counters")
		sentry.CaptureException(result.Error)
		return
	}
	jw.Logger.WithField("numbers", result.RowsAffected).Info("Daily call counters reset")
}
