package zap

import (
	"context"
	"time"

	"github.com/forbearing/querygate/config"
	"github.com/forbearing/querygate/types/consts"
	"go.uber.org/zap"
	gorml "gorm.io/gorm/logger"
)

// GormLogger adapts Database (the named subsystem logger) to gorm's
// logger.Interface, so every SQL statement gorm.io/gorm issues is logged
// through the same rotating sink as the rest of the gateway.
type GormLogger struct{ l *zap.SugaredLogger }

var _ gorml.Interface = (*GormLogger)(nil)

// NewGormLogger wraps Database as a gorm logger.Interface.
func NewGormLogger() *GormLogger { return &GormLogger{l: Database} }

func (g *GormLogger) LogMode(gorml.LogLevel) gorml.Interface           { return g }
func (g *GormLogger) Info(_ context.Context, str string, args ...any)  { g.l.Infow(str, args...) }
func (g *GormLogger) Warn(_ context.Context, str string, args ...any)  { g.l.Warnw(str, args...) }
func (g *GormLogger) Error(_ context.Context, str string, args ...any) { g.l.Errorw(str, args...) }

func (g *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	requestID, _ := ctx.Value(consts.RequestID).(string)
	elapsed := time.Since(begin)
	sql, rows := fc()

	if err != nil {
		g.l.Errorw("sql error", "request_id", requestID, "sql", sql, "rows", rows, "elapsed", elapsed, "error", err)
		return
	}
	if elapsed > config.App.Database.SlowQueryThreshold {
		g.l.Warnw("slow sql detected", "request_id", requestID, "sql", sql, "rows", rows, "elapsed", elapsed, "threshold", config.App.Database.SlowQueryThreshold)
		return
	}
	g.l.Infow("sql executed", "request_id", requestID, "sql", sql, "rows", rows, "elapsed", elapsed)
}
