package db

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// slowQueryThreshold flags queries that hold the write lock long enough to
// starve concurrent appends on a shared sqlite file.
const slowQueryThreshold = 200 * time.Millisecond

var _ gormlogger.Interface = (*queryLogger)(nil)

// queryLogger adapts gorm's logging callbacks onto zap. What gets emitted is
// decided by the zap configuration; gorm's own level only silences the
// adapter, so sessions opened with a quieter LogMode behave as gorm expects.
type queryLogger struct {
	zl     *zap.Logger
	silent bool
}

func newLogger(zl *zap.Logger) *queryLogger {
	return &queryLogger{zl: zl.Named("db")}
}

func (l *queryLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	clone := *l
	clone.silent = level == gormlogger.Silent
	return &clone
}

func (l *queryLogger) Info(_ context.Context, msg string, args ...interface{}) {
	if !l.silent {
		l.zl.Sugar().Infof(msg, args...)
	}
}

func (l *queryLogger) Warn(_ context.Context, msg string, args ...interface{}) {
	if !l.silent {
		l.zl.Sugar().Warnf(msg, args...)
	}
}

func (l *queryLogger) Error(_ context.Context, msg string, args ...interface{}) {
	if !l.silent {
		l.zl.Sugar().Errorf(msg, args...)
	}
}

// Trace logs failed queries as errors and slow queries as warnings. Record
// misses are an expected outcome (unknown file ids map to ErrNotFound), not
// a query failure. Everything else only appears at debug level.
func (l *queryLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.silent {
		return
	}

	elapsed := time.Since(begin)

	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
		sql, rows := fc()
		l.zl.Error("query failed",
			zap.String("sql", sql),
			zap.Int64("rows", rows),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
	case elapsed >= slowQueryThreshold:
		sql, rows := fc()
		l.zl.Warn("slow query",
			zap.String("sql", sql),
			zap.Int64("rows", rows),
			zap.Duration("elapsed", elapsed))
	case l.zl.Core().Enabled(zap.DebugLevel):
		sql, rows := fc()
		l.zl.Debug("query",
			zap.String("sql", sql),
			zap.Int64("rows", rows),
			zap.Duration("elapsed", elapsed))
	}
}
