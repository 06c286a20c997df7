package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/utils"
)

// zapLogger routes gorm's logging to zap. SQL statements are only logged at
// debug level, slow ones at warn.
type zapLogger struct {
	logger                    *zap.SugaredLogger
	SlowThreshold             time.Duration
	LogLevel                  logger.LogLevel
	IgnoreRecordNotFoundError bool
}

func NewLogger(sugar *zap.SugaredLogger) logger.Interface {
	return &zapLogger{
		logger:                    sugar.With("component", "db"),
		SlowThreshold:             100 * time.Millisecond,
		LogLevel:                  logger.Warn,
		IgnoreRecordNotFoundError: true,
	}
}

func (z *zapLogger) LogMode(level logger.LogLevel) logger.Interface {
	c := *z
	c.LogLevel = level
	return &c
}

func (z *zapLogger) Info(_ context.Context, msg string, args ...interface{}) {
	if z.LogLevel >= logger.Info {
		z.logger.Infof(msg, args...)
	}
}

func (z *zapLogger) Warn(_ context.Context, msg string, args ...interface{}) {
	if z.LogLevel >= logger.Warn {
		z.logger.Warnf(msg, args...)
	}
}

func (z *zapLogger) Error(_ context.Context, msg string, args ...interface{}) {
	if z.LogLevel >= logger.Error {
		z.logger.Errorf(msg, args...)
	}
}

func (z *zapLogger) Trace(_ context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	if z.LogLevel <= logger.Silent {
		return
	}
	elapsed := time.Since(begin)
	ms := float64(elapsed.Nanoseconds()) / 1e6
	switch {
	case err != nil && z.LogLevel >= logger.Error && (!errors.Is(err, gorm.ErrRecordNotFound) || !z.IgnoreRecordNotFoundError):
		sql, rows := fc()
		z.logger.With("line_number", utils.FileWithLineNum(), "error", err.Error(), "rows", rows, "elapsed", ms).Debug(sql)
	case z.SlowThreshold != 0 && elapsed > z.SlowThreshold && z.LogLevel >= logger.Warn:
		sql, rows := fc()
		z.logger.With("slow", fmt.Sprintf("SLOW SQL >= %v", z.SlowThreshold), "rows", rows, "elapsed", ms).Warn(sql)
	case z.LogLevel == logger.Info:
		sql, rows := fc()
		z.logger.With("rows", rows, "elapsed", ms).Debug(sql)
	}
}
