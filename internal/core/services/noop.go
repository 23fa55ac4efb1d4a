package services

import (
	"fmt"

	"livecast/internal/core/domain"
	"livecast/internal/core/ports"
	apperrors "livecast/pkg/errors"
	"livecast/pkg/logger"

	"go.uber.org/zap"
)

type noopSink struct{}

func (noopSink) PublishStatus(domain.StatusUpdate) {}
func (noopSink) PublishNotice(domain.Notice) {}
func (noopSink) PublishChange(domain.ConfigurationChange) {}

type noopMetrics struct{}

func (noopMetrics) ConnectionRegistered(domain.Protocol) {}
func (noopMetrics) ConnectionReleased(domain.Protocol) {}
func (noopMetrics) DisconnectObserved(domain.Status, bool) {}
func (noopMetrics) RetryScheduled() {}
func (noopMetrics) RetryFired() {}
func (noopMetrics) PendingRetries(int64) {}
func (noopMetrics) ConnectionStats(domain.ConnectionStatistics) {}
func (noopMetrics) ConnectionStatsRemoved(domain.ConnectionID) {}
func (noopMetrics) SamplesDropped(int) {}
func (noopMetrics) QualityDecision(domain.QualityDecision) {}
func (noopMetrics) AdjustmentApplied(string, bool) {}
func (noopMetrics) SettingApplied(domain.SettingCategory, bool) {}

func sinkOrNoop(s ports.StatusSink) ports.StatusSink {
	if s == nil {
		return noopSink{}
	}
	return s
}

func metricsOrNoop(m ports.MetricsRecorder) ports.MetricsRecorder {
	if m == nil {
		return noopMetrics{}
	}
	return m
}

func loggerOrNop(l *zap.SugaredLogger) *zap.SugaredLogger {
	if l == nil {
		return zap.NewNop().Sugar()
	}
	return l
}

// contextLogger tags each line with the session and trace ids found in ctx.
func contextLogger(l *zap.SugaredLogger) *logger.ContextLogger {
	return logger.NewContextLogger(loggerOrNop(l).Desugar())
}

// guardEngine runs a call into the native engine and turns a panic into a
// transport error so nothing escapes the core.
func guardEngine(logger *zap.SugaredLogger, op string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorw("engine call panicked", "op", op, "panic", r)
			err = apperrors.NewTransportError("engine "+op+" failed", fmt.Errorf("panic: %v", r))
		}
	}()
	return fn()
}
