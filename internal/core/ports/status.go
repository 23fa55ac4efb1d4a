package ports

import (
	"livecast/internal/core/domain"
)

// StatusSink receives read-only status for the UI. Implementations must not block.
type StatusSink interface {
	PublishStatus(update domain.StatusUpdate)
	PublishNotice(notice domain.Notice)
	PublishChange(change domain.ConfigurationChange)
}

type MetricsRecorder interface {
	ConnectionRegistered(protocol domain.Protocol)
	ConnectionReleased(protocol domain.Protocol)
	DisconnectObserved(status domain.Status, retried bool)
	RetryScheduled()
	RetryFired()
	PendingRetries(n int64)
	ConnectionStats(stats domain.ConnectionStatistics)
	ConnectionStatsRemoved(id domain.ConnectionID)
	SamplesDropped(n int)
	QualityDecision(decision domain.QualityDecision)
	AdjustmentApplied(field string, ok bool)
	SettingApplied(category domain.SettingCategory, ok bool)
}
