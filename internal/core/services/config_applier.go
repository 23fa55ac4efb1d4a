package services

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"livecast/internal/core/domain"
	"livecast/internal/core/ports"
	apperrors "livecast/pkg/errors"
	"livecast/pkg/logger"
	"livecast/pkg/tracing"
	"livecast/pkg/validation"

	"go.uber.org/zap"
)

// Setting keys with a runtime effect. Any other key is stored as a
// preference only.
const (
	KeyVideoBitrate          = "stream_video_bitrate"
	KeyVideoSize             = "stream_video_size"
	KeyVideoFPS              = "stream_video_fps"
	KeyStreamResolutionIndex = "stream_resolution_index"
	KeyRecordResolutionIndex = "record_resolution_index"
	KeyAudioBitrate          = "audio_bitrate"
)

// ClassifySetting picks a category from substrings of the key. Order matters:
// "record_video_size" is a recording setting, not a streaming one.
func ClassifySetting(key string) domain.SettingCategory {
	k := strings.ToLower(key)
	switch {
	case strings.Contains(k, "audio"):
		return domain.CategoryAudio
	case strings.Contains(k, "record"):
		return domain.CategoryRecording
	case containsAny(k, "stream", "video", "bitrate", "fps", "resolution"):
		return domain.CategoryStreaming
	case containsAny(k, "network", "srt", "rist", "rtmp", "reconnect", "retry"):
		return domain.CategoryNetwork
	case containsAny(k, "visual", "zoom", "camera", "overlay", "orientation", "theme"):
		return domain.CategoryVisual
	default:
		return domain.CategoryAdvanced
	}
}

// ConfigApplier validates runtime setting changes, forwards them to the
// encoder and persists the accepted value.
type ConfigApplier struct {
	encoder ports.EncoderConfigurator
	prefs   ports.PreferenceStore
	sink    ports.StatusSink
	metrics ports.MetricsRecorder
	logger  *zap.SugaredLogger
	clog    *logger.ContextLogger
	now     func() time.Time
}

func NewConfigApplier(
	encoder ports.EncoderConfigurator,
	prefs ports.PreferenceStore,
	sink ports.StatusSink,
	metrics ports.MetricsRecorder,
	logger *zap.SugaredLogger,
) *ConfigApplier {
	return &ConfigApplier{
		encoder: encoder,
		prefs:   prefs,
		sink:    sinkOrNoop(sink),
		metrics: metricsOrNoop(metrics),
		logger:  loggerOrNop(logger),
		clog:    contextLogger(logger),
		now:     time.Now,
	}
}

// Apply reports whether the change was accepted.
func (a *ConfigApplier) Apply(ctx context.Context, key string, value interface{}, reason string) bool {
	_, err := a.ApplyChange(ctx, key, value, reason)
	return err == nil
}

// ApplyChange validates, forwards and persists one setting.
func (a *ConfigApplier) ApplyChange(ctx context.Context, key string, value interface{}, reason string) (domain.ConfigurationChange, error) {
	category := ClassifySetting(key)
	ctx, span := tracing.TraceSettingChange(ctx, key, string(category))
	defer span.End()

	change := domain.ConfigurationChange{
		Key:       key,
		Category:  category,
		Reason:    reason,
		Timestamp: a.now(),
	}

	if err := validation.ValidateSettingKey(key); err != nil {
		return change, a.fail(ctx, change, apperrors.WrapError(err, apperrors.ErrCodeInvalidInput, "invalid setting key", 400))
	}

	persisted, restart, err := a.dispatch(key, category, value)
	if err != nil {
		return change, a.fail(ctx, change, err)
	}
	change.NewValue = persisted
	change.RequiresRestart = restart
	change.OldValue = a.previous(ctx, key, persisted)

	if err := a.persist(ctx, key, persisted); err != nil {
		return change, a.fail(ctx, change, apperrors.WrapError(err, apperrors.ErrCodeServiceUnavailable, "preference store unavailable", 503).WithContext("key", key))
	}

	a.metrics.SettingApplied(category, true)
	a.sink.PublishChange(change)
	a.clog.Sugar(ctx).Infow("setting applied",
		"key", key,
		"category", category,
		"old_value", change.OldValue,
		"new_value", change.NewValue,
		"requires_restart", change.RequiresRestart,
		"reason", reason,
	)
	return change, nil
}

func (a *ConfigApplier) fail(ctx context.Context, change domain.ConfigurationChange, err error) error {
	tracing.RecordError(ctx, err)
	a.metrics.SettingApplied(change.Category, false)
	a.clog.Sugar(ctx).Warnw("setting rejected",
		"key", change.Key,
		"category", change.Category,
		"reason", change.Reason,
		"error", err,
	)
	return err
}

// dispatch runs the category handler and returns the value to persist.
func (a *ConfigApplier) dispatch(key string, category domain.SettingCategory, value interface{}) (interface{}, bool, error) {
	switch category {
	case domain.CategoryStreaming:
		return a.applyStreaming(key, value)
	case domain.CategoryRecording:
		return a.applyRecording(key, value)
	case domain.CategoryAudio:
		return a.applyAudio(key, value)
	case domain.CategoryNetwork:
		v, err := preferenceValue(value)
		return v, true, err
	default:
		v, err := preferenceValue(value)
		return v, false, err
	}
}

func (a *ConfigApplier) applyStreaming(key string, value interface{}) (interface{}, bool, error) {
	switch key {
	case KeyVideoBitrate:
		bps, err := toInt(value)
		if err == nil {
			err = validation.ValidateBitrate(bps)
		}
		if err != nil {
			return nil, false, invalidValue(key, err)
		}
		return bps, false, a.forward(key, func() error { return a.encoder.SetVideoBitrate(bps) })

	case KeyVideoSize:
		size, ok := value.(string)
		if !ok {
			return nil, false, invalidValue(key, fmt.Errorf("expected \"WxH\" string, got %T", value))
		}
		w, h, err := validation.ParseSize(size)
		if err != nil {
			return nil, false, invalidValue(key, err)
		}
		return fmt.Sprintf("%dx%d", w, h), false, a.forward(key, func() error { return a.encoder.SetVideoSize(w, h) })

	case KeyVideoFPS:
		fps, err := toInt(value)
		if err == nil {
			err = validation.ValidateFrameRate(fps)
		}
		if err != nil {
			return nil, false, invalidValue(key, err)
		}
		return fps, false, a.forward(key, func() error { return a.encoder.SetFrameRate(fps) })

	case KeyStreamResolutionIndex:
		idx, w, h, err := resolutionFromIndex(value)
		if err != nil {
			return nil, false, invalidValue(key, err)
		}
		return idx, false, a.forward(key, func() error { return a.encoder.SetVideoSize(w, h) })
	}

	v, err := preferenceValue(value)
	return v, false, err
}

func (a *ConfigApplier) applyRecording(key string, value interface{}) (interface{}, bool, error) {
	if key == KeyRecordResolutionIndex {
		idx, w, h, err := resolutionFromIndex(value)
		if err != nil {
			return nil, true, invalidValue(key, err)
		}
		return idx, true, a.forward(key, func() error { return a.encoder.SetRecordSize(w, h) })
	}
	v, err := preferenceValue(value)
	return v, false, err
}

func (a *ConfigApplier) applyAudio(key string, value interface{}) (interface{}, bool, error) {
	if key == KeyAudioBitrate {
		bps, err := toInt(value)
		if err == nil {
			err = validation.ValidateAudioBitrate(bps)
		}
		if err != nil {
			return nil, false, invalidValue(key, err)
		}
		return bps, false, a.forward(key, func() error { return a.encoder.SetAudioBitrate(bps) })
	}
	v, err := preferenceValue(value)
	return v, false, err
}

func (a *ConfigApplier) forward(key string, fn func() error) error {
	if a.encoder == nil {
		return nil
	}
	if err := guardEngine(a.logger, "configure "+key, fn); err != nil {
		return apperrors.NewAdjustmentError("encoder rejected "+key, err)
	}
	return nil
}

func (a *ConfigApplier) previous(ctx context.Context, key string, like interface{}) interface{} {
	if a.prefs == nil {
		return nil
	}
	var (
		v     interface{}
		found bool
		err   error
	)
	switch like.(type) {
	case int:
		v, found, err = a.prefs.GetInt(ctx, key)
	case bool:
		v, found, err = a.prefs.GetBool(ctx, key)
	case float64:
		v, found, err = a.prefs.GetFloat(ctx, key)
	default:
		v, found, err = a.prefs.GetString(ctx, key)
	}
	if err != nil {
		a.clog.Sugar(ctx).Debugw("previous value unavailable", "key", key, "error", err)
		return nil
	}
	if !found {
		return nil
	}
	return v
}

func (a *ConfigApplier) persist(ctx context.Context, key string, value interface{}) error {
	if a.prefs == nil {
		return nil
	}
	switch v := value.(type) {
	case int:
		return a.prefs.SetInt(ctx, key, v)
	case bool:
		return a.prefs.SetBool(ctx, key, v)
	case float64:
		return a.prefs.SetFloat(ctx, key, v)
	case string:
		return a.prefs.SetString(ctx, key, v)
	default:
		return a.prefs.SetString(ctx, key, fmt.Sprint(v))
	}
}

func resolutionFromIndex(value interface{}) (idx, w, h int, err error) {
	idx, err = toInt(value)
	if err != nil {
		return 0, 0, 0, err
	}
	size, err := domain.ResolutionAt(idx)
	if err != nil {
		return 0, 0, 0, err
	}
	w, h, err = validation.ParseSize(size)
	return idx, w, h, err
}

func invalidValue(key string, cause error) error {
	return apperrors.WrapError(
		fmt.Errorf("%w: %v", domain.ErrInvalidSettingValue, cause),
		apperrors.ErrCodeInvalidInput,
		"invalid value for "+key,
		400,
	).WithContext("key", key)
}

// normalizeValue maps loosely typed input (JSON numbers, int64) onto the
// preference store types.
func normalizeValue(value interface{}) (interface{}, error) {
	switch v := value.(type) {
	case bool, string, int:
		return v, nil
	case int32:
		return int(v), nil
	case int64:
		return int(v), nil
	case float32:
		return normalizeValue(float64(v))
	case float64:
		if v == math.Trunc(v) && math.Abs(v) < math.MaxInt32 {
			return int(v), nil
		}
		return v, nil
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return int(i), nil
		}
		f, err := v.Float64()
		if err != nil {
			return nil, invalidValue("value", err)
		}
		return f, nil
	case nil:
		return nil, invalidValue("value", fmt.Errorf("value is required"))
	default:
		return nil, invalidValue("value", fmt.Errorf("unsupported type %T", value))
	}
}

// preferenceValue is normalizeValue for values with no runtime effect. Null,
// objects and arrays are stored as their JSON text.
func preferenceValue(value interface{}) (interface{}, error) {
	if v, err := normalizeValue(value); err == nil {
		return v, nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, invalidValue("value", err)
	}
	return string(raw), nil
}

func toInt(value interface{}) (int, error) {
	if s, ok := value.(string); ok {
		return strconv.Atoi(strings.TrimSpace(s))
	}
	v, err := normalizeValue(value)
	if err != nil {
		return 0, err
	}
	i, ok := v.(int)
	if !ok {
		return 0, fmt.Errorf("expected integer, got %v", value)
	}
	return i, nil
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
