package status

import (
	"livecast/internal/core/domain"
	"livecast/internal/core/ports"
)

// Fanout forwards every update to each sink in order.
type Fanout []ports.StatusSink

func NewFanout(sinks ...ports.StatusSink) Fanout {
	out := make(Fanout, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (f Fanout) PublishStatus(update domain.StatusUpdate) {
	for _, s := range f {
		s.PublishStatus(update)
	}
}

func (f Fanout) PublishNotice(notice domain.Notice) {
	for _, s := range f {
		s.PublishNotice(notice)
	}
}

func (f Fanout) PublishChange(change domain.ConfigurationChange) {
	for _, s := range f {
		s.PublishChange(change)
	}
}
