package status

import (
	"testing"

	"livecast/internal/core/domain"

	"github.com/stretchr/testify/assert"
)

type countingSink struct {
	statuses, notices, changes int
}

func (s *countingSink) PublishStatus(domain.StatusUpdate) { s.statuses++ }
func (s *countingSink) PublishNotice(domain.Notice) { s.notices++ }
func (s *countingSink) PublishChange(domain.ConfigurationChange) { s.changes++ }

func TestFanout_ForwardsToEverySink(t *testing.T) {
	a, b := &countingSink{}, &countingSink{}
	f := NewFanout(a, nil, b)

	f.PublishStatus(domain.StatusUpdate{})
	f.PublishNotice(domain.Notice{})
	f.PublishChange(domain.ConfigurationChange{})

	assert.Len(t, f, 2)
	for _, s := range []*countingSink{a, b} {
		assert.Equal(t, 1, s.statuses)
		assert.Equal(t, 1, s.notices)
		assert.Equal(t, 1, s.changes)
	}
}
