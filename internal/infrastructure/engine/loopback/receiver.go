package loopback

import (
	"fmt"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
)

// receiver is the far end of a link. It parses the RTP that reaches it and
// keeps RFC 3550 reception statistics for one source.
type receiver struct {
	ssrc uint32

	started  bool
	baseSeq  uint16
	maxSeq   uint16
	cycles   uint32
	received uint32

	expectedPrior uint32
	receivedPrior uint32

	pkt rtp.Packet
}

func newReceiver(ssrc uint32) *receiver {
	return &receiver{ssrc: ssrc}
}

// receive parses one packet off the wire. Packets from other sources are
// ignored.
func (r *receiver) receive(raw []byte) error {
	if err := r.pkt.Unmarshal(raw); err != nil {
		return fmt.Errorf("unmarshal rtp: %w", err)
	}
	if r.pkt.SSRC != r.ssrc {
		return nil
	}

	seq := r.pkt.SequenceNumber
	switch {
	case !r.started:
		r.started = true
		r.baseSeq, r.maxSeq = seq, seq
	default:
		// Forward jumps of less than half the space advance the window;
		// anything else is reordering or a duplicate.
		if delta := seq - r.maxSeq; delta != 0 && delta < 0x8000 {
			if seq < r.maxSeq {
				r.cycles += 1 << 16
			}
			r.maxSeq = seq
		}
	}
	r.received++
	return nil
}

func (r *receiver) extendedMax() uint32 {
	return r.cycles + uint32(r.maxSeq)
}

// report closes the reception interval. FractionLost covers the packets
// expected since the previous report, TotalLost the whole stream.
func (r *receiver) report() rtcp.ReceptionReport {
	rep := rtcp.ReceptionReport{SSRC: r.ssrc}
	if !r.started {
		return rep
	}

	expected := r.extendedMax() - uint32(r.baseSeq) + 1
	expectedInterval := expected - r.expectedPrior
	receivedInterval := r.received - r.receivedPrior
	r.expectedPrior, r.receivedPrior = expected, r.received

	if expectedInterval > 0 && expectedInterval > receivedInterval {
		lost := (expectedInterval - receivedInterval) << 8 / expectedInterval
		rep.FractionLost = uint8(min(lost, 255))
	}
	if expected > r.received {
		rep.TotalLost = min(expected-r.received, 0xffffff)
	}
	rep.LastSequenceNumber = r.extendedMax()
	return rep
}
