package loopback

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"livecast/internal/core/domain"
	"livecast/pkg/optimize"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
)

const (
	rtpHeaderSize    = 12
	maxPayload       = 1200
	videoPayloadType = 96
	audioPayloadType = 111
	videoClockRate   = 90000
	audioClockRate   = 48000
)

// Shared by every link; each packetize call marshals into one buffer.
var packetBuffers = optimize.NewBytePool(rtpHeaderSize + maxPayload)

type link struct {
	id       domain.ConnectionID
	protocol domain.Protocol
	mode     domain.Mode
	ssrc     uint32
	cancel   context.CancelFunc

	mu        sync.Mutex
	state     domain.ConnectionState
	seq       uint16
	videoTS   uint32
	audioTS   uint32
	window    int64
	dropRate  uint8
	dropAcc   uint32
	rx        *receiver
	lastLoss  [2]uint8
	reports   int
	payload   []byte
	bandwidth atomic.Int64
	traffic   atomic.Int64
}

func newLink(id domain.ConnectionID, protocol domain.Protocol, mode domain.Mode, ssrc uint32, cancel context.CancelFunc) *link {
	return &link{
		id:       id,
		protocol: protocol,
		mode:     mode,
		ssrc:     ssrc,
		cancel:   cancel,
		state:    domain.StateInitialized,
		payload:  make([]byte, maxPayload),
		rx:       newReceiver(ssrc),
	}
}

func (l *link) setState(s domain.ConnectionState) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

// setLoss drops fraction/256 of the packets between sender and receiver.
func (l *link) setLoss(fraction uint8) {
	l.mu.Lock()
	l.dropRate = fraction
	l.mu.Unlock()
}

// dropped spreads drops evenly over the packet stream.
func (l *link) dropped() bool {
	l.dropAcc += uint32(l.dropRate)
	if l.dropAcc >= 256 {
		l.dropAcc -= 256
		return true
	}
	return false
}

// packetize emits one interval worth of media as RTP packets, counts the
// bytes on the wire and delivers what survives the drop rate to the receiver.
func (l *link) packetize(videoBps, audioBps int, interval time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	buf := packetBuffers.Get()
	defer packetBuffers.Put(buf)

	var sent int64
	for _, stream := range []struct {
		bps       int
		pt        uint8
		clockRate uint32
		ts        *uint32
	}{
		{videoBps, videoPayloadType, videoClockRate, &l.videoTS},
		{audioBps, audioPayloadType, audioClockRate, &l.audioTS},
	} {
		if stream.bps <= 0 {
			continue
		}
		remaining := int(int64(stream.bps) * interval.Milliseconds() / 8000)
		for remaining > 0 {
			n := min(remaining, maxPayload)
			pkt := rtp.Packet{
				Header: rtp.Header{
					Version:        2,
					Marker:         n == remaining,
					PayloadType:    stream.pt,
					SequenceNumber: l.seq,
					Timestamp:      *stream.ts,
					SSRC:           l.ssrc,
				},
				Payload: l.payload[:n],
			}
			size, err := pkt.MarshalTo(*buf)
			if err != nil {
				return fmt.Errorf("marshal rtp: %w", err)
			}
			sent += int64(size)
			l.seq++
			if !l.dropped() {
				if err := l.rx.receive((*buf)[:size]); err != nil {
					return err
				}
			}
			remaining -= n
		}
		*stream.ts += uint32(int64(stream.clockRate) * interval.Milliseconds() / 1000)
	}

	l.window += sent
	l.traffic.Add(sent)
	return nil
}

// report closes the current measurement window. The receiver's reception
// report crosses back to the sender as an RTCP receiver report.
func (l *link) report(interval time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if secs := interval.Seconds(); secs > 0 {
		l.bandwidth.Store(int64(float64(l.window*8) / secs))
	}
	l.window = 0

	rr := &rtcp.ReceiverReport{
		SSRC:    l.ssrc ^ 0xffffffff,
		Reports: []rtcp.ReceptionReport{l.rx.report()},
	}
	raw, err := rr.Marshal()
	if err != nil {
		return fmt.Errorf("marshal rtcp: %w", err)
	}
	return l.onFeedback(raw)
}

// onFeedback is the sender side of the RTCP loop.
func (l *link) onFeedback(raw []byte) error {
	packets, err := rtcp.Unmarshal(raw)
	if err != nil {
		return fmt.Errorf("unmarshal rtcp: %w", err)
	}
	for _, p := range packets {
		rr, ok := p.(*rtcp.ReceiverReport)
		if !ok {
			continue
		}
		for _, r := range rr.Reports {
			if r.SSRC != l.ssrc {
				continue
			}
			l.lastLoss[0], l.lastLoss[1] = l.lastLoss[1], r.FractionLost
			l.reports++
		}
	}
	return nil
}

// lossIncreasing compares the two most recent receiver reports.
func (l *link) lossIncreasing() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reports >= 2 && l.lastLoss[1] > l.lastLoss[0]
}
