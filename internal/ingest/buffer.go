package ingest

import (
	"errors"
	"sync"

	"github.com/banshee-data/queue.report/internal/monitoring"
	"github.com/banshee-data/queue.report/internal/probe"
)

// Buffer accumulates detections between flushes. The receive loop only
// appends; the flusher swaps the whole slice out under the same lock.
type Buffer struct {
	mu   sync.Mutex
	dets []probe.Detection
}

func (b *Buffer) Add(d probe.Detection) {
	b.mu.Lock()
	b.dets = append(b.dets, d)
	b.mu.Unlock()
}

// Swap returns the buffered detections and leaves the buffer empty.
func (b *Buffer) Swap() []probe.Detection {
	b.mu.Lock()
	out := b.dets
	b.dets = nil
	b.mu.Unlock()
	return out
}

func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.dets)
}

// Ingestor decodes, normalises and buffers datagrams. It is the handler
// shared by the UDP listener and pcap replay.
type Ingestor struct {
	Normalizer *Normalizer
	Buffer     *Buffer
}

// HandleDatagram processes one datagram. Errors are returned for the caller
// to count or log; they never affect later datagrams.
func (in *Ingestor) HandleDatagram(b []byte) error {
	r, err := DecodeReport(b)
	if err != nil {
		monitoring.DatagramsTotal.WithLabelValues(monitoring.DatagramMalformed).Inc()
		return err
	}
	d, err := in.Normalizer.Normalize(r)
	if err != nil {
		if errors.Is(err, ErrUnknownReceiver) {
			monitoring.DatagramsTotal.WithLabelValues(monitoring.DatagramUnknownReceiver).Inc()
		} else {
			monitoring.DatagramsTotal.WithLabelValues(monitoring.DatagramMalformed).Inc()
		}
		return err
	}
	in.Buffer.Add(d)
	monitoring.DatagramsTotal.WithLabelValues(monitoring.DatagramAccepted).Inc()
	return nil
}
