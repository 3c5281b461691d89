package ingest

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// ReplayStats summarises a pcap replay.
type ReplayStats struct {
	Packets  int // UDP packets addressed to the port
	Accepted int
	Rejected int
}

// ReplayPCAP feeds every UDP payload sent to udpPort in a pcap capture to
// handler, the same way the live listener would. A port of 0 matches any
// destination port.
func ReplayPCAP(ctx context.Context, path string, udpPort int, handler DatagramHandler) (ReplayStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return ReplayStats{}, fmt.Errorf("failed to open PCAP file %s: %w", path, err)
	}
	defer f.Close()
	return replayReader(ctx, f, udpPort, handler)
}

func replayReader(ctx context.Context, src io.Reader, udpPort int, handler DatagramHandler) (ReplayStats, error) {
	var stats ReplayStats
	r, err := pcapgo.NewReader(src)
	if err != nil {
		return stats, fmt.Errorf("failed to read PCAP header: %w", err)
	}

	packetSource := gopacket.NewPacketSource(r, r.LinkType())
	packetSource.NoCopy = true
	start := time.Now()
	for {
		select {
		case <-ctx.Done():
			log.Printf("PCAP replay stopping due to context cancellation (processed %d packets)", stats.Packets)
			return stats, ctx.Err()
		case packet, ok := <-packetSource.Packets():
			if !ok || packet == nil {
				log.Printf("PCAP replay complete: %d packets (%d accepted, %d rejected) in %v",
					stats.Packets, stats.Accepted, stats.Rejected, time.Since(start))
				return stats, nil
			}
			udpLayer := packet.Layer(layers.LayerTypeUDP)
			if udpLayer == nil {
				continue
			}
			udp, ok := udpLayer.(*layers.UDP)
			if !ok || len(udp.Payload) == 0 {
				continue
			}
			if udpPort != 0 && int(udp.DstPort) != udpPort {
				continue
			}
			stats.Packets++
			if err := handler.HandleDatagram(udp.Payload); err != nil {
				stats.Rejected++
				continue
			}
			stats.Accepted++
		}
	}
}
