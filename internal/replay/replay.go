// Package replay feeds captured pipeline traffic from a pcap file into the
// ingest channels, as if it had arrived on the live listeners.
package replay

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/banshee-data/passive.radar/internal/monitoring"
)

var logf = monitoring.Prefixed("replay")

// Target receives TCP payload bytes. *ingest.Channel implements it.
type Target interface {
	Feed(chunk []byte)
}

// Config maps TCP destination ports to the channel that listens on them.
type Config struct {
	Ports map[uint16]Target
	// Realtime sleeps between packets to match the capture's timing.
	Realtime bool
	// Speed scales Realtime pacing; values <= 0 mean 1.
	Speed float64
}

// Stats summarises one replay.
type Stats struct {
	Packets   int
	Delivered int
	Bytes     int
}

// File replays the pcap at path.
func File(ctx context.Context, path string, cfg Config) (Stats, error) {
	f, err := os.Open(path)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to open pcap file %s: %w", path, err)
	}
	defer f.Close()
	return Run(ctx, f, cfg)
}

// Run reads a classic pcap stream from r and delivers every TCP payload
// whose destination port is mapped in cfg.Ports, in capture order.
func Run(ctx context.Context, r io.Reader, cfg Config) (Stats, error) {
	var stats Stats

	reader, err := pcapgo.NewReader(r)
	if err != nil {
		return stats, fmt.Errorf("failed to read pcap header: %w", err)
	}

	speed := cfg.Speed
	if speed <= 0 {
		speed = 1
	}

	source := gopacket.NewPacketSource(reader, reader.LinkType())
	startTime := time.Now()
	var prev time.Time

	for {
		packet, err := source.NextPacket()
		if err == io.EOF {
			logf("pcap replay complete: %d packets, %d delivered, %s in %v",
				stats.Packets, stats.Delivered, humanize.Bytes(uint64(stats.Bytes)), time.Since(startTime))
			return stats, nil
		}
		if err != nil {
			return stats, fmt.Errorf("read packet %d: %w", stats.Packets+1, err)
		}
		if err := ctx.Err(); err != nil {
			logf("pcap replay stopping due to context cancellation (processed %d packets)", stats.Packets)
			return stats, err
		}
		stats.Packets++

		tcpLayer := packet.Layer(layers.LayerTypeTCP)
		if tcpLayer == nil {
			continue
		}
		tcp, ok := tcpLayer.(*layers.TCP)
		if !ok || len(tcp.Payload) == 0 {
			continue
		}
		target, ok := cfg.Ports[uint16(tcp.DstPort)]
		if !ok {
			continue
		}

		if cfg.Realtime {
			ts := packet.Metadata().Timestamp
			if !prev.IsZero() && ts.After(prev) {
				wait := time.Duration(float64(ts.Sub(prev)) / speed)
				select {
				case <-ctx.Done():
					return stats, ctx.Err()
				case <-time.After(wait):
				}
			}
			prev = ts
		}

		target.Feed(tcp.Payload)
		stats.Delivered++
		stats.Bytes += len(tcp.Payload)
	}
}
