package receiver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/rewired-gh/seisguard/internal/logger"
)

// ReplayPCAP sends the payload of every UDP datagram in a pcap capture whose
// destination port is port (any port if port is 0) to out. With speed > 0 the
// capture timestamps pace the replay. It returns nil at end of capture.
func ReplayPCAP(ctx context.Context, path string, port int, speed float64, out chan<- []byte) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open PCAP file %s: %w", path, err)
	}
	defer f.Close()

	r, err := pcapgo.NewReader(f)
	if err != nil {
		return fmt.Errorf("failed to read PCAP header of %s: %w", path, err)
	}
	return replayPackets(ctx, r, r.LinkType(), port, speed, out)
}

func replayPackets(ctx context.Context, src gopacket.PacketDataSource, link layers.LinkType, port int, speed float64, out chan<- []byte) error {
	var (
		count, skipped int
		firstCapture   time.Time
		wallStart      = time.Now()
	)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		data, ci, err := src.ReadPacketData()
		if errors.Is(err, io.EOF) {
			logger.Info("PCAP replay complete: %d datagrams sent, %d packets skipped", count, skipped)
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read packet %d: %w", count+skipped+1, err)
		}

		packet := gopacket.NewPacket(data, link, gopacket.DecodeOptions{Lazy: true, NoCopy: true})
		udpLayer := packet.Layer(layers.LayerTypeUDP)
		if udpLayer == nil {
			skipped++
			continue
		}
		udp, ok := udpLayer.(*layers.UDP)
		if !ok || len(udp.Payload) == 0 || (port != 0 && int(udp.DstPort) != port) {
			skipped++
			continue
		}

		if speed > 0 {
			if firstCapture.IsZero() {
				firstCapture = ci.Timestamp
			}
			due := wallStart.Add(time.Duration(float64(ci.Timestamp.Sub(firstCapture)) / speed))
			if err := sleepUntil(ctx, due); err != nil {
				return err
			}
		}

		if err := send(ctx, out, append([]byte(nil), udp.Payload...)); err != nil {
			return err
		}
		count++
	}
}
