package receiver

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/seisguard/internal/mseed/mseedtest"
)

var t0 = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func collect(out chan []byte) [][]byte {
	var got [][]byte
	for {
		select {
		case b := <-out:
			got = append(got, b)
		default:
			return got
		}
	}
}

// ─── UDP ───────────────────────────────────────────────────────────────────

func TestUDPListener(t *testing.T) {
	l := NewUDPListener(UDPConfig{Address: "127.0.0.1:0", RcvBuf: 1 << 16})
	require.NoError(t, l.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan []byte, 4)
	done := make(chan error, 1)
	go func() { done <- l.Serve(ctx, out) }()

	conn, err := net.Dial("udp", l.LocalAddr().String())
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write([]byte("{'EHZ', 1, 2, 3}"))
	require.NoError(t, err)

	select {
	case got := <-out:
		assert.Equal(t, "{'EHZ', 1, 2, 3}", string(got))
	case <-time.After(2 * time.Second):
		t.Fatal("datagram not received")
	}
	assert.Equal(t, uint64(1), l.Received())

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not stop")
	}
}

func TestUDPListenerBadAddress(t *testing.T) {
	l := NewUDPListener(UDPConfig{Address: "not-an-address"})
	assert.Error(t, l.Serve(context.Background(), make(chan []byte)))
	assert.Nil(t, l.LocalAddr())
}

// ─── File replay ───────────────────────────────────────────────────────────

func writeRecords(t *testing.T, n int) (string, [][]byte) {
	t.Helper()
	var recs [][]byte
	var buf bytes.Buffer
	for i := 0; i < n; i++ {
		rec := mseedtest.Record{
			Network: "AM", Station: "R1234", Location: "00", Channel: "EHZ",
			Start:   t0.Add(time.Duration(i) * 100 * time.Millisecond),
			Samples: []int32{int32(i), int32(i + 1), int32(i + 2)},
		}.Bytes()
		recs = append(recs, rec)
		buf.Write(rec)
	}
	path := filepath.Join(t.TempDir(), "trace.mseed")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path, recs
}

func TestReplayFile(t *testing.T) {
	path, recs := writeRecords(t, 3)
	out := make(chan []byte, 8)
	require.NoError(t, ReplayFile(context.Background(), path, 0, out))

	got := collect(out)
	require.Len(t, got, 3)
	for i := range recs {
		assert.Equal(t, recs[i], got[i])
	}
}

func TestReplayFilePaced(t *testing.T) {
	path, _ := writeRecords(t, 3)
	out := make(chan []byte, 8)
	start := time.Now()
	require.NoError(t, ReplayFile(context.Background(), path, 2, out))

	// records 100 ms apart at double speed
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
	assert.Len(t, collect(out), 3)
}

func TestReplayFileMissing(t *testing.T) {
	assert.Error(t, ReplayFile(context.Background(), filepath.Join(t.TempDir(), "nope"), 0, make(chan []byte)))
}

func TestReplayFileCancelled(t *testing.T) {
	path, _ := writeRecords(t, 3)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, ReplayFile(ctx, path, 0, make(chan []byte)), context.Canceled)
}

// ─── PCAP replay ───────────────────────────────────────────────────────────

func udpFrame(t *testing.T, dstPort uint16, payload []byte) []byte {
	t.Helper()
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 1},
		DstMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 2},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version: 4, TTL: 64, Protocol: layers.IPProtocolUDP,
		SrcIP: net.IPv4(192, 168, 1, 10), DstIP: net.IPv4(192, 168, 1, 20),
	}
	udp := &layers.UDP{SrcPort: 40000, DstPort: layers.UDPPort(dstPort)}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(payload)))
	return buf.Bytes()
}

func writeCapture(t *testing.T, frames [][]byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "capture.pcap")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := pcapgo.NewWriter(f)
	require.NoError(t, w.WriteFileHeader(65536, layers.LinkTypeEthernet))
	for i, fr := range frames {
		ci := gopacket.CaptureInfo{
			Timestamp:     t0.Add(time.Duration(i) * 50 * time.Millisecond),
			CaptureLength: len(fr),
			Length:        len(fr),
		}
		require.NoError(t, w.WritePacket(ci, fr))
	}
	return path
}

func TestReplayPCAP(t *testing.T) {
	path := writeCapture(t, [][]byte{
		udpFrame(t, 8888, []byte("{'EHZ', 1, 2}")),
		udpFrame(t, 9999, []byte("other port")),
		udpFrame(t, 8888, []byte("{'EHZ', 2, 3}")),
	})

	out := make(chan []byte, 8)
	require.NoError(t, ReplayPCAP(context.Background(), path, 8888, 0, out))
	got := collect(out)
	require.Len(t, got, 2)
	assert.Equal(t, "{'EHZ', 1, 2}", string(got[0]))
	assert.Equal(t, "{'EHZ', 2, 3}", string(got[1]))

	out = make(chan []byte, 8)
	require.NoError(t, ReplayPCAP(context.Background(), path, 0, 0, out))
	assert.Len(t, collect(out), 3)
}

func TestReplayPCAPNotACapture(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.pcap")
	require.NoError(t, os.WriteFile(path, []byte("definitely not pcap"), 0o644))
	assert.Error(t, ReplayPCAP(context.Background(), path, 0, 0, make(chan []byte)))
}
