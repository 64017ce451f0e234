package receiver

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rewired-gh/seisguard/internal/logger"
	"github.com/rewired-gh/seisguard/internal/mseed"
)

// ReplayFile sends each MiniSEED record of the file at path to out. With speed > 0
// records are paced by their start times, speed 1 being real time; otherwise they
// are sent as fast as the queue accepts them. It returns nil at end of file.
func ReplayFile(ctx context.Context, path string, speed float64, out chan<- []byte) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	var (
		count      int
		firstStart time.Time
		wallStart  = time.Now()
	)
	for off := 0; off+mseed.FixedHeaderSize <= len(data); {
		length := mseed.DefaultRecordLength
		h, err := mseed.ParseHeader(data[off:])
		if err != nil {
			logger.Warn("Record at offset %d of %s unreadable: %v", off, path, err)
		} else {
			length = h.RecordLength
		}
		end := off + length
		if end > len(data) {
			end = len(data)
		}

		if err == nil && speed > 0 {
			if firstStart.IsZero() {
				firstStart = h.StartTime
			}
			due := wallStart.Add(time.Duration(float64(h.StartTime.Sub(firstStart)) / speed))
			if err := sleepUntil(ctx, due); err != nil {
				return err
			}
		}

		if err := send(ctx, out, append([]byte(nil), data[off:end]...)); err != nil {
			return err
		}
		count++
		off = end
	}
	logger.Info("Replay of %s complete: %d records", path, count)
	return nil
}

func sleepUntil(ctx context.Context, due time.Time) error {
	d := time.Until(due)
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
