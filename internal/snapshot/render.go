// Package snapshot renders waveform images of alerts after a delay.
package snapshot

import (
	"errors"
	"fmt"
	"image/color"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/rewired-gh/seisguard/internal/filter"
	"github.com/rewired-gh/seisguard/internal/waveform"
)

var ErrEmptyWindow = errors.New("snapshot: no samples to render")

var (
	traceColor  = color.RGBA{R: 30, G: 60, B: 140, A: 255}
	markerColor = color.RGBA{R: 200, G: 30, B: 30, A: 255}
)

// Band is an optional display band-pass applied with zero phase before plotting.
type Band struct {
	Low, High float64
	Order     int
}

// Render plots w to a PNG at path with time in seconds relative to marker on the X
// axis. A vertical line is drawn at marker when it falls inside the window.
func Render(w waveform.Window, title string, marker time.Time, band *Band, path string) error {
	if len(w.Samples) == 0 || w.Rate <= 0 {
		return ErrEmptyWindow
	}

	samples := append([]float64(nil), w.Samples...)
	floats.AddConst(-stat.Mean(samples, nil), samples)
	if band != nil {
		c, err := filter.ButterworthBandpass(band.Order, band.Low, band.High, w.Rate)
		if err != nil {
			return fmt.Errorf("snapshot: display filter: %w", err)
		}
		samples = filter.FiltFilt(c, samples)
	}

	start := w.Start().Sub(marker).Seconds()
	pts := make(plotter.XYs, len(samples))
	for i, v := range samples {
		pts[i] = plotter.XY{X: start + float64(i)/w.Rate, Y: v}
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = fmt.Sprintf("Seconds from %s", marker.UTC().Format("2006-01-02 15:04:05 MST"))
	p.Y.Label.Text = "Counts"
	p.Add(plotter.NewGrid())

	line, err := plotter.NewLine(pts)
	if err != nil {
		return err
	}
	line.Color = traceColor
	line.Width = vg.Points(0.6)
	p.Add(line)
	p.Legend.Add(w.Channel, line)

	end := pts[len(pts)-1].X
	if start <= 0 && end >= 0 {
		lo, hi := floats.Min(samples), floats.Max(samples)
		if lo == hi {
			lo, hi = lo-1, hi+1
		}
		m, err := plotter.NewLine(plotter.XYs{{X: 0, Y: lo}, {X: 0, Y: hi}})
		if err != nil {
			return err
		}
		m.Color = markerColor
		m.Width = vg.Points(1)
		m.Dashes = []vg.Length{vg.Points(4), vg.Points(3)}
		p.Add(m)
		p.Legend.Add("trigger", m)
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	p.Legend.ThumbnailWidth = 0.5 * vg.Centimeter

	if err := p.Save(12*vg.Inch, 4*vg.Inch, path); err != nil {
		return fmt.Errorf("failed to save snapshot %s: %w", path, err)
	}
	return nil
}
