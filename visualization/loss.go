// Package visualization renders ensemble loss trajectories with gonum/plot.
package visualization

import (
	"io"
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/revit3d/WebEnsemble/pkg/errors"
)

// Default canvas size.
const (
	Width  = 8 * vg.Inch
	Height = 4 * vg.Inch
)

// Curve is one named loss trajectory; point k is plotted at x = k+1 members.
type Curve struct {
	Name   string
	Values []float64
}

// LossPlot draws the curves on one plot. Non-finite values are skipped.
func LossPlot(title string, curves ...Curve) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "members"
	p.Y.Label.Text = "MSE"
	p.Add(plotter.NewGrid())

	drawn := 0
	for i, c := range curves {
		pts := make(plotter.XYs, 0, len(c.Values))
		for k, v := range c.Values {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			pts = append(pts, plotter.XY{X: float64(k + 1), Y: v})
		}
		if len(pts) == 0 {
			continue
		}

		line, err := plotter.NewLine(pts)
		if err != nil {
			return nil, errors.Wrapf(err, "curve %q", c.Name)
		}
		line.Color = plotutil.Color(i)
		line.Dashes = plotutil.Dashes(i)
		p.Add(line)
		p.Legend.Add(c.Name, line)
		drawn++
	}
	if drawn == 0 {
		return nil, errors.Wrap(errors.ErrEmptyData, "LossPlot: no finite values")
	}
	p.Legend.Top = true
	return p, nil
}

// WriteLossPlot renders the plot in format ("png", "svg", "pdf", ...) to w.
func WriteLossPlot(w io.Writer, format, title string, curves ...Curve) error {
	p, err := LossPlot(title, curves...)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(Width, Height, format)
	if err != nil {
		return errors.Wrapf(err, "render %s", format)
	}
	_, err = wt.WriteTo(w)
	return errors.Wrap(err, "write plot")
}

// SaveLossPlot writes the plot to path; the extension selects the format.
func SaveLossPlot(path, title string, curves ...Curve) error {
	p, err := LossPlot(title, curves...)
	if err != nil {
		return err
	}
	return errors.Wrapf(p.Save(Width, Height, path), "save %s", path)
}
