package training

import (
	"errors"
	"image/color"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// SaveLossPlot renders the per-step generator and discriminator loss
// histories to a PNG line chart.
func SaveLossPlot(path string, gLosses, dLosses []float32) error {
	if len(gLosses) == 0 && len(dLosses) == 0 {
		return errors.New("no loss history to plot")
	}

	p := plot.New()
	p.Title.Text = "Generator and Discriminator Loss"
	p.X.Label.Text = "iteration"
	p.Y.Label.Text = "loss"

	gLine, err := plotter.NewLine(toXYs(gLosses))
	if err != nil {
		return err
	}
	gLine.Color = color.RGBA{B: 255, A: 255}

	dLine, err := plotter.NewLine(toXYs(dLosses))
	if err != nil {
		return err
	}
	dLine.Color = color.RGBA{R: 255, A: 255}

	p.Add(gLine, dLine)
	p.Legend.Add("G", gLine)
	p.Legend.Add("D", dLine)

	return p.Save(8*vg.Inch, 5*vg.Inch, path)
}

func toXYs(values []float32) plotter.XYs {
	xys := make(plotter.XYs, len(values))
	for i, v := range values {
		xys[i].X = float64(i)
		xys[i].Y = float64(v)
	}
	return xys
}
