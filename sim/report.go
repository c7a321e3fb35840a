package sim

import (
	"fmt"
	"image/color"
	"math"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"go.viam.com/swerve/kinematics"
	"go.viam.com/swerve/utils"
)

// ErrorSummary describes how far the estimate was from the truth over a run.
type ErrorSummary struct {
	Samples         int
	MeanM           float64
	MedianM         float64
	P95M            float64
	MaxM            float64
	StdDevM         float64
	MeanHeadingDegs float64
	MaxHeadingDegs  float64
}

// Summarize computes the position and heading error statistics of a trace.
func Summarize(trace []TracePoint) (ErrorSummary, error) {
	if len(trace) == 0 {
		return ErrorSummary{}, errors.New("cannot summarize an empty trace")
	}
	position := make([]float64, 0, len(trace))
	heading := make([]float64, 0, len(trace))
	for _, p := range trace {
		position = append(position, p.Truth.Point().Sub(p.Estimate.Point()).Norm())
		heading = append(heading, math.Abs(utils.RadToDeg(utils.AngleDiff(p.Estimate.Theta, p.Truth.Theta))))
	}

	var summary ErrorSummary
	var err error
	summary.Samples = len(trace)
	if summary.MeanM, err = stats.Mean(position); err != nil {
		return ErrorSummary{}, err
	}
	if summary.MedianM, err = stats.Median(position); err != nil {
		return ErrorSummary{}, err
	}
	if summary.P95M, err = stats.Percentile(position, 95); err != nil {
		return ErrorSummary{}, err
	}
	if summary.MaxM, err = stats.Max(position); err != nil {
		return ErrorSummary{}, err
	}
	if summary.StdDevM, err = stats.StandardDeviation(position); err != nil {
		return ErrorSummary{}, err
	}
	if summary.MeanHeadingDegs, err = stats.Mean(heading); err != nil {
		return ErrorSummary{}, err
	}
	if summary.MaxHeadingDegs, err = stats.Max(heading); err != nil {
		return ErrorSummary{}, err
	}
	return summary, nil
}

// String prints the summary as a table.
func (s ErrorSummary) String() string {
	t := table.NewWriter()
	t.SetTitle(fmt.Sprintf("estimate error over %d cycles", s.Samples))
	t.AppendHeader(table.Row{"Metric", "Position (m)", "Heading (°)"})
	t.AppendRow(table.Row{"mean", fmt.Sprintf("%.4f", s.MeanM), fmt.Sprintf("%.3f", s.MeanHeadingDegs)})
	t.AppendRow(table.Row{"median", fmt.Sprintf("%.4f", s.MedianM), ""})
	t.AppendRow(table.Row{"p95", fmt.Sprintf("%.4f", s.P95M), ""})
	t.AppendRow(table.Row{"max", fmt.Sprintf("%.4f", s.MaxM), fmt.Sprintf("%.3f", s.MaxHeadingDegs)})
	t.AppendRow(table.Row{"std dev", fmt.Sprintf("%.4f", s.StdDevM), ""})
	return t.Render()
}

// ModuleTable prints one row per module with its measured state and position.
func ModuleTable(names []string, states []kinematics.ModuleState, positions []kinematics.ModulePosition) string {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"#", "Module", "Speed (m/s)", "Angle (°)", "Distance (m)"})
	for i, name := range names {
		row := table.Row{fmt.Sprintf("%d", i), name, "", "", ""}
		if i < len(states) {
			row[2] = fmt.Sprintf("%.3f", states[i].Speed)
			row[3] = fmt.Sprintf("%.1f", utils.RadToDeg(states[i].Angle))
		}
		if i < len(positions) {
			row[4] = fmt.Sprintf("%.3f", positions[i].Distance)
		}
		t.AppendRow(row)
	}
	return t.Render()
}

// PlotTrace draws the true and estimated paths of a trace and saves the plot to path. The image
// format follows the file extension.
func PlotTrace(trace []TracePoint, title, path string) error {
	if len(trace) == 0 {
		return errors.New("cannot plot an empty trace")
	}
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "x (m)"
	p.Y.Label.Text = "y (m)"
	p.Add(plotter.NewGrid())

	truth := make(plotter.XYs, len(trace))
	estimate := make(plotter.XYs, len(trace))
	for i, pt := range trace {
		truth[i].X, truth[i].Y = pt.Truth.X, pt.Truth.Y
		estimate[i].X, estimate[i].Y = pt.Estimate.X, pt.Estimate.Y
	}

	truthLine, err := plotter.NewLine(truth)
	if err != nil {
		return err
	}
	truthLine.LineStyle.Width = vg.Points(2)
	truthLine.LineStyle.Color = color.RGBA{B: 200, A: 255}

	estimateLine, err := plotter.NewLine(estimate)
	if err != nil {
		return err
	}
	estimateLine.LineStyle.Width = vg.Points(1.5)
	estimateLine.LineStyle.Color = color.RGBA{R: 220, G: 60, A: 255}
	estimateLine.LineStyle.Dashes = []vg.Length{vg.Points(4), vg.Points(3)}

	p.Add(truthLine, estimateLine)
	p.Legend.Add("truth", truthLine)
	p.Legend.Add("estimate", estimateLine)
	p.Legend.Top = true

	return p.Save(6*vg.Inch, 6*vg.Inch, path)
}
