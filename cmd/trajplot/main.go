// Command trajplot renders the reference of every scripted maneuver to PNG
// files: the x-y and x-z paths and yaw against time.
package main

import (
	"flag"
	"fmt"
	"image/color"
	"log"
	"os"
	"path/filepath"
	"time"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/coaxctl/internal/flight/trajectory"
)

var (
	outDir   = flag.String("out", "trajplots", "Output directory for PNG files")
	duration = flag.Duration("duration", 20*time.Second, "Time span sampled for each maneuver")
	step     = flag.Duration("step", 10*time.Millisecond, "Sampling step")
)

var (
	pathColor  = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	startColor = color.RGBA{R: 214, G: 39, B: 40, A: 255}
)

// series holds one maneuver sampled over time.
type series struct {
	xy, xz, yaw plotter.XYs
	start       trajectory.Pose
}

func sample(m trajectory.Maneuver, span, dt time.Duration) series {
	n := int(span/dt) + 1
	s := series{
		xy:  make(plotter.XYs, 0, n),
		xz:  make(plotter.XYs, 0, n),
		yaw: make(plotter.XYs, 0, n),
	}
	for i := 0; i < n; i++ {
		t := (time.Duration(i) * dt).Seconds()
		ref, start := trajectory.Generate(t, m)
		s.start = start
		p := ref.Position
		s.xy = append(s.xy, plotter.XY{X: p.X, Y: p.Y})
		s.xz = append(s.xz, plotter.XY{X: p.X, Y: p.Z})
		s.yaw = append(s.yaw, plotter.XY{X: t, Y: ref.Yaw})
	}
	return s
}

func newPlot(title, x, y string, pts plotter.XYs, start *plotter.XY) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = x
	p.Y.Label.Text = y
	p.Add(plotter.NewGrid())

	line, err := plotter.NewLine(pts)
	if err != nil {
		return nil, fmt.Errorf("failed to build line: %w", err)
	}
	line.Color = pathColor
	line.Width = vg.Points(1)
	p.Add(line)
	p.Legend.Add("reference", line)

	if start != nil {
		sc, err := plotter.NewScatter(plotter.XYs{*start})
		if err != nil {
			return nil, fmt.Errorf("failed to build start marker: %w", err)
		}
		sc.Color = startColor
		sc.Radius = vg.Points(3)
		p.Add(sc)
		p.Legend.Add("start", sc)
	}
	p.Legend.Top = true
	p.Legend.Left = false
	return p, nil
}

// plotManeuver writes the three plots for m into dir and returns their
// paths.
func plotManeuver(m trajectory.Maneuver, span, dt time.Duration, dir string) ([]string, error) {
	s := sample(m, span, dt)
	pos := s.start.Position

	plots := []struct {
		suffix, title, x, y string
		pts                 plotter.XYs
		start               *plotter.XY
	}{
		{"xy", "x-y path", "x (m)", "y (m)", s.xy, &plotter.XY{X: pos.X, Y: pos.Y}},
		{"xz", "x-z path", "x (m)", "z (m)", s.xz, &plotter.XY{X: pos.X, Y: pos.Z}},
		{"yaw", "yaw", "t (s)", "yaw (rad)", s.yaw, nil},
	}

	var files []string
	for _, def := range plots {
		p, err := newPlot(fmt.Sprintf("%s - %s", m, def.title), def.x, def.y, def.pts, def.start)
		if err != nil {
			return files, err
		}
		file := filepath.Join(dir, fmt.Sprintf("%d_%s_%s.png", int(m), m, def.suffix))
		if err := p.Save(8*vg.Inch, 6*vg.Inch, file); err != nil {
			return files, fmt.Errorf("failed to save %s: %w", file, err)
		}
		files = append(files, file)
	}
	return files, nil
}

func main() {
	flag.Parse()
	if *step <= 0 || *duration <= 0 {
		log.Fatal("-duration and -step must be positive")
	}
	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		log.Fatalf("failed to create output directory: %v", err)
	}

	for m := trajectory.RotateInPlace; m <= trajectory.MaxManeuver; m++ {
		files, err := plotManeuver(m, *duration, *step, *outDir)
		if err != nil {
			log.Fatalf("failed to plot %s: %v", m, err)
		}
		for _, f := range files {
			log.Printf("wrote %s", f)
		}
	}
}
