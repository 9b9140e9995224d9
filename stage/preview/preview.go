// Package preview renders the touch points of a segmented job as a PNG
// scatter plot, one colour per layer.
package preview

import (
	"errors"
	"fmt"
	"image/color"
	"math"
	"sort"

	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

// Options controls the rendered image
type Options struct {
	Title     string
	Reservoir *r3.Vec // marked with a cross when set
	Width     vg.Length
	Height    vg.Length
}

// Collector accumulates touch points; pass Add as the segmenter trace hook
type Collector struct {
	Points []r3.Vec
}

// Add records one touch point
func (c *Collector) Add(p r3.Vec) {
	c.Points = append(c.Points, p)
}

// Layer is the set of touches sharing one Z height
type Layer struct {
	Z      float64
	Points plotter.XYs
}

// Layers groups touches by Z, lowest first. Heights within 1 µm are merged.
func Layers(touches []r3.Vec) []Layer {
	byKey := make(map[int64]*Layer)
	for _, p := range touches {
		key := int64(math.Round(p.Z * 1000))
		l, ok := byKey[key]
		if !ok {
			l = &Layer{Z: p.Z}
			byKey[key] = l
		}
		l.Points = append(l.Points, plotter.XY{X: p.X, Y: p.Y})
	}

	layers := make([]Layer, 0, len(byKey))
	for _, l := range byKey {
		layers = append(layers, *l)
	}
	sort.Slice(layers, func(i, j int) bool { return layers[i].Z < layers[j].Z })
	return layers
}

// Build creates the plot without saving it
func Build(touches []r3.Vec, opts Options) (*plot.Plot, error) {
	if len(touches) == 0 {
		return nil, errors.New("preview: no touch points")
	}

	p := plot.New()
	p.Title.Text = opts.Title
	if p.Title.Text == "" {
		p.Title.Text = fmt.Sprintf("Touch points (%d)", len(touches))
	}
	p.X.Label.Text = "X (mm)"
	p.Y.Label.Text = "Y (mm)"
	p.Add(plotter.NewGrid())

	layers := Layers(touches)
	colors := generateColors(len(layers))

	for i, l := range layers {
		scatter, err := plotter.NewScatter(l.Points)
		if err != nil {
			return nil, fmt.Errorf("preview: layer Z%.3f: %w", l.Z, err)
		}
		scatter.GlyphStyle.Color = colors[i]
		scatter.GlyphStyle.Radius = vg.Points(2)
		scatter.GlyphStyle.Shape = draw.CircleGlyph{}
		p.Add(scatter)
		if len(layers) <= 12 {
			p.Legend.Add(fmt.Sprintf("Z %.3f", l.Z), scatter)
		}
	}

	if opts.Reservoir != nil {
		res, err := plotter.NewScatter(plotter.XYs{{X: opts.Reservoir.X, Y: opts.Reservoir.Y}})
		if err != nil {
			return nil, fmt.Errorf("preview: reservoir: %w", err)
		}
		res.GlyphStyle.Color = color.RGBA{A: 255}
		res.GlyphStyle.Radius = vg.Points(5)
		res.GlyphStyle.Shape = draw.CrossGlyph{}
		p.Add(res)
		p.Legend.Add("reservoir", res)
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	return p, nil
}

// Render writes the plot to path; the extension picks the image format
func Render(path string, touches []r3.Vec, opts Options) error {
	p, err := Build(touches, opts)
	if err != nil {
		return err
	}

	w, h := opts.Width, opts.Height
	if w == 0 {
		w = 8 * vg.Inch
	}
	if h == 0 {
		h = 8 * vg.Inch
	}

	if err := p.Save(w, h, path); err != nil {
		return fmt.Errorf("preview: failed to save %s: %w", path, err)
	}
	return nil
}

// generateColors spreads n colours around the hue circle
func generateColors(n int) []color.Color {
	colors := make([]color.Color, n)
	for i := 0; i < n; i++ {
		hue := float64(i) / math.Max(float64(n), 1)
		r, g, b := hueToRGB(hue)
		colors[i] = color.RGBA{R: r, G: g, B: b, A: 255}
	}
	return colors
}

func hueToRGB(h float64) (uint8, uint8, uint8) {
	channel := func(offset float64) uint8 {
		v := math.Abs(math.Mod(h*6+offset, 6)-3) - 1
		v = math.Max(0, math.Min(1, v))
		return uint8(v * 200)
	}
	return channel(0), channel(4), channel(2)
}
