// Package frame renders the JPEG frames the dashboard serves itself: the
// standby card shown while no live feed is available, and detection overlays.
package frame

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"strconv"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/dj-oyu/road-hazard-dashboard/internal/backend"
)

const (
	Width  = 640
	Height = 480

	// Quality is the JPEG quality used for every encoded frame.
	Quality = 75
)

var (
	background = color.RGBA{R: 12, G: 16, B: 24, A: 255}
	textColor  = color.RGBA{R: 0, G: 229, B: 255, A: 255}

	// Box colors per detection category
	categoryColors = map[backend.Category]color.RGBA{
		backend.CategoryHazard:  {R: 255, G: 59, B: 48, A: 255},
		backend.CategoryVehicle: {R: 52, G: 199, B: 89, A: 255},
		backend.CategoryTraffic: {R: 255, G: 204, B: 0, A: 255},
		backend.CategoryPerson:  {R: 0, G: 122, B: 255, A: 255},
		backend.CategoryOther:   {R: 200, G: 200, B: 200, A: 255},
	}

	// Color bars: White, Yellow, Cyan, Green, Magenta, Red, Blue, Black
	bars = []color.RGBA{
		{R: 255, G: 255, B: 255, A: 255},
		{R: 255, G: 255, B: 0, A: 255},
		{R: 0, G: 255, B: 255, A: 255},
		{R: 0, G: 255, B: 0, A: 255},
		{R: 255, G: 0, B: 255, A: 255},
		{R: 255, G: 0, B: 0, A: 255},
		{R: 0, G: 0, B: 255, A: 255},
		{R: 0, G: 0, B: 0, A: 255},
	}
)

// Standby renders Card(lines...) as JPEG.
func Standby(lines ...string) ([]byte, error) {
	return Encode(Card(lines...))
}

// Card draws a dark frame with a strip of color bars and the given lines of
// text centered on it.
func Card(lines ...string) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, Width, Height))
	xdraw.Draw(img, img.Bounds(), image.NewUniform(background), image.Point{}, xdraw.Src)

	barWidth := Width / len(bars)
	strip := Height - 40
	for i, c := range bars {
		r := image.Rect(i*barWidth, strip, (i+1)*barWidth, Height)
		xdraw.Draw(img, r, image.NewUniform(c), image.Point{}, xdraw.Src)
	}

	face := basicfont.Face7x13
	lineHeight := face.Metrics().Height.Ceil() + 6
	top := (strip - lineHeight*len(lines)) / 2
	for i, line := range lines {
		width := font.MeasureString(face, line).Ceil()
		drawText(img, line, (Width-width)/2, top+(i+1)*lineHeight, textColor)
	}
	return img
}

// Annotate draws one box and label per detection on a copy of src.
func Annotate(src image.Image, detections []backend.Detection) *image.RGBA {
	b := src.Bounds()
	img := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	xdraw.Copy(img, image.Point{}, src, b, xdraw.Src, nil)

	for _, d := range detections {
		c, ok := categoryColors[d.Category]
		if !ok {
			c = categoryColors[backend.CategoryOther]
		}
		box := image.Rect(d.Box.X, d.Box.Y, d.Box.X+d.Box.W, d.Box.Y+d.Box.H).Intersect(img.Bounds())
		if box.Empty() {
			continue
		}
		drawRect(img, box, c, 2)

		label := d.Label
		if d.Confidence > 0 {
			label = label + " " + percent(d.Confidence)
		}
		y := box.Min.Y - 4
		if y < 13 {
			y = box.Min.Y + 14
		}
		drawText(img, label, box.Min.X+2, y, c)
	}
	return img
}

// Encode encodes img as JPEG.
func Encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: Quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func drawText(img *image.RGBA, text string, x, y int, c color.Color) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(text)
}

func drawRect(img *image.RGBA, r image.Rectangle, c color.Color, thickness int) {
	u := image.NewUniform(c)
	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+thickness),
		image.Rect(r.Min.X, r.Max.Y-thickness, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+thickness, r.Max.Y),
		image.Rect(r.Max.X-thickness, r.Min.Y, r.Max.X, r.Max.Y),
	}
	for _, e := range edges {
		xdraw.Draw(img, e.Intersect(r), u, image.Point{}, xdraw.Src)
	}
}

func percent(conf float64) string {
	return strconv.Itoa(backend.HazardEvent{Confidence: conf}.ConfidencePercent()) + "%"
}
