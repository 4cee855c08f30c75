package finalize

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"

	"github.com/skip2/go-qrcode"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	qrSizeMin = 96
	qrSizeMax = 320
)

// stampLayout pins the scan panel to the bottom-right corner of the cover.
type stampLayout struct {
	panel   image.Rectangle
	qr      image.Rectangle
	caption image.Point // baseline origin before horizontal centering
	radius  int
}

func layoutFor(bounds image.Rectangle) (stampLayout, error) {
	minDim := bounds.Dx()
	if bounds.Dy() < minDim {
		minDim = bounds.Dy()
	}
	qrSize := minDim * 18 / 100
	if qrSize < qrSizeMin {
		qrSize = qrSizeMin
	}
	if qrSize > qrSizeMax {
		qrSize = qrSizeMax
	}
	pad := qrSize / 8
	captionH := basicfont.Face7x13.Height + 4
	margin := minDim * 4 / 100

	panelW := qrSize + 2*pad
	panelH := qrSize + 2*pad + captionH
	if panelW+margin > bounds.Dx() || panelH+margin > bounds.Dy() {
		return stampLayout{}, fmt.Errorf("cover %dx%d too small for scan panel", bounds.Dx(), bounds.Dy())
	}

	panel := image.Rect(
		bounds.Max.X-margin-panelW,
		bounds.Max.Y-margin-panelH,
		bounds.Max.X-margin,
		bounds.Max.Y-margin,
	)
	qr := image.Rect(
		panel.Min.X+pad,
		panel.Min.Y+pad,
		panel.Min.X+pad+qrSize,
		panel.Min.Y+pad+qrSize,
	)
	return stampLayout{
		panel:   panel,
		qr:      qr,
		caption: image.Pt(panel.Min.X, qr.Max.Y+captionH-3),
		radius:  pad,
	}, nil
}

// qrImage renders the payload at medium error correction, borderless so the
// white panel supplies the quiet zone.
func qrImage(payload string, size int) (image.Image, error) {
	code, err := qrcode.New(payload, qrcode.Medium)
	if err != nil {
		return nil, err
	}
	code.DisableBorder = true
	return code.Image(size), nil
}

// stampBackCover composites a rounded white panel holding the scan code and
// caption onto the bottom-right corner of the cover and re-encodes it as PNG.
func stampBackCover(src image.Image, shareURL, caption string, brandMark image.Image) ([]byte, error) {
	bounds := src.Bounds()
	layout, err := layoutFor(bounds)
	if err != nil {
		return nil, err
	}

	canvas := image.NewRGBA(bounds)
	draw.Draw(canvas, bounds, src, bounds.Min, draw.Src)
	fillRoundedRect(canvas, layout.panel, layout.radius, color.White)

	qr, err := qrImage(shareURL, layout.qr.Dx())
	if err != nil {
		return nil, fmt.Errorf("encode scan code: %w", err)
	}
	draw.Draw(canvas, layout.qr, qr, qr.Bounds().Min, draw.Src)

	if brandMark != nil {
		drawBrandMark(canvas, layout.qr, brandMark)
	}
	drawCaption(canvas, layout, caption)

	var buf bytes.Buffer
	if err := png.Encode(&buf, canvas); err != nil {
		return nil, fmt.Errorf("encode stamped cover: %w", err)
	}
	return buf.Bytes(), nil
}

// drawBrandMark centers the mark over the code at a fifth of its width,
// within what medium error correction can absorb.
func drawBrandMark(dst *image.RGBA, qr image.Rectangle, mark image.Image) {
	size := qr.Dx() / 5
	if size < 1 {
		return
	}
	cx := qr.Min.X + qr.Dx()/2
	cy := qr.Min.Y + qr.Dy()/2
	target := image.Rect(cx-size/2, cy-size/2, cx+size/2, cy+size/2)

	mb := mark.Bounds()
	for y := target.Min.Y; y < target.Max.Y; y++ {
		for x := target.Min.X; x < target.Max.X; x++ {
			sx := mb.Min.X + (x-target.Min.X)*mb.Dx()/target.Dx()
			sy := mb.Min.Y + (y-target.Min.Y)*mb.Dy()/target.Dy()
			dst.Set(x, y, mark.At(sx, sy))
		}
	}
}

func drawCaption(dst *image.RGBA, layout stampLayout, caption string) {
	face := basicfont.Face7x13
	textW := font.MeasureString(face, caption).Ceil()
	x := layout.panel.Min.X + (layout.panel.Dx()-textW)/2
	if x < layout.panel.Min.X {
		x = layout.panel.Min.X
	}
	drawer := font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(color.Black),
		Face: face,
		Dot:  fixed.P(x, layout.caption.Y),
	}
	drawer.DrawString(caption)
}

// fillRoundedRect paints r in col with quarter-circle corners of the given
// radius.
func fillRoundedRect(dst *image.RGBA, r image.Rectangle, radius int, col color.Color) {
	if radius > r.Dx()/2 {
		radius = r.Dx() / 2
	}
	if radius > r.Dy()/2 {
		radius = r.Dy() / 2
	}
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			if !insideRounded(x, y, r, radius) {
				continue
			}
			dst.Set(x, y, col)
		}
	}
}

func insideRounded(x, y int, r image.Rectangle, radius int) bool {
	// Corner centers of the quarter circles.
	cx, cy := 0, 0
	switch {
	case x < r.Min.X+radius && y < r.Min.Y+radius:
		cx, cy = r.Min.X+radius, r.Min.Y+radius
	case x >= r.Max.X-radius && y < r.Min.Y+radius:
		cx, cy = r.Max.X-radius-1, r.Min.Y+radius
	case x < r.Min.X+radius && y >= r.Max.Y-radius:
		cx, cy = r.Min.X+radius, r.Max.Y-radius-1
	case x >= r.Max.X-radius && y >= r.Max.Y-radius:
		cx, cy = r.Max.X-radius-1, r.Max.Y-radius-1
	default:
		return true
	}
	dx, dy := x-cx, y-cy
	return dx*dx+dy*dy <= radius*radius
}
