package imagegen

import (
	"bytes"
	"context"
	"fmt"
	"hash/fnv"
	"image"
	"image/color"
	"image/draw"
	"image/png"

	"github.com/manthysbr/templaterelay/internal/core/domain"
)

// CanvasRenderer draws a flat PNG layout locally. It does not typeset the
// title; it encodes background and main image choices as color blocks so
// every option is visually distinct.
type CanvasRenderer struct {
	width  int
	height int
}

func NewCanvasRenderer(width, height int) *CanvasRenderer {
	if width <= 0 {
		width = 1200
	}
	if height <= 0 {
		height = 630
	}
	return &CanvasRenderer{width: width, height: height}
}

func (r *CanvasRenderer) Render(ctx context.Context, spec domain.TemplateSpec) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	img := image.NewRGBA(image.Rect(0, 0, r.width, r.height))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: swatch(spec.Background, 0x30)}, image.Point{}, draw.Src)

	// main image panel on the right
	panel := image.Rect(r.width*3/5, r.height/8, r.width-r.width/16, r.height-r.height/8)
	draw.Draw(img, panel, &image.Uniform{C: swatch(spec.MainImage, 0x90)}, image.Point{}, draw.Src)

	// title band on the left, one stripe per option number
	band := image.Rect(r.width/16, r.height/3, r.width/2, r.height/3+r.height/12)
	draw.Draw(img, band, &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	for i := 0; i < spec.Option; i++ {
		x := r.width/16 + i*(r.width/40+4)
		stripe := image.Rect(x, r.height*2/3, x+r.width/40, r.height*2/3+r.height/20)
		draw.Draw(img, stripe, &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// swatch maps a label onto a stable color with at least floor per channel.
func swatch(label string, floor uint8) color.RGBA {
	h := fnv.New32a()
	_, _ = h.Write([]byte(label))
	sum := h.Sum32()
	span := 0xff - uint32(floor)
	return color.RGBA{
		R: floor + uint8(sum%span),
		G: floor + uint8((sum>>8)%span),
		B: floor + uint8((sum>>16)%span),
		A: 0xff,
	}
}
