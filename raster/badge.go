package raster

import (
	"image"
	"image/color"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	badgeMargin  = 6
	badgePadding = 4
)

var badgeBackground = image.NewUniform(color.RGBA{A: 176})

// DrawBadge draws text in a dark box at the top-right corner of dst and
// returns the box. Text wider than the buffer is clipped.
func DrawBadge(dst *PixelBuffer, text string) image.Rectangle {
	if text == "" || dst.width == 0 || dst.height == 0 {
		return image.Rectangle{}
	}
	face := basicfont.Face7x13
	tw := font.MeasureString(face, text).Ceil()
	box := image.Rect(
		dst.width-badgeMargin-tw-2*badgePadding,
		badgeMargin,
		dst.width-badgeMargin,
		badgeMargin+face.Height+2*badgePadding,
	).Intersect(dst.Bounds())
	if box.Empty() {
		return box
	}

	img := dst.RGBA()
	xdraw.Draw(img, box, badgeBackground, image.Point{}, xdraw.Over)

	d := font.Drawer{
		Dst:  img,
		Src:  image.White,
		Face: face,
		Dot:  fixed.P(box.Min.X+badgePadding, box.Min.Y+badgePadding+face.Ascent),
	}
	d.DrawString(text)
	return box
}
