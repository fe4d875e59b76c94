// Package ebitenview displays frames from an [avesync.FrameSource] on
// Ebitengine images.
//
// Frames are expected to carry RGBA pixel slices as payload, which is what
// the reisen backend produces.
package ebitenview

import (
	"errors"
	"fmt"
	"image/color"
	"time"

	"github.com/erparts/go-avesync"
	"github.com/hajimehoshi/ebiten/v2"
)

var ErrBadPayload = errors.New("frame payload is not an RGBA pixel slice of the view size")

// A View keeps the image of the last frame shown from a source. Frames are
// only uploaded when their sequence number changes, so polling on every
// tick is cheap.
type View struct {
	image  *ebiten.Image
	width  int
	height int

	shown     bool
	seq, loop int
	blank     bool
}

// New creates a black view of the given size.
func New(width, height int) *View {
	img := ebiten.NewImage(width, height)
	img.Fill(color.Black)
	return &View{image: img, width: width, height: height, blank: true}
}

// Update polls the source and uploads the frame due at presentation time if
// it's a new one. It reports whether the image changed. When the source has
// no frame, the previous image stays in place.
func (v *View) Update(src avesync.FrameSource, host, presentation time.Duration) (bool, error) {
	frame, ok := src.FrameForHostTime(host, presentation)
	if !ok {
		return false, nil
	}
	if v.shown && frame.Seq == v.seq && frame.Loop == v.loop {
		return false, nil
	}
	pix, ok := frame.Payload.([]byte)
	if !ok || len(pix) != 4*v.width*v.height {
		return false, fmt.Errorf("%w: %s", ErrBadPayload, frame)
	}
	v.image.WritePixels(pix)
	v.shown, v.seq, v.loop, v.blank = true, frame.Seq, frame.Loop, false
	return true, nil
}

// Clear blanks the view, for instance after a source is stopped.
func (v *View) Clear() {
	if !v.blank {
		v.image.Fill(color.Black)
		v.blank = true
	}
	v.shown = false
}

// Size returns the frame size the view was created for.
func (v *View) Size() (width, height int) { return v.width, v.height }

// Image returns the view image. It's reused: its contents change on the
// next Update.
func (v *View) Image() *ebiten.Image { return v.image }

// Draw draws the view into the viewport, scaled with [ebiten.FilterLinear]
// to take as much space as possible while preserving the aspect ratio.
//
// If there's extra space in the viewport the frame is centered, but black
// bars aren't explicitly drawn: whatever was on the viewport stays visible.
func (v *View) Draw(viewport *ebiten.Image) {
	geom, filter := CalcProjection(viewport, v.image)
	var opts ebiten.DrawImageOptions
	opts.GeoM = geom
	opts.Filter = filter
	viewport.DrawImage(v.image, &opts)
}

// CalcProjection returns the GeoM and recommended ebiten.Filter to project
// the frame into the given viewport.
func CalcProjection(viewport, frame *ebiten.Image) (ebiten.GeoM, ebiten.Filter) {
	frameBounds := frame.Bounds()
	viewBounds := viewport.Bounds()
	vwWidth, vwHeight := float64(viewBounds.Dx()), float64(viewBounds.Dy())
	frWidth, frHeight := float64(frameBounds.Dx()), float64(frameBounds.Dy())

	sf := min(vwWidth/frWidth, vwHeight/frHeight)
	var geom ebiten.GeoM
	if sf != 1.0 {
		geom.Scale(sf, sf)
	}
	tx := float64(viewBounds.Min.X) + (vwWidth-frWidth*sf)/2
	ty := float64(viewBounds.Min.Y) + (vwHeight-frHeight*sf)/2
	geom.Translate(tx, ty)
	return geom, ebiten.FilterLinear
}
