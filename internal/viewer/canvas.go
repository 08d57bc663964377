package viewer

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"
	"sync"

	"golang.org/x/image/vector"
)

const signatureStartedKey = "signature_started"

// Point is a device-pixel coordinate relative to the canvas origin.
type Point struct {
	X, Y float32
}

// Canvas captures a freehand signature as polyline strokes and rasterizes it
// to PNG on export. Mouse and touch input share the same coordinate math; the
// caller translates pointer positions into canvas-relative points.
type Canvas struct {
	width, height int
	strokeWidth   float32

	sink  EventSink
	dedup *Dedup

	mu           sync.Mutex
	strokes      [][]Point
	drawing      bool
	hasSignature bool
}

// NewCanvas creates a signature canvas. sink and dedup tie the first stroke
// into the visit's engagement tracking.
func NewCanvas(width, height int, sink EventSink, dedup *Dedup) *Canvas {
	return &Canvas{
		width:       width,
		height:      height,
		strokeWidth: 2.5,
		sink:        sink,
		dedup:       dedup,
	}
}

// BeginStroke starts a stroke at the pointer-down position. The very first
// stroke of the visit fires signature_started; clearing and re-signing does
// not re-fire it.
func (c *Canvas) BeginStroke(x, y float32) {
	c.mu.Lock()
	c.drawing = true
	c.hasSignature = true
	c.strokes = append(c.strokes, []Point{{x, y}})
	c.mu.Unlock()

	if c.dedup.MarkOnce(signatureStartedKey) && c.sink != nil {
		c.sink.TrackEvent(signatureStartedKey, nil)
	}
}

// ExtendStroke appends a segment to the active stroke. Pointer moves while
// not drawing are ignored.
func (c *Canvas) ExtendStroke(x, y float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.drawing || len(c.strokes) == 0 {
		return
	}
	last := len(c.strokes) - 1
	c.strokes[last] = append(c.strokes[last], Point{x, y})
}

// EndStroke finishes the active stroke on pointer-up or pointer-leave.
func (c *Canvas) EndStroke() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.drawing = false
}

// Clear wipes the canvas. The signature_started dedup survives.
func (c *Canvas) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.strokes = nil
	c.drawing = false
	c.hasSignature = false
}

// HasSignature reports whether any stroke has been drawn since the last clear.
func (c *Canvas) HasSignature() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hasSignature
}

// ExportPNG rasterizes the strokes to a PNG with black ink on white.
func (c *Canvas) ExportPNG() ([]byte, error) {
	c.mu.Lock()
	strokes := make([][]Point, len(c.strokes))
	copy(strokes, c.strokes)
	c.mu.Unlock()

	if len(strokes) == 0 {
		return nil, fmt.Errorf("canvas is empty")
	}

	dst := image.NewRGBA(image.Rect(0, 0, c.width, c.height))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)

	z := vector.NewRasterizer(c.width, c.height)
	for _, stroke := range strokes {
		if len(stroke) == 1 {
			// A tap with no movement still leaves a dot.
			addSegment(z, stroke[0], Point{stroke[0].X + 0.1, stroke[0].Y}, c.strokeWidth)
			continue
		}
		for i := 1; i < len(stroke); i++ {
			addSegment(z, stroke[i-1], stroke[i], c.strokeWidth)
		}
	}
	z.Draw(dst, dst.Bounds(), image.NewUniform(color.Black), image.Point{})

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, fmt.Errorf("encode signature png: %w", err)
	}
	return buf.Bytes(), nil
}

// ExportDataURL returns the PNG as a base64 data URL, the wire format the
// signature endpoint accepts.
func (c *Canvas) ExportDataURL() (string, error) {
	pngBytes, err := c.ExportPNG()
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngBytes), nil
}

// addSegment paths a filled quad around the segment from a to b, giving the
// polyline a constant stroke width.
func addSegment(z *vector.Rasterizer, a, b Point, width float32) {
	dx, dy := b.X-a.X, b.Y-a.Y
	length := float32(math.Hypot(float64(dx), float64(dy)))
	if length == 0 {
		return
	}
	// Unit normal scaled to half the stroke width.
	nx := -dy / length * width / 2
	ny := dx / length * width / 2

	z.MoveTo(a.X+nx, a.Y+ny)
	z.LineTo(b.X+nx, b.Y+ny)
	z.LineTo(b.X-nx, b.Y-ny)
	z.LineTo(a.X-nx, a.Y-ny)
	z.ClosePath()
}
