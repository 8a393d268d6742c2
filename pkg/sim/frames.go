package sim

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"sync"

	"github.com/marchandivan/pirobot/pkg/config"
)

// FrameSource produces the JPEG frames of the video stream.
type FrameSource interface {
	Frame() ([]byte, error)
}

// TestPattern renders colour bars with a moving marker, so consecutive
// frames differ.
type TestPattern struct {
	mu      sync.Mutex
	width   int
	height  int
	quality int
	tick    int
}

var bars = []color.RGBA{
	{192, 192, 192, 255},
	{192, 192, 0, 255},
	{0, 192, 192, 255},
	{0, 192, 0, 255},
	{192, 0, 192, 255},
	{192, 0, 0, 255},
	{0, 0, 192, 255},
}

// NewTestPattern creates a pattern sized after the video profile.
func NewTestPattern(profile config.VideoProfile) *TestPattern {
	return &TestPattern{width: profile.Width, height: profile.Height, quality: profile.Quality}
}

// Frame encodes the next frame.
func (p *TestPattern) Frame() ([]byte, error) {
	p.mu.Lock()
	tick := p.tick
	p.tick++
	p.mu.Unlock()

	img := image.NewRGBA(image.Rect(0, 0, p.width, p.height))
	barWidth := p.width/len(bars) + 1
	for x := 0; x < p.width; x++ {
		c := bars[x/barWidth]
		for y := 0; y < p.height; y++ {
			img.SetRGBA(x, y, c)
		}
	}

	size := p.height / 8
	if size < 2 {
		size = 2
	}
	offset := (tick * size) % (p.width - size + 1)
	for x := offset; x < offset+size; x++ {
		for y := p.height - size; y < p.height; y++ {
			img.SetRGBA(x, y, color.RGBA{255, 255, 255, 255})
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: p.quality}); err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}
	return buf.Bytes(), nil
}
