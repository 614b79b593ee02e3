package embedding

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/kozaktomas/face-attendance/internal/facematch"
)

// Frame is an image prepared for the embedding service.
type Frame struct {
	Data   []byte  // JPEG bytes sent to the provider
	Scale  float64 // factor applied to the source image
	Width  int     // source width after orientation
	Height int     // source height after orientation
}

// Preprocessor normalises images before detection: EXIF orientation is applied,
// the image is scaled by Scale and capped at MaxSize on its longer side.
type Preprocessor struct {
	Scale   float64
	MaxSize int
}

// Prepare decodes, orients, resizes and re-encodes data.
func (p Preprocessor) Prepare(data []byte) (*Frame, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidImage, err)
	}

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width == 0 || height == 0 {
		return nil, fmt.Errorf("%w: image has no pixels", ErrInvalidImage)
	}

	scale := p.Scale
	if scale <= 0 || scale > 1 {
		scale = 1
	}
	if p.MaxSize > 0 {
		if longest := float64(max(width, height)) * scale; longest > float64(p.MaxSize) {
			scale = float64(p.MaxSize) / float64(max(width, height))
		}
	}

	out := img
	if scale != 1 {
		newWidth := max(1, int(float64(width)*scale))
		newHeight := max(1, int(float64(height)*scale))
		resized := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
		draw.ApproxBiLinear.Scale(resized, resized.Bounds(), img, bounds, draw.Over, nil)
		out = resized
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}

	return &Frame{Data: buf.Bytes(), Scale: scale, Width: width, Height: height}, nil
}

// PreprocessingProvider prepares images before handing them to the next
// provider and maps detected boxes back to source pixels.
type PreprocessingProvider struct {
	next Provider
	pre  Preprocessor
}

func NewPreprocessingProvider(next Provider, pre Preprocessor) *PreprocessingProvider {
	return &PreprocessingProvider{next: next, pre: pre}
}

func (p *PreprocessingProvider) Embed(ctx context.Context, data []byte) ([]Face, error) {
	frame, err := p.pre.Prepare(data)
	if err != nil {
		return nil, err
	}

	faces, err := p.next.Embed(ctx, frame.Data)
	if err != nil {
		return nil, err
	}

	for i := range faces {
		faces[i].BBox = facematch.ScaleBBox(faces[i].BBox, frame.Scale)
	}
	return faces, nil
}

func (p *PreprocessingProvider) EmbedSingle(ctx context.Context, data []byte) (facematch.Embedding, error) {
	return firstFace(p.Embed(ctx, data))
}
