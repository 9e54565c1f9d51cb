package service

import (
	"bytes"
	"fmt"

	"github.com/disintegration/imaging"

	"github.com/DukeRupert/sitewatch/internal/domain"
)

// Frame normalization defaults.
const (
	DefaultFrameMaxDimension = 1024
	DefaultFrameJPEGQuality  = 85
)

// =============================================================================
// Interface Definition
// =============================================================================

// FrameNormalizer prepares camera frames for the vision provider.
type FrameNormalizer interface {
	// Normalize decodes a frame, applies its EXIF orientation, shrinks it to
	// fit within the configured maximum dimension and re-encodes it as JPEG.
	// Frames already small enough are not upscaled.
	Normalize(data []byte) (*NormalizedFrame, error)
}

// NormalizedFrame is a frame ready for submission.
type NormalizedFrame struct {
	Data           []byte
	ContentType    string
	Width          int
	Height         int
	OriginalWidth  int
	OriginalHeight int
}

// =============================================================================
// Implementation
// =============================================================================

// imagingNormalizer implements FrameNormalizer using the imaging library.
type imagingNormalizer struct {
	maxDimension int
	quality      int
}

// NewFrameNormalizer creates a FrameNormalizer. Non-positive arguments fall
// back to the defaults.
func NewFrameNormalizer(maxDimension, quality int) FrameNormalizer {
	if maxDimension <= 0 {
		maxDimension = DefaultFrameMaxDimension
	}
	if quality <= 0 || quality > 100 {
		quality = DefaultFrameJPEGQuality
	}
	return &imagingNormalizer{maxDimension: maxDimension, quality: quality}
}

func (n *imagingNormalizer) Normalize(data []byte) (*NormalizedFrame, error) {
	const op = "frame.normalize"

	if len(data) == 0 {
		return nil, domain.Invalid(op, "frame is empty")
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, domain.Wrap(err, domain.EINVALID, op, "frame is not a supported image")
	}

	bounds := img.Bounds()
	frame := &NormalizedFrame{
		ContentType:    "image/jpeg",
		OriginalWidth:  bounds.Dx(),
		OriginalHeight: bounds.Dy(),
	}

	// imaging.Fit returns a copy at the same size when the image already fits
	if frame.OriginalWidth > n.maxDimension || frame.OriginalHeight > n.maxDimension {
		img = imaging.Fit(img, n.maxDimension, n.maxDimension, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(n.quality)); err != nil {
		return nil, domain.Internal(fmt.Errorf("encode frame: %w", err), op, "failed to encode frame")
	}

	resized := img.Bounds()
	frame.Data = buf.Bytes()
	frame.Width = resized.Dx()
	frame.Height = resized.Dy()
	return frame, nil
}
