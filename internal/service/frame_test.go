package service

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DukeRupert/sitewatch/internal/domain"
)

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x += 7 {
		img.Set(x, h/2, color.RGBA{R: 255, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestFrameNormalizer_Normalize(t *testing.T) {
	tests := []struct {
		name   string
		w, h   int
		maxDim int
		wantW  int
		wantH  int
	}{
		{"landscape shrinks to max width", 2048, 1024, 1024, 1024, 512},
		{"portrait shrinks to max height", 600, 1200, 300, 150, 300},
		{"small frame is not upscaled", 320, 240, 1024, 320, 240},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := NewFrameNormalizer(tt.maxDim, 85)
			frame, err := n.Normalize(encodePNG(t, tt.w, tt.h))
			require.NoError(t, err)

			assert.Equal(t, "image/jpeg", frame.ContentType)
			assert.Equal(t, tt.w, frame.OriginalWidth)
			assert.Equal(t, tt.h, frame.OriginalHeight)
			assert.Equal(t, tt.wantW, frame.Width)
			assert.Equal(t, tt.wantH, frame.Height)

			decoded, err := jpeg.Decode(bytes.NewReader(frame.Data))
			require.NoError(t, err)
			assert.Equal(t, tt.wantW, decoded.Bounds().Dx())
		})
	}
}

func TestFrameNormalizer_RejectsBadInput(t *testing.T) {
	n := NewFrameNormalizer(0, 0)

	_, err := n.Normalize(nil)
	assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))

	_, err = n.Normalize([]byte("definitely not an image"))
	assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))
}
