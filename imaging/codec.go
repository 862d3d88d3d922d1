// Package imaging turns arbitrary decoded images into JPEG payloads that
// fit a byte budget, and ships them to blob storage.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"

	"duochat/errors"

	xdraw "golang.org/x/image/draw"
)

const (
	qualityFloor   = 0.30
	qualityCeiling = 0.90
	qualityProbes  = 6
	downsampleStep = 0.7
	maxRounds      = 4
)

// Compress returns the highest-quality JPEG encoding of img that fits within
// maxBytes. Per resolution it binary-searches the quality range with a fixed
// probe count; when the floor quality still overshoots, the image is scaled
// down and the search repeats. ErrImageTooLarge means no candidate at any
// round fit the budget.
func Compress(img image.Image, maxBytes int, log *slog.Logger) ([]byte, error) {
	if maxBytes <= 0 {
		return nil, fmt.Errorf("%w: budget %d bytes", errors.ErrImageTooLarge, maxBytes)
	}

	current := img
	for round := 0; round < maxRounds; round++ {
		best, err := probeQuality(current, maxBytes)
		if err != nil {
			return nil, err
		}
		if best != nil {
			if round > 0 {
				log.Debug("Image fit after downsampling", "rounds", round, "bytes", len(best))
			}
			return best, nil
		}
		current = downsample(current)
	}
	return nil, fmt.Errorf("%w: no encoding within %d bytes after %d rounds",
		errors.ErrImageTooLarge, maxBytes, maxRounds)
}

// probeQuality binary-searches JPEG quality and keeps the largest encoding
// that stays under budget. A nil result with nil error means even the floor
// quality overshot at this resolution.
func probeQuality(img image.Image, maxBytes int) ([]byte, error) {
	low, high := qualityFloor, qualityCeiling
	var best []byte

	for probe := 0; probe < qualityProbes; probe++ {
		quality := (low + high) / 2

		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: int(quality * 100)}); err != nil {
			return nil, fmt.Errorf("jpeg encode: %w", err)
		}

		if buf.Len() <= maxBytes {
			if buf.Len() > len(best) {
				best = buf.Bytes()
			}
			low = quality
		} else {
			high = quality
		}
	}
	return best, nil
}

func downsample(img image.Image) image.Image {
	bounds := img.Bounds()
	w := int(float64(bounds.Dx()) * downsampleStep)
	h := int(float64(bounds.Dy()) * downsampleStep)
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, xdraw.Over, nil)
	return dst
}
