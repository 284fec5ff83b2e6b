// Package imaging implements the upload-time image optimizer (C1): it
// normalizes whatever an uploader's camera or scanner produced into a
// bounded JPEG before the bytes ever reach object storage or the
// vision extractor.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	_ "image/png" // register PNG decoding for image.Decode

	"github.com/disintegration/imaging"
	"go.uber.org/zap"
)

const (
	// MaxDimension is the longest edge an optimized image may have.
	MaxDimension = 1920
	// TargetSizeKB is the encoded size the quality search aims for.
	TargetSizeKB = 500
	// FastPathMaxSizeKB is the size ceiling for the already-JPEG
	// fast path.
	FastPathMaxSizeKB = 600
	initialQuality    = 85
	minQuality        = 60
	qualityStep       = 5
)

// Metadata describes what the optimizer did to an image.
type Metadata struct {
	OriginalSizeKB    float64
	OptimizedSizeKB   float64
	OriginalWidth     int
	OriginalHeight    int
	FinalWidth        int
	FinalHeight       int
	CompressionRatio  float64
	Quality           int
	Status            string // "original" (fast path) or "optimized"
	Warnings          []string
}

// Result is the optimizer's output.
type Result struct {
	Bytes    []byte
	Metadata Metadata
}

// Optimizer normalizes raw uploaded image bytes into bounded JPEGs.
type Optimizer struct {
	log *zap.Logger
}

// NewOptimizer builds an Optimizer.
func NewOptimizer(logger *zap.Logger) *Optimizer {
	return &Optimizer{log: logger}
}

// Optimize implements the §4.1 contract: a fast path for images that
// are already acceptable, and a resize+recompress path otherwise.
func (o *Optimizer) Optimize(raw []byte, contentType string) (*Result, error) {
	originalKB := float64(len(raw)) / 1024.0

	cfg, format, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image header: %w", err)
	}

	if format == "jpeg" && originalKB <= FastPathMaxSizeKB &&
		cfg.Width <= MaxDimension && cfg.Height <= MaxDimension {
		meta := Metadata{
			OriginalSizeKB:   originalKB,
			OptimizedSizeKB:  originalKB,
			OriginalWidth:    cfg.Width,
			OriginalHeight:   cfg.Height,
			FinalWidth:       cfg.Width,
			FinalHeight:      cfg.Height,
			CompressionRatio: 1.0,
			Quality:          100,
			Status:           "original",
		}
		meta.Warnings = qualityWarnings(cfg.Width, cfg.Height, len(raw))
		o.logWarnings(meta.Warnings)
		return &Result{Bytes: raw, Metadata: meta}, nil
	}

	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	flattened := flattenToWhite(img)
	targetW, targetH := fitWithin(cfg.Width, cfg.Height, MaxDimension)
	resized := imaging.Resize(flattened, targetW, targetH, imaging.Lanczos)
	bounds := resized.Bounds()

	encoded, quality, err := encodeWithQualitySearch(resized)
	if err != nil {
		return nil, fmt.Errorf("failed to encode optimized image: %w", err)
	}

	optimizedKB := float64(len(encoded)) / 1024.0
	meta := Metadata{
		OriginalSizeKB:   originalKB,
		OptimizedSizeKB:  optimizedKB,
		OriginalWidth:    cfg.Width,
		OriginalHeight:   cfg.Height,
		FinalWidth:       bounds.Dx(),
		FinalHeight:      bounds.Dy(),
		CompressionRatio: originalKB / optimizedKB,
		Quality:          quality,
		Status:           "optimized",
	}
	meta.Warnings = qualityWarnings(bounds.Dx(), bounds.Dy(), len(encoded))
	o.logWarnings(meta.Warnings)

	return &Result{Bytes: encoded, Metadata: meta}, nil
}

// fitWithin returns the (w, h) that scales origW x origH so its
// longest edge equals maxDim, preserving aspect ratio. A dimension of
// 0 tells imaging.Resize to compute it from the other.
func fitWithin(origW, origH, maxDim int) (int, int) {
	if origW <= maxDim && origH <= maxDim {
		return origW, origH
	}
	if origW >= origH {
		return maxDim, 0
	}
	return 0, maxDim
}

// flattenToWhite composites any transparency onto a white background;
// opaque images pass through unchanged.
func flattenToWhite(img image.Image) image.Image {
	bounds := img.Bounds()
	flat := imaging.New(bounds.Dx(), bounds.Dy(), color.White)
	return imaging.Overlay(flat, img, image.Point{}, 1.0)
}

// encodeWithQualitySearch encodes img as JPEG at initialQuality, then
// steps quality down until the size target is met or the quality
// floor is reached.
func encodeWithQualitySearch(img image.Image) ([]byte, int, error) {
	quality := initialQuality
	var buf bytes.Buffer

	for {
		buf.Reset()
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return nil, 0, err
		}
		if float64(buf.Len())/1024.0 <= TargetSizeKB || quality <= minQuality {
			break
		}
		quality -= qualityStep
	}

	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, quality, nil
}

// qualityWarnings produces the §4.1 non-fatal quality diagnostics.
func qualityWarnings(width, height, sizeBytes int) []string {
	var warnings []string

	minDim := width
	if height < minDim {
		minDim = height
	}
	if minDim < 600 {
		warnings = append(warnings, fmt.Sprintf("min dimension %d below 600px floor", minDim))
	}

	if height > 0 {
		ratio := float64(width) / float64(height)
		if ratio < 1 {
			ratio = 1 / ratio
		}
		if ratio > 5.0 {
			warnings = append(warnings, fmt.Sprintf("aspect ratio %.1f:1 exceeds 5:1", ratio))
		}
	}

	if sizeBytes < 20*1024 {
		warnings = append(warnings, fmt.Sprintf("file size %d bytes below 20KB floor", sizeBytes))
	}

	return warnings
}

func (o *Optimizer) logWarnings(warnings []string) {
	for _, w := range warnings {
		o.log.Warn("image quality warning", zap.String("warning", w))
	}
}
