// Package pages implements the per-page image cleanup that turns a scanned
// page into an OCR-friendly artifact.
package pages

import (
	"fmt"
	"image"
	"image/color"
	"io"

	"github.com/disintegration/imaging"
)

// Enhancement factors are multiplicative: 1.0 leaves the image unchanged,
// values above 1.0 strengthen the property.
const (
	autocontrastCutoff = 0.5 // percent of histogram clipped at each tail
	sharpenFactor      = 1.5
	contrastFactor     = 1.2
	brightnessFactor   = 1.1
)

// Decode reads a page image, applying any embedded orientation metadata so
// the pixels come out upright.
func Decode(r io.Reader) (image.Image, error) {
	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decoding page image: %w", err)
	}
	return img, nil
}

// EncodePNG serializes an enhanced page for re-embedding into the output
// document.
func EncodePNG(w io.Writer, img image.Image) error {
	if err := imaging.Encode(w, img, imaging.PNG); err != nil {
		return fmt.Errorf("encoding page image: %w", err)
	}
	return nil
}

// Enhance runs the full cleanup pipeline on one upright page image:
// grayscale, autocontrast, sharpen, contrast boost, brightness boost, then
// downscale to half the linear dimensions.
func Enhance(img image.Image) *image.NRGBA {
	out := imaging.Grayscale(img)
	out = autocontrast(out, autocontrastCutoff)
	out = sharpen(out, sharpenFactor)
	out = contrast(out, contrastFactor)
	out = brightness(out, brightnessFactor)

	w := out.Bounds().Dx() / 2
	h := out.Bounds().Dy() / 2
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return imaging.Resize(out, w, h, imaging.Linear)
}

// autocontrast stretches the histogram so that the darkest and lightest
// cutoff percent of pixels are clipped to black and white. The input is
// grayscale, so the red channel stands in for luminance.
func autocontrast(img *image.NRGBA, cutoff float64) *image.NRGBA {
	bounds := img.Bounds()
	total := bounds.Dx() * bounds.Dy()
	if total == 0 {
		return img
	}

	var hist [256]int
	for y := 0; y < bounds.Dy(); y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+bounds.Dx()*4]
		for x := 0; x < bounds.Dx(); x++ {
			hist[row[x*4]]++
		}
	}

	clip := int(float64(total) * cutoff / 100)
	lo, hi := 0, 255
	for cum := 0; lo < 256; lo++ {
		cum += hist[lo]
		if cum > clip {
			break
		}
	}
	for cum := 0; hi >= 0; hi-- {
		cum += hist[hi]
		if cum > clip {
			break
		}
	}
	if hi <= lo {
		return img
	}

	scale := 255.0 / float64(hi-lo)
	var lut [256]uint8
	for v := 0; v < 256; v++ {
		lut[v] = clamp(float64(v-lo) * scale)
	}

	out := imaging.Clone(img)
	mapPixels(out, func(v uint8) uint8 { return lut[v] })
	return out
}

// sharpen blends the image away from a smoothed copy:
// result = smooth + factor*(img - smooth).
func sharpen(img *image.NRGBA, factor float64) *image.NRGBA {
	return blend(img, imaging.Blur(img, 1.0), factor)
}

// contrast blends the image away from a uniform field at its mean
// luminance.
func contrast(img *image.NRGBA, factor float64) *image.NRGBA {
	fill := clamp(meanLuminance(img))
	degenerate := imaging.New(img.Bounds().Dx(), img.Bounds().Dy(),
		color.NRGBA{R: fill, G: fill, B: fill, A: 255})
	return blend(img, degenerate, factor)
}

// brightness blends the image away from black, i.e. scales every channel by
// factor.
func brightness(img *image.NRGBA, factor float64) *image.NRGBA {
	out := imaging.Clone(img)
	mapPixels(out, func(v uint8) uint8 { return clamp(float64(v) * factor) })
	return out
}

// blend computes degenerate + factor*(img - degenerate), clamped per
// channel. factor 1.0 returns the image unchanged; factors above 1.0
// extrapolate past it.
func blend(img, degenerate *image.NRGBA, factor float64) *image.NRGBA {
	out := imaging.Clone(img)
	for i := 0; i+3 < len(out.Pix); i += 4 {
		for c := 0; c < 3; c++ {
			a := float64(img.Pix[i+c])
			b := float64(degenerate.Pix[i+c])
			out.Pix[i+c] = clamp(b + factor*(a-b))
		}
	}
	return out
}

func meanLuminance(img *image.NRGBA) float64 {
	bounds := img.Bounds()
	total := bounds.Dx() * bounds.Dy()
	if total == 0 {
		return 0
	}
	var sum float64
	for y := 0; y < bounds.Dy(); y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+bounds.Dx()*4]
		for x := 0; x < bounds.Dx(); x++ {
			sum += float64(row[x*4])
		}
	}
	return sum / float64(total)
}

// mapPixels applies fn to the color channels of every pixel in place,
// leaving alpha untouched.
func mapPixels(img *image.NRGBA, fn func(uint8) uint8) {
	for i := 0; i+3 < len(img.Pix); i += 4 {
		img.Pix[i] = fn(img.Pix[i])
		img.Pix[i+1] = fn(img.Pix[i+1])
		img.Pix[i+2] = fn(img.Pix[i+2])
	}
}

func clamp(v float64) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v + 0.5)
}
