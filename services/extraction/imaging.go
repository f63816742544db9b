package extraction

import (
	"image"

	"golang.org/x/image/draw"
)

const (
	contrastFactor    = 1.5
	sharpnessFactor   = 1.2
	binarizeThreshold = 140
	maxOCRWidth       = 2000
)

// preprocessPage prepares a rendered page for OCR: grayscale, contrast and
// sharpness boost, black/white threshold, then a downscale of wide pages.
func preprocessPage(src image.Image) *image.Gray {
	gray := toGray(src)
	gray = enhanceContrast(gray, contrastFactor)
	gray = enhanceSharpness(gray, sharpnessFactor)
	binarize(gray, binarizeThreshold)
	return downscale(gray, maxOCRWidth)
}

func toGray(src image.Image) *image.Gray {
	bounds := src.Bounds()
	gray := image.NewGray(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(gray, gray.Bounds(), src, bounds.Min, draw.Src)
	return gray
}

// enhanceContrast blends the image with a flat image of its mean luminance.
func enhanceContrast(img *image.Gray, factor float64) *image.Gray {
	mean := meanLuminance(img)
	out := image.NewGray(img.Rect)
	for i, v := range img.Pix {
		out.Pix[i] = blend(mean, float64(v), factor)
	}
	return out
}

// enhanceSharpness blends the image with a smoothed copy of itself. Edge
// pixels are left as they are.
func enhanceSharpness(img *image.Gray, factor float64) *image.Gray {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	out := image.NewGray(img.Rect)
	copy(out.Pix, img.Pix)
	if width < 3 || height < 3 {
		return out
	}

	for y := 1; y < height-1; y++ {
		for x := 1; x < width-1; x++ {
			var sum int
			for dy := -1; dy <= 1; dy++ {
				row := (y+dy)*img.Stride + x
				sum += int(img.Pix[row-1]) + int(img.Pix[row]) + int(img.Pix[row+1])
			}
			center := int(img.Pix[y*img.Stride+x])
			// 3x3 smoothing kernel: centre weight 5, neighbours 1.
			smoothed := float64(sum+4*center) / 13
			out.Pix[y*out.Stride+x] = blend(smoothed, float64(center), factor)
		}
	}
	return out
}

func binarize(img *image.Gray, threshold uint8) {
	for i, v := range img.Pix {
		if v < threshold {
			img.Pix[i] = 0
		} else {
			img.Pix[i] = 255
		}
	}
}

func downscale(img *image.Gray, maxWidth int) *image.Gray {
	width, height := img.Bounds().Dx(), img.Bounds().Dy()
	if width <= maxWidth {
		return img
	}

	newHeight := max(1, int(float64(height)*float64(maxWidth)/float64(width)))
	dst := image.NewGray(image.Rect(0, 0, maxWidth, newHeight))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}

func meanLuminance(img *image.Gray) float64 {
	if len(img.Pix) == 0 {
		return 0
	}
	var total uint64
	for _, v := range img.Pix {
		total += uint64(v)
	}
	return float64(int(float64(total)/float64(len(img.Pix)) + 0.5))
}

// blend returns degenerate + factor*(value-degenerate), clamped to a byte.
func blend(degenerate float64, value float64, factor float64) uint8 {
	result := degenerate + factor*(value-degenerate)
	switch {
	case result <= 0:
		return 0
	case result >= 255:
		return 255
	default:
		return uint8(result + 0.5)
	}
}
