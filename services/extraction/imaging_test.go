package extraction

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPreprocessPageProducesBinaryImage(t *testing.T) {
	assert := require.New(t)

	src := image.NewRGBA(image.Rect(10, 10, 60, 40))
	for y := 10; y < 40; y++ {
		for x := 10; x < 60; x++ {
			value := uint8((x * 5) % 256)
			src.Set(x, y, color.RGBA{R: value, G: value / 2, B: 200, A: 255})
		}
	}

	out := preprocessPage(src)
	assert.Equal(image.Rect(0, 0, 50, 30), out.Bounds())
	for _, v := range out.Pix {
		assert.True(v == 0 || v == 255, "every pixel should be black or white")
	}
}

func TestDownscaleKeepsAspectRatio(t *testing.T) {
	assert := require.New(t)

	wide := image.NewGray(image.Rect(0, 0, 4000, 1000))
	out := downscale(wide, maxOCRWidth)
	assert.Equal(2000, out.Bounds().Dx())
	assert.Equal(500, out.Bounds().Dy())

	narrow := image.NewGray(image.Rect(0, 0, 800, 1000))
	assert.Same(narrow, downscale(narrow, maxOCRWidth))
}

func TestEnhanceContrast(t *testing.T) {
	assert := require.New(t)

	img := image.NewGray(image.Rect(0, 0, 2, 1))
	img.Pix[0], img.Pix[1] = 100, 200

	out := enhanceContrast(img, 1.5)
	// Mean is 150: 150 + 1.5*(100-150) and 150 + 1.5*(200-150).
	assert.Equal([]uint8{75, 225}, out.Pix)
	assert.Equal([]uint8{100, 200}, img.Pix, "the input is left unchanged")
}

func TestBinarizeThreshold(t *testing.T) {
	assert := require.New(t)

	img := image.NewGray(image.Rect(0, 0, 3, 1))
	img.Pix[0], img.Pix[1], img.Pix[2] = 139, 140, 141
	binarize(img, binarizeThreshold)
	assert.Equal([]uint8{0, 255, 255}, img.Pix)
}

func TestBlendClamps(t *testing.T) {
	assert := require.New(t)

	assert.Equal(uint8(0), blend(100, 0, 3))
	assert.Equal(uint8(255), blend(100, 250, 3))
}
