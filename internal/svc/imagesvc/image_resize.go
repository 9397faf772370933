package imagesvc

import (
	"errors"
	"image"
	"strings"

	"golang.org/x/image/draw"
)

// ErrUnknownInterpolator is returned when an unsupported interpolation method is specified.
var ErrUnknownInterpolator = errors.New("unknown interpolator")

//nolint:gochecknoglobals
var (
	// interpolMap maps interpolator names to their implementations.
	interpolMap = map[string]draw.Interpolator{
		"nearestneighbor": draw.NearestNeighbor,
		"catmullrom":      draw.CatmullRom,
		"bilinear":        draw.BiLinear,
		"approxbilinear":  draw.ApproxBiLinear,
	}
)

func getInterpolatorByName(name string) (draw.Interpolator, error) {
	interpol, ok := interpolMap[strings.ToLower(name)]
	if !ok {
		return nil, ErrUnknownInterpolator
	}

	return interpol, nil
}

// scaleToWidth scales original down to width, keeping the aspect ratio.
// Images that are not wider than width are returned unchanged.
func scaleToWidth(original image.Image, width int, interpol draw.Interpolator) image.Image {
	bounds := original.Bounds()
	if width <= 0 || bounds.Dx() <= width {
		return original
	}

	ratio := float64(width) / float64(bounds.Dx())
	height := max(1, int(float64(bounds.Dy())*ratio))

	bitmap := image.NewRGBA(image.Rect(0, 0, width, height))
	interpol.Scale(bitmap, bitmap.Bounds(), original, bounds, draw.Over, nil)

	return bitmap
}
