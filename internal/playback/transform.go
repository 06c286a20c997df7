package playback

import "github.com/marquee-signage/marquee/internal/models"

// Fit values understood by the renderer, named after CSS object-fit.
const (
	FitContain = "contain"
	FitCover   = "cover"
	FitFill    = "fill"
)

// Transform describes how an item is drawn into its zone.
type Transform struct {
	Fit string `json:"fit"`
	// Rotation in degrees clockwise about the zone center.
	Rotation int `json:"rotation"`
	// SwapAxes is set for 90 and 270 degree rotations: the item is laid out
	// into a box with the zone's width and height exchanged.
	SwapAxes bool `json:"swapAxes"`
}

func TransformFor(item models.Item) Transform {
	t := Transform{Fit: FitContain}
	switch item.ResizeMode {
	case models.ResizeFill:
		t.Fit = FitCover
	case models.ResizeStretch:
		t.Fit = FitFill
	}
	switch item.Rotation {
	case 90, 270:
		t.Rotation = item.Rotation
		t.SwapAxes = true
	case 180:
		t.Rotation = 180
	}
	return t
}

// Box returns the width and height the item is laid out into for a zone of
// the given size.
func (t Transform) Box(width, height float64) (float64, float64) {
	if t.SwapAxes {
		return height, width
	}
	return width, height
}
