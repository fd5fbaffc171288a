package compose

// ClipEffect names a Ken Burns style camera move over a still image.
type ClipEffect string

const (
	EffectZoomIn         ClipEffect = "zoom_in"           // full frame to centered close-up
	EffectZoomOut        ClipEffect = "zoom_out"          // centered close-up back to full frame
	EffectPanRight       ClipEffect = "pan_right"         // left edge to right edge
	EffectPanLeft        ClipEffect = "pan_left"          // right edge to left edge
	EffectPanDown        ClipEffect = "pan_down"          // top to bottom
	EffectPanUp          ClipEffect = "pan_up"            // bottom to top
	EffectZoomInPanRight ClipEffect = "zoom_in_pan_right" // zoom while drifting right
	EffectZoomInPanLeft  ClipEffect = "zoom_in_pan_left"  // zoom while drifting left
	EffectZoomInPanUp    ClipEffect = "zoom_in_pan_up"    // zoom while drifting up
	EffectZoomInPanDown  ClipEffect = "zoom_in_pan_down"  // zoom while drifting down
)

var allEffects = []ClipEffect{
	EffectZoomIn,
	EffectPanRight,
	EffectZoomOut,
	EffectPanDown,
	EffectZoomInPanRight,
	EffectPanLeft,
	EffectZoomInPanUp,
	EffectPanUp,
	EffectZoomInPanLeft,
	EffectZoomInPanDown,
}

func (e ClipEffect) Valid() bool {
	for _, known := range allEffects {
		if e == known {
			return true
		}
	}
	return false
}

// EffectForScene picks the effect for a scene from the rotation. The choice depends
// only on the index so re-renders never change camera moves.
func EffectForScene(index int, effects []ClipEffect) ClipEffect {
	if len(effects) == 0 {
		effects = allEffects
	}
	if index < 0 {
		index = -index
	}
	return effects[index%len(effects)]
}

// Rect is a visible window over the source image in normalized coordinates.
// X and Y locate the top-left corner; W and H are fractions of the source size.
type Rect struct {
	X, Y, W, H float64
}

// Full is the whole source image.
var Full = Rect{X: 0, Y: 0, W: 1, H: 1}

// Lerp interpolates linearly toward to; p is clamped to [0, 1].
func (r Rect) Lerp(to Rect, p float64) Rect {
	if p < 0 {
		p = 0
	}
	if p > 1 {
		p = 1
	}
	return Rect{
		X: r.X + (to.X-r.X)*p,
		Y: r.Y + (to.Y-r.Y)*p,
		W: r.W + (to.W-r.W)*p,
		H: r.H + (to.H-r.H)*p,
	}
}

// Motion is a camera move from one window to another over a scene.
type Motion struct {
	Effect ClipEffect
	From   Rect
	To     Rect
}

// MotionFor resolves an effect into start and end windows at the given zoom.
func MotionFor(effect ClipEffect, zoom float64) Motion {
	if zoom < 1 {
		zoom = 1
	}
	w := 1 / zoom
	c := (1 - w) / 2 // offset that centers the window
	far := 1 - w     // offset that touches the far edge

	tight := func(x, y float64) Rect { return Rect{X: x, Y: y, W: w, H: w} }

	m := Motion{Effect: effect}
	switch effect {
	case EffectZoomIn:
		m.From, m.To = Full, tight(c, c)
	case EffectZoomOut:
		m.From, m.To = tight(c, c), Full
	case EffectPanRight:
		m.From, m.To = tight(0, c), tight(far, c)
	case EffectPanLeft:
		m.From, m.To = tight(far, c), tight(0, c)
	case EffectPanDown:
		m.From, m.To = tight(c, 0), tight(c, far)
	case EffectPanUp:
		m.From, m.To = tight(c, far), tight(c, 0)
	case EffectZoomInPanRight:
		m.From, m.To = Full, tight(far, c)
	case EffectZoomInPanLeft:
		m.From, m.To = Full, tight(0, c)
	case EffectZoomInPanUp:
		m.From, m.To = Full, tight(c, 0)
	case EffectZoomInPanDown:
		m.From, m.To = Full, tight(c, far)
	default:
		m.Effect = EffectZoomIn
		m.From, m.To = Full, tight(c, c)
	}
	return m
}
