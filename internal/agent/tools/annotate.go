package tools

import (
	"image"
	"image/color"

	"github.com/fogleman/gg"
)

// UIElement is an on-screen control located by the accessibility layer,
// with its bounds in screen coordinates.
type UIElement struct {
	Role  string `json:"role"`
	Title string `json:"title"`
	X     int    `json:"x"`
	Y     int    `json:"y"`
	W     int    `json:"w"`
	H     int    `json:"h"`
}

// Annotation colors
var (
	overlayColor = color.NRGBA{R: 51, G: 153, B: 255, A: 38}  // Semi-transparent blue
	borderColor  = color.NRGBA{R: 51, G: 153, B: 255, A: 200} // Blue border
	pillBG       = color.NRGBA{R: 30, G: 30, B: 30, A: 220}   // Dark background
	pillText     = color.White
)

const (
	borderWidth   = 2.0
	pillPadX      = 4.0
	pillPadY      = 2.0
	pillRadius    = 4.0
	maxLabelRunes = 24
)

// RenderAnnotations draws labeled overlays for UI elements on a
// screenshot. Returns a new image; the original is not modified.
func RenderAnnotations(img image.Image, elements []UIElement) (image.Image, error) {
	bounds := img.Bounds()
	dc := gg.NewContext(bounds.Dx(), bounds.Dy())
	dc.DrawImage(img, 0, 0)

	for _, elem := range elements {
		drawElementOverlay(dc, elem, bounds)
	}

	return dc.Image(), nil
}

func drawElementOverlay(dc *gg.Context, elem UIElement, imgBounds image.Rectangle) {
	// Element bounds relative to image origin
	x := float64(elem.X - imgBounds.Min.X)
	y := float64(elem.Y - imgBounds.Min.Y)
	w := float64(elem.W)
	h := float64(elem.H)

	// Clamp to image bounds
	imgW := float64(imgBounds.Dx())
	imgH := float64(imgBounds.Dy())
	if x < 0 {
		w += x
		x = 0
	}
	if y < 0 {
		h += y
		y = 0
	}
	if x+w > imgW {
		w = imgW - x
	}
	if y+h > imgH {
		h = imgH - y
	}
	if w <= 0 || h <= 0 {
		return
	}

	dc.SetColor(overlayColor)
	dc.DrawRectangle(x, y, w, h)
	dc.Fill()

	dc.SetColor(borderColor)
	dc.SetLineWidth(borderWidth)
	dc.DrawRectangle(x, y, w, h)
	dc.Stroke()

	if label := elementLabel(elem); label != "" {
		drawLabelPill(dc, label, x, y, w, imgW, imgH)
	}
}

// elementLabel is what the pill shows: the control title, truncated, since
// clicks target elements by name.
func elementLabel(elem UIElement) string {
	label := elem.Title
	if label == "" {
		label = elem.Role
	}
	r := []rune(label)
	if len(r) > maxLabelRunes {
		return string(r[:maxLabelRunes]) + "…"
	}
	return label
}

func drawLabelPill(dc *gg.Context, label string, elemX, elemY, elemW, imgW, imgH float64) {
	// Default font, no external font files needed.
	textW, textH := dc.MeasureString(label)
	pillW := textW + pillPadX*2
	pillH := textH + pillPadY*2

	// Placement preference: above-left, above-right, below-left, then
	// inside top-left.
	type pos struct{ x, y float64 }
	candidates := []pos{
		{elemX, elemY - pillH - 2},
		{elemX + elemW - pillW, elemY - pillH - 2},
		{elemX, elemY + pillH + 2},
		{elemX + 2, elemY + 2},
	}

	px, py := elemX+2, elemY+2
	for _, c := range candidates {
		if c.x >= 0 && c.y >= 0 && c.x+pillW <= imgW && c.y+pillH <= imgH {
			px, py = c.x, c.y
			break
		}
	}

	dc.SetColor(pillBG)
	dc.DrawRoundedRectangle(px, py, pillW, pillH, pillRadius)
	dc.Fill()

	dc.SetColor(pillText)
	dc.DrawString(label, px+pillPadX, py+pillPadY+textH*0.85)
}
