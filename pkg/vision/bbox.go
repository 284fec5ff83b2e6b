package vision

import "math"

// BoundingBox is a normalized (0..1) image region, the same shape the
// review UI overlays on the source image.
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// combineBoundingBoxThreshold bounds the center-to-center distance, in
// normalized (0..1) image coordinates, below which the receipt-number
// and date boxes are merged for display.
const combineBoundingBoxThreshold = 0.3

// bboxDistance returns the normalized Euclidean distance between two
// boxes' centers, or +Inf if either is nil.
func bboxDistance(a, b *BoundingBox) float64 {
	if a == nil || b == nil {
		return math.Inf(1)
	}
	ax := a.X + a.Width/2
	ay := a.Y + a.Height/2
	bx := b.X + b.Width/2
	by := b.Y + b.Height/2
	dx := bx - ax
	dy := by - ay
	return math.Sqrt(dx*dx + dy*dy)
}

// shouldCombineBoundingBoxes reports whether the receipt-number and
// date boxes sit close enough to be shown as one region.
func shouldCombineBoundingBoxes(receipt, date *BoundingBox) bool {
	return bboxDistance(receipt, date) < combineBoundingBoxThreshold
}

// combineBoundingBoxes returns the minimal rectangle enclosing both
// boxes.
func combineBoundingBoxes(a, b *BoundingBox) BoundingBox {
	minX := math.Min(a.X, b.X)
	minY := math.Min(a.Y, b.Y)
	maxX := math.Max(a.X+a.Width, b.X+b.Width)
	maxY := math.Max(a.Y+a.Height, b.Y+b.Height)
	return BoundingBox{X: minX, Y: minY, Width: maxX - minX, Height: maxY - minY}
}

// mergeReceiptDateBoundingBoxes applies the combine-or-keep-separate
// rule to the receipt-number and date boxes the model returned in a
// header, re-escalated or not: if they're close enough, the combined
// box is what the review UI should show for both fields.
func mergeReceiptDateBoundingBoxes(receipt, date *BoundingBox) (combined *BoundingBox) {
	if receipt == nil || date == nil {
		return nil
	}
	if !shouldCombineBoundingBoxes(receipt, date) {
		return nil
	}
	box := combineBoundingBoxes(receipt, date)
	return &box
}

// parseBoundingBox reads a "{field}_bbox" entry out of a header map as
// returned by the vision model, tolerating its absence or a malformed
// shape.
func parseBoundingBox(header map[string]interface{}, field string) *BoundingBox {
	raw, ok := header[field+"_bbox"]
	if !ok {
		return nil
	}
	m, ok := raw.(map[string]interface{})
	if !ok {
		return nil
	}
	get := func(key string) float64 {
		v, ok := m[key].(float64)
		if !ok {
			return 0
		}
		return v
	}
	return &BoundingBox{X: get("x"), Y: get("y"), Width: get("width"), Height: get("height")}
}
