package vision

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("bounding box merge", func() {
	Describe("mergeReceiptDateBoundingBoxes", func() {
		It("returns nil when either box is missing", func() {
			box := &BoundingBox{X: 0.1, Y: 0.1, Width: 0.1, Height: 0.1}
			Expect(mergeReceiptDateBoundingBoxes(nil, box)).To(BeNil())
			Expect(mergeReceiptDateBoundingBoxes(box, nil)).To(BeNil())
		})

		It("returns nil when the boxes are too far apart", func() {
			receipt := &BoundingBox{X: 0, Y: 0, Width: 0.05, Height: 0.05}
			date := &BoundingBox{X: 0.9, Y: 0.9, Width: 0.05, Height: 0.05}
			Expect(mergeReceiptDateBoundingBoxes(receipt, date)).To(BeNil())
		})

		It("returns the enclosing rectangle when the boxes are close", func() {
			receipt := &BoundingBox{X: 0.1, Y: 0.1, Width: 0.1, Height: 0.05}
			date := &BoundingBox{X: 0.15, Y: 0.1, Width: 0.1, Height: 0.05}

			combined := mergeReceiptDateBoundingBoxes(receipt, date)

			Expect(combined).ToNot(BeNil())
			Expect(combined.X).To(Equal(0.1))
			Expect(combined.Y).To(Equal(0.1))
			Expect(combined.Width).To(BeNumerically("~", 0.15, 0.0001))
			Expect(combined.Height).To(Equal(0.05))
		})
	})

	Describe("parseBoundingBox", func() {
		It("returns nil when the field is absent", func() {
			Expect(parseBoundingBox(map[string]interface{}{}, "receipt_number")).To(BeNil())
		})

		It("returns nil when the field isn't shaped like a box", func() {
			header := map[string]interface{}{"receipt_number_bbox": "not a box"}
			Expect(parseBoundingBox(header, "receipt_number")).To(BeNil())
		})

		It("parses a well-formed box", func() {
			header := map[string]interface{}{
				"receipt_number_bbox": map[string]interface{}{
					"x": 0.1, "y": 0.2, "width": 0.3, "height": 0.4,
				},
			}
			box := parseBoundingBox(header, "receipt_number")
			Expect(box).ToNot(BeNil())
			Expect(*box).To(Equal(BoundingBox{X: 0.1, Y: 0.2, Width: 0.3, Height: 0.4}))
		})
	})
})
