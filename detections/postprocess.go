package detections

import (
	"math"

	"github.com/Tutortoise/layout-detection-service/models"
)

// Postprocess turns raw [class_id, score, x1, y1, x2, y2] rows into image-space
// boxes. Rows below conf, with an unknown class, or with non-finite values are
// dropped. Emission order is kept.
func Postprocess(out RawOutput, width, height int, conf float32) []models.DetectionBox {
	invX, invY := 1.0, 1.0
	if out.Variant == Compact {
		invX = 1 / float64(out.ScaleFactor[0])
		invY = 1 / float64(out.ScaleFactor[1])
	}
	w, h := float64(width), float64(height)

	boxes := make([]models.DetectionBox, 0, min(out.Count, 100))
	for i := 0; i < out.Count; i++ {
		row := out.Rows[i*RowWidth : (i+1)*RowWidth]
		if !finite(row) {
			continue
		}

		score := row[1]
		if score < conf {
			continue
		}
		classID := int(row[0])
		name, ok := models.ClassName(classID)
		if !ok || row[0] < 0 {
			continue
		}

		x1, x2 := ordered(clamp(float64(row[2])*invX, w), clamp(float64(row[4])*invX, w))
		y1, y2 := ordered(clamp(float64(row[3])*invY, h), clamp(float64(row[5])*invY, h))

		boxes = append(boxes, models.DetectionBox{
			X1:        x1,
			Y1:        y1,
			X2:        x2,
			Y2:        y2,
			Score:     float64(score),
			ClassID:   classID,
			ClassName: name,
		})
	}
	return boxes
}

func clamp(v, limit float64) float64 {
	return math.Max(0, math.Min(v, limit))
}

// ordered swaps a reversed pair; clamping alone does not guarantee a <= b.
func ordered(a, b float64) (float64, float64) {
	if a > b {
		return b, a
	}
	return a, b
}

func finite(row []float32) bool {
	for _, v := range row {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}
