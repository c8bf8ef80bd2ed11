package detections

import (
	"time"

	"github.com/Tutortoise/layout-detection-service/models"
)

// ProcessImage runs preprocessing, inference and postprocessing for one image.
// timings may be nil.
func ProcessImage(raw models.RawImage, session *ModelSession, conf float32, timings *models.ProcessingTimings) ([]models.DetectionBox, error) {
	if timings == nil {
		timings = &models.ProcessingTimings{}
	}

	prepStart := time.Now()
	tensor, err := Preprocess(raw, timings)
	if err != nil {
		return nil, err
	}
	defer tensor.Release()
	timings.Preprocess = time.Since(prepStart)

	inferStart := time.Now()
	out, err := session.Run(tensor, raw.Width, raw.Height)
	if err != nil {
		return nil, err
	}
	timings.Inference = time.Since(inferStart)

	postStart := time.Now()
	boxes := Postprocess(out, raw.Width, raw.Height, conf)
	timings.Postprocess = time.Since(postStart)

	return boxes, nil
}
