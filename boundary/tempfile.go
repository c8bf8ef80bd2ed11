package boundary

import (
	"os"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Tutortoise/layout-detection-service/models"
)

// tempImage is an image written to disk for the duration of one task.
type tempImage struct {
	path   string
	remove func(string) error
	logger *zap.Logger
	onFail func()
}

// writeTempImage materializes in-memory request bytes as a file, since the
// pipeline only reads images from paths.
func (d *Detector) writeTempImage(req models.RequestEnvelope) (*tempImage, error) {
	pattern := "layout-*.img"
	if req.Pixels != nil {
		if err := req.Pixels.Validate(); err != nil {
			return nil, err
		}
		pattern = "layout-*.png"
	} else if len(req.Encoded) == 0 {
		return nil, &models.ImageDecodeError{Message: "empty image bytes"}
	}

	f, err := os.CreateTemp(d.tempDir, pattern)
	if err != nil {
		return nil, errors.Wrap(err, "create temp image")
	}
	tmp := &tempImage{
		path:   f.Name(),
		remove: d.removeFile,
		logger: d.logger,
		onFail: func() { d.metrics.tempRemoveFailures.Inc() },
	}

	if req.Pixels != nil {
		err = imaging.Encode(f, req.Pixels.Image(), imaging.PNG)
	} else {
		_, err = f.Write(req.Encoded)
	}
	err = multierr.Append(err, f.Close())
	if err != nil {
		tmp.cleanup()
		return nil, errors.Wrap(err, "write temp image")
	}
	return tmp, nil
}

// cleanup removes the file. Failure is logged, never returned.
func (t *tempImage) cleanup() {
	if err := t.remove(t.path); err != nil && !os.IsNotExist(err) {
		t.onFail()
		t.logger.Warn("remove temp image", zap.String("path", t.path), zap.Error(err))
	}
}
