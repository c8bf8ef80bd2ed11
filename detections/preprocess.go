package detections

import (
	"image"
	"os"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"golang.org/x/sync/errgroup"

	"github.com/Tutortoise/layout-detection-service/models"

	// Extra decoders for LoadImage.
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

const planeSize = InputWidth * InputHeight

var bufferPool = sync.Pool{
	New: func() interface{} {
		return make([]float32, planeSize*InputPlanes)
	},
}

// PreprocessedTensor is the planar RGB input of one inference call.
type PreprocessedTensor struct {
	Data   []float32
	Width  int
	Height int
	// ScaleFactor is target/original per axis, [sx, sy].
	ScaleFactor [2]float32
}

// Shape is the NCHW shape of Data.
func (t *PreprocessedTensor) Shape() []int64 {
	return []int64{1, InputPlanes, int64(t.Height), int64(t.Width)}
}

// Release hands Data back to the buffer pool. t must not be used afterwards.
func (t *PreprocessedTensor) Release() {
	if t == nil || t.Data == nil {
		return
	}
	bufferPool.Put(t.Data)
	t.Data = nil
}

// LoadImage decodes the file at path, honouring EXIF orientation.
func LoadImage(path string) (models.RawImage, error) {
	if err := checkDeclaredSize(path); err != nil {
		return models.RawImage{}, err
	}
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return models.RawImage{}, &models.ImageDecodeError{Message: "open " + path, Cause: err}
	}
	raw := models.RawImageFromImage(img)
	if raw.Empty() {
		return models.RawImage{}, &models.ImageDecodeError{Message: "empty image " + path}
	}
	return raw, nil
}

// checkDeclaredSize reads only the image header so oversized images are
// rejected before their pixels are allocated.
func checkDeclaredSize(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return &models.ImageDecodeError{Message: "open " + path, Cause: err}
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return &models.ImageDecodeError{Message: "read header of " + path, Cause: err}
	}
	return models.CheckDimensions(cfg.Width, cfg.Height)
}

// Preprocess converts raw to 3 channels, resizes it to 640x640 and lays it out as
// a normalized planar float32 blob. timings may be nil.
func Preprocess(raw models.RawImage, timings *models.ProcessingTimings) (*PreprocessedTensor, error) {
	if err := raw.Validate(); err != nil {
		return nil, err
	}

	resizeStart := time.Now()
	resized := imaging.Resize(toRGB(raw), InputWidth, InputHeight, imaging.Linear)
	if timings != nil {
		timings.Resize = time.Since(resizeStart)
	}

	t := &PreprocessedTensor{
		Data:   bufferPool.Get().([]float32),
		Width:  InputWidth,
		Height: InputHeight,
		ScaleFactor: [2]float32{
			float32(InputWidth) / float32(raw.Width),
			float32(InputHeight) / float32(raw.Height),
		},
	}
	if err := fillPlanes(resized, t.Data); err != nil {
		t.Release()
		return nil, &models.ImageDecodeError{Message: "build input blob", Cause: err}
	}
	return t, nil
}

// toRGB returns an opaque NRGBA copy of raw. Alpha is dropped, gray replicated.
func toRGB(raw models.RawImage) *image.NRGBA {
	dst := image.NewNRGBA(image.Rect(0, 0, raw.Width, raw.Height))
	n := raw.Width * raw.Height
	switch raw.Channels {
	case 1:
		for i := 0; i < n; i++ {
			v := raw.Pix[i]
			dst.Pix[i*4], dst.Pix[i*4+1], dst.Pix[i*4+2], dst.Pix[i*4+3] = v, v, v, 0xff
		}
	case 3:
		for i := 0; i < n; i++ {
			copy(dst.Pix[i*4:i*4+3], raw.Pix[i*3:i*3+3])
			dst.Pix[i*4+3] = 0xff
		}
	case 4:
		for i := 0; i < n; i++ {
			copy(dst.Pix[i*4:i*4+3], raw.Pix[i*4:i*4+3])
			dst.Pix[i*4+3] = 0xff
		}
	}
	return dst
}

// fillPlanes writes one channel plane per goroutine.
func fillPlanes(img *image.NRGBA, dst []float32) error {
	b := img.Bounds()
	if b.Dx() != InputWidth || b.Dy() != InputHeight {
		return imageSizeError(b)
	}

	var g errgroup.Group
	for c := 0; c < InputPlanes; c++ {
		channel := c
		g.Go(func() error {
			plane := dst[channel*planeSize : (channel+1)*planeSize]
			for y := 0; y < InputHeight; y++ {
				row := img.Pix[y*img.Stride:]
				offset := y * InputWidth
				for x := 0; x < InputWidth; x++ {
					plane[offset+x] = float32(row[x*4+channel]) / 255.0
				}
			}
			return nil
		})
	}
	return g.Wait()
}

type imageSizeError image.Rectangle

func (e imageSizeError) Error() string {
	return "resized image is " + image.Rectangle(e).Size().String() + ", want 640x640"
}
