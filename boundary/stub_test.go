package boundary

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.viam.com/test"

	"github.com/Tutortoise/layout-detection-service/detections"
)

type fakeEngine struct {
	rt *fakeRuntime
}

func (e *fakeEngine) InputNames() []string {
	return []string{detections.InputImage, detections.InputScaleFactor}
}

func (e *fakeEngine) OutputNames() []string { return []string{"boxes"} }

func (e *fakeEngine) Run(feeds []detections.Feed) (detections.Output, error) {
	e.rt.capture(feeds)
	if e.rt.gate != nil {
		<-e.rt.gate
	}
	if e.rt.runErr != nil {
		return detections.Output{}, e.rt.runErr
	}
	n := int64(len(e.rt.rows) / detections.RowWidth)
	return detections.Output{Shape: []int64{n, detections.RowWidth}, Data: e.rt.rows}, nil
}

func (e *fakeEngine) Destroy() error {
	e.rt.destroys.Inc()
	return nil
}

// fakeRuntime hands out a fresh compact engine per Load.
type fakeRuntime struct {
	rows    []float32
	runErr  error
	loadErr error
	initErr error
	gate    chan struct{}

	loads    atomic.Int64
	destroys atomic.Int64

	mu     sync.Mutex
	planes [3]float32
}

// capture keeps the centre value of each image plane of the last run.
func (r *fakeRuntime) capture(feeds []detections.Feed) {
	const planeSize = detections.InputWidth * detections.InputHeight
	centre := detections.InputHeight/2*detections.InputWidth + detections.InputWidth/2

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range feeds {
		if f.Name != detections.InputImage {
			continue
		}
		for c := range r.planes {
			r.planes[c] = f.Data[c*planeSize+centre]
		}
	}
}

func (r *fakeRuntime) capturedPlanes() [3]float32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.planes
}

func (r *fakeRuntime) Init() error { return r.initErr }

func (r *fakeRuntime) Load(string) (detections.Engine, error) {
	if r.loadErr != nil {
		return nil, r.loadErr
	}
	r.loads.Inc()
	return &fakeEngine{rt: r}, nil
}

func textRow() []float32 {
	return []float32{2, 0.91, 100, 100, 300, 200}
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 0x80, A: 0xff})
		}
	}
	var buf bytes.Buffer
	test.That(t, png.Encode(&buf, img), test.ShouldBeNil)
	return buf.Bytes()
}

var errLocked = errors.New("file is locked")
