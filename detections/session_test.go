package detections

import (
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/Tutortoise/layout-detection-service/models"
)

func feedNames(feeds []Feed) []string {
	names := make([]string, len(feeds))
	for i, f := range feeds {
		names[i] = f.Name
	}
	return names
}

func TestCompactVariantFeeds(t *testing.T) {
	engine := &stubEngine{inputs: compactInputs(), output: rows()}
	session, err := NewModelSession("m.onnx", engine)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, session.Variant, test.ShouldEqual, Compact)
	test.That(t, session.InputCount(), test.ShouldEqual, 2)

	tensor := &PreprocessedTensor{
		Data:        make([]float32, planeSize*InputPlanes),
		Width:       InputWidth,
		Height:      InputHeight,
		ScaleFactor: [2]float32{0.64, 0.8},
	}
	out, err := session.Run(tensor, 1000, 800)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out.Variant, test.ShouldEqual, Compact)
	test.That(t, out.ScaleFactor, test.ShouldResemble, [2]float32{0.64, 0.8})

	test.That(t, feedNames(engine.fed), test.ShouldResemble, []string{InputImage, InputScaleFactor})
	test.That(t, engine.fed[0].Shape, test.ShouldResemble, []int64{1, 3, 640, 640})
	test.That(t, engine.fed[1].Shape, test.ShouldResemble, []int64{1, 2})
	test.That(t, engine.fed[1].Data, test.ShouldResemble, []float32{0.64, 0.8})
}

func TestExtendedVariantFeeds(t *testing.T) {
	engine := &stubEngine{inputs: extendedInputs(), output: rows()}
	session, err := NewModelSession("m.onnx", engine)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, session.Variant, test.ShouldEqual, Extended)

	tensor := &PreprocessedTensor{
		Data:        make([]float32, planeSize*InputPlanes),
		Width:       InputWidth,
		Height:      InputHeight,
		ScaleFactor: [2]float32{0.64, 0.8},
	}
	out, err := session.Run(tensor, 1000, 800)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out.Variant, test.ShouldEqual, Extended)
	test.That(t, out.ScaleFactor, test.ShouldResemble, [2]float32{1, 1})

	test.That(t, feedNames(engine.fed), test.ShouldResemble, []string{InputImShape, InputImage, InputScaleFactor})
	test.That(t, engine.fed[0].Data, test.ShouldResemble, []float32{800, 1000})
	test.That(t, engine.fed[2].Data, test.ShouldResemble, []float32{1, 1})
}

func TestUnsupportedInputArity(t *testing.T) {
	for _, inputs := range [][]string{{InputImage}, {"a", "b", "c", "d"}} {
		_, err := NewModelSession("odd.onnx", &stubEngine{inputs: inputs})
		var initErr *models.ModelInitError
		test.That(t, errors.As(err, &initErr), test.ShouldBeTrue)
		test.That(t, err.Error(), test.ShouldContainSubstring, "want 2 or 3")
	}
}

func TestOpenModelSession(t *testing.T) {
	_, err := OpenModelSession(&stubRuntime{}, "")
	var initErr *models.ModelInitError
	test.That(t, errors.As(err, &initErr), test.ShouldBeTrue)

	_, err = OpenModelSession(&stubRuntime{loadErr: errors.New("no such file")}, "missing.onnx")
	test.That(t, errors.As(err, &initErr), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, "no such file")

	engine := &stubEngine{inputs: []string{"only"}}
	_, err = OpenModelSession(&stubRuntime{engine: engine}, "bad.onnx")
	test.That(t, errors.As(err, &initErr), test.ShouldBeTrue)
	test.That(t, engine.destroyed, test.ShouldBeTrue)
}

func TestRunSurfacesEngineFailure(t *testing.T) {
	session, err := NewModelSession("m.onnx", &stubEngine{inputs: compactInputs(), runErr: errEngine})
	test.That(t, err, test.ShouldBeNil)

	_, err = session.Run(&PreprocessedTensor{Width: InputWidth, Height: InputHeight}, 10, 10)
	var infErr *models.InferenceError
	test.That(t, errors.As(err, &infErr), test.ShouldBeTrue)
	test.That(t, errors.Is(err, errEngine), test.ShouldBeTrue)
}

func TestRunRejectsMalformedOutput(t *testing.T) {
	for _, out := range []Output{
		{Shape: []int64{1, 5}, Data: make([]float32, 5)},
		{Shape: []int64{2, 3}, Data: make([]float32, 6)},
	} {
		session, err := NewModelSession("m.onnx", &stubEngine{inputs: compactInputs(), output: out})
		test.That(t, err, test.ShouldBeNil)
		_, err = session.Run(&PreprocessedTensor{Width: InputWidth, Height: InputHeight}, 10, 10)
		var infErr *models.InferenceError
		test.That(t, errors.As(err, &infErr), test.ShouldBeTrue)
	}
}
