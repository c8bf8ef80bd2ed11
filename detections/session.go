package detections

import (
	"fmt"

	"github.com/Tutortoise/layout-detection-service/models"
)

// Runtime loads models into engines.
type Runtime interface {
	// Init prepares the native runtime. It is safe to call more than once.
	Init() error
	Load(modelPath string) (Engine, error)
}

// Engine is one loaded model.
type Engine interface {
	InputNames() []string
	OutputNames() []string
	Run(feeds []Feed) (Output, error)
	Destroy() error
}

// Feed is a named float32 input tensor.
type Feed struct {
	Name  string
	Shape []int64
	Data  []float32
}

// Output is the first output tensor of a run.
type Output struct {
	Shape []int64
	Data  []float32
}

// Variant is the input-signature convention of a model.
type Variant int

const (
	// Compact models take image and scale_factor and emit 640-space boxes.
	Compact Variant = iota
	// Extended models take im_shape, image and scale_factor and emit
	// original-space boxes.
	Extended
)

func (v Variant) String() string {
	switch v {
	case Compact:
		return "compact"
	case Extended:
		return "extended"
	}
	return fmt.Sprintf("Variant(%d)", int(v))
}

// RawOutput is the [N,6] output of one run plus what is needed to invert it.
type RawOutput struct {
	Rows        []float32
	Count       int
	Variant     Variant
	ScaleFactor [2]float32
}

// ModelSession routes tensors into an engine according to its input arity.
type ModelSession struct {
	Path    string
	Engine  Engine
	Variant Variant
}

// NewModelSession inspects engine's declared inputs and picks the variant.
func NewModelSession(path string, engine Engine) (*ModelSession, error) {
	switch n := len(engine.InputNames()); n {
	case 2:
		return &ModelSession{Path: path, Engine: engine, Variant: Compact}, nil
	case 3:
		return &ModelSession{Path: path, Engine: engine, Variant: Extended}, nil
	default:
		return nil, &models.ModelInitError{
			Message: fmt.Sprintf("%s declares %d inputs, want 2 or 3", path, n),
		}
	}
}

// OpenModelSession loads path with rt and wraps the engine.
func OpenModelSession(rt Runtime, path string) (*ModelSession, error) {
	if path == "" {
		return nil, &models.ModelInitError{Message: "model path is empty"}
	}
	engine, err := rt.Load(path)
	if err != nil {
		return nil, &models.ModelInitError{Message: "load " + path, Cause: err}
	}
	session, err := NewModelSession(path, engine)
	if err != nil {
		_ = engine.Destroy()
		return nil, err
	}
	return session, nil
}

func (m *ModelSession) InputNames() []string  { return m.Engine.InputNames() }
func (m *ModelSession) OutputNames() []string { return m.Engine.OutputNames() }
func (m *ModelSession) InputCount() int       { return len(m.Engine.InputNames()) }

func (m *ModelSession) Destroy() error {
	if m == nil || m.Engine == nil {
		return nil
	}
	return m.Engine.Destroy()
}

// Run feeds t into the model. originalWidth and originalHeight are the size of
// the image before resizing.
func (m *ModelSession) Run(t *PreprocessedTensor, originalWidth, originalHeight int) (RawOutput, error) {
	image := Feed{Name: InputImage, Shape: t.Shape(), Data: t.Data}
	scale := t.ScaleFactor

	var feeds []Feed
	switch m.Variant {
	case Extended:
		scale = [2]float32{1, 1}
		feeds = []Feed{
			{Name: InputImShape, Shape: []int64{1, 2}, Data: []float32{float32(originalHeight), float32(originalWidth)}},
			image,
			{Name: InputScaleFactor, Shape: []int64{1, 2}, Data: []float32{1, 1}},
		}
	default:
		feeds = []Feed{
			image,
			{Name: InputScaleFactor, Shape: []int64{1, 2}, Data: []float32{scale[0], scale[1]}},
		}
	}

	out, err := m.Engine.Run(feeds)
	if err != nil {
		return RawOutput{}, &models.InferenceError{Message: "run " + m.Path, Cause: err}
	}
	if len(out.Data)%RowWidth != 0 {
		return RawOutput{}, &models.InferenceError{
			Message: fmt.Sprintf("output has %d values, not a multiple of %d", len(out.Data), RowWidth),
		}
	}
	if n := len(out.Shape); n > 0 && out.Shape[n-1] != RowWidth {
		return RawOutput{}, &models.InferenceError{
			Message: fmt.Sprintf("output shape %v, want [N,%d]", out.Shape, RowWidth),
		}
	}

	return RawOutput{
		Rows:        out.Data,
		Count:       len(out.Data) / RowWidth,
		Variant:     m.Variant,
		ScaleFactor: scale,
	}, nil
}
