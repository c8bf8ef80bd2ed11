package detections

import (
	"os"
	"runtime"
	"strings"
	"sync"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/multierr"

	"github.com/Tutortoise/layout-detection-service/models"
)

// LibraryName returns the default onnxruntime shared library name for the
// running platform.
func LibraryName() (string, error) {
	switch runtime.GOOS {
	case "linux", "android", "freebsd":
		return "libonnxruntime.so", nil
	case "darwin", "ios":
		return "libonnxruntime.dylib", nil
	case "windows":
		return "onnxruntime.dll", nil
	}
	return "", &models.UnsupportedPlatformError{Message: "no onnxruntime build for " + runtime.GOOS + "/" + runtime.GOARCH}
}

// ORTRuntime runs models with ONNX Runtime. The environment is process-wide and
// initialized on first use.
type ORTRuntime struct {
	LibraryPath string
	Threads     int

	mu      sync.Mutex
	initErr error
	ready   bool
}

func NewORTRuntime(libraryPath string, threads int) *ORTRuntime {
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	return &ORTRuntime{LibraryPath: libraryPath, Threads: threads}
}

func (r *ORTRuntime) Init() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ready || ort.IsInitialized() {
		r.ready = true
		return nil
	}

	libPath := r.LibraryPath
	if libPath == "" {
		name, err := LibraryName()
		if err != nil {
			return err
		}
		libPath = name
	} else if strings.ContainsRune(libPath, os.PathSeparator) {
		if _, err := os.Stat(libPath); err != nil {
			return &models.UnsupportedPlatformError{Message: "onnxruntime library not found", Cause: err}
		}
	}

	ort.SetSharedLibraryPath(libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return &models.UnsupportedPlatformError{Message: "initialize onnxruntime from " + libPath, Cause: err}
	}
	r.ready = true
	return nil
}

// Close tears down the ONNX Runtime environment.
func (r *ORTRuntime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.ready {
		return nil
	}
	r.ready = false
	return ort.DestroyEnvironment()
}

func (r *ORTRuntime) Load(modelPath string) (Engine, error) {
	if err := r.Init(); err != nil {
		return nil, err
	}
	if _, err := os.Stat(modelPath); err != nil {
		return nil, errors.Wrap(err, "model file")
	}

	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, errors.Wrap(err, "read model signature")
	}
	if len(outputs) == 0 {
		return nil, errors.New("model declares no outputs")
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, errors.Wrap(err, "create session options")
	}
	defer options.Destroy()
	if err := options.SetIntraOpNumThreads(r.Threads); err != nil {
		return nil, errors.Wrap(err, "set intra-op threads")
	}

	e := &ortEngine{
		inputs:  make([]string, len(inputs)),
		outputs: make([]string, len(outputs)),
	}
	for i, info := range inputs {
		e.inputs[i] = info.Name
	}
	for i, info := range outputs {
		e.outputs[i] = info.Name
	}

	// Only the box tensor is needed; PP-DocLayout's second output is a box count.
	e.session, err = ort.NewDynamicAdvancedSession(modelPath, e.inputs, e.outputs[:1], options)
	if err != nil {
		return nil, errors.Wrap(err, "create session")
	}
	return e, nil
}

type ortEngine struct {
	session *ort.DynamicAdvancedSession
	inputs  []string
	outputs []string
}

func (e *ortEngine) InputNames() []string  { return e.inputs }
func (e *ortEngine) OutputNames() []string { return e.outputs }

func (e *ortEngine) Run(feeds []Feed) (out Output, err error) {
	values := make([]ort.Value, len(e.inputs))
	defer func() {
		for _, v := range values {
			if v != nil {
				err = multierr.Append(err, v.Destroy())
			}
		}
	}()

	for _, f := range feeds {
		idx := indexOf(e.inputs, f.Name)
		if idx < 0 {
			return Output{}, errors.Errorf("model has no input %q", f.Name)
		}
		t, err := ort.NewTensor(ort.NewShape(f.Shape...), f.Data)
		if err != nil {
			return Output{}, errors.Wrapf(err, "create %s tensor", f.Name)
		}
		values[idx] = t
	}
	for i, v := range values {
		if v == nil {
			return Output{}, errors.Errorf("no value fed for input %q", e.inputs[i])
		}
	}

	outs := []ort.Value{nil}
	if err := e.session.Run(values, outs); err != nil {
		return Output{}, err
	}
	defer func() {
		if outs[0] != nil {
			err = multierr.Append(err, outs[0].Destroy())
		}
	}()

	t, ok := outs[0].(*ort.Tensor[float32])
	if !ok {
		return Output{}, errors.Errorf("output %q is %T, want float32 tensor", e.outputs[0], outs[0])
	}
	data := t.GetData()
	out.Data = make([]float32, len(data))
	copy(out.Data, data)
	out.Shape = append([]int64(nil), t.GetShape()...)
	return out, nil
}

func (e *ortEngine) Destroy() error {
	if e.session == nil {
		return nil
	}
	err := e.session.Destroy()
	e.session = nil
	return err
}

func indexOf(names []string, name string) int {
	for i, n := range names {
		if n == name {
			return i
		}
	}
	return -1
}
