// Package boundary runs the layout-detection pipeline off the caller's
// goroutine and hands serialized results back through owned buffers.
package boundary

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Tutortoise/layout-detection-service/detections"
	"github.com/Tutortoise/layout-detection-service/models"
)

// BuildVersion identifies this build of the detector.
const BuildVersion = "1.0.0"

// Version returns the fixed build identifier.
func Version() string { return BuildVersion }

// ErrNotInitialized is reported when Detect runs before Init.
var ErrNotInitialized = errors.New("detector is not initialized: call Init with a model path")

// Option configures a Detector.
type Option func(*Detector)

// WithStrategy sets how tasks obtain model sessions. The default is ColdStart.
func WithStrategy(s SessionStrategy) Option {
	return func(d *Detector) { d.strategy = s }
}

// WithTempDir sets where in-memory images are written. Empty means os.TempDir.
func WithTempDir(dir string) Option {
	return func(d *Detector) { d.tempDir = dir }
}

// WithMetrics shares a Metrics value with a strategy built outside New.
func WithMetrics(m *Metrics) Option {
	return func(d *Detector) { d.metrics = m }
}

// Detector is the execution boundary. Each call runs as a one-shot task on a
// fresh goroutine pinned to its own OS thread.
type Detector struct {
	logger     *zap.Logger
	runtime    detections.Runtime
	strategy   SessionStrategy
	tempDir    string
	removeFile func(string) error
	metrics    *Metrics

	mu    sync.RWMutex
	state State
}

func New(logger *zap.Logger, rt detections.Runtime, opts ...Option) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Detector{
		logger:     logger,
		runtime:    rt,
		removeFile: os.Remove,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.metrics == nil {
		d.metrics = &Metrics{}
	}
	if d.strategy == nil {
		d.strategy = NewColdStart(rt, logger, d.metrics)
	}
	return d
}

// Init records modelPath for later calls. The model itself is loaded by the
// first task that needs it, so a bad model surfaces from Detect.
func (d *Detector) Init(modelPath string) {
	var next State
	switch {
	case modelPath == "":
		next = failedState(&models.ModelInitError{Message: "model path is empty"})
	default:
		if err := d.runtime.Init(); err != nil {
			next = failedState(err)
		} else {
			next = readyState(modelPath)
		}
	}

	d.mu.Lock()
	d.state = next
	d.mu.Unlock()

	if next.Kind == Failed {
		d.logger.Error("detector init failed", zap.String("model", modelPath), zap.Error(next.Reason))
		return
	}
	d.logger.Info("detector initialized", zap.String("model", modelPath))
}

// State returns the current readiness.
func (d *Detector) State() State {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

func (d *Detector) Version() string { return BuildVersion }

func (d *Detector) Metrics() MetricsSnapshot { return d.metrics.Snapshot() }

// Close releases the strategy's sessions.
func (d *Detector) Close() error { return d.strategy.Close() }

// Submit starts req as a one-shot task and returns immediately.
func (d *Detector) Submit(req models.RequestEnvelope) *Task {
	t := newTask(uuid.NewString(), d.metrics)
	d.metrics.submitted.Inc()
	d.metrics.inFlight.Inc()

	go func() {
		// Never unlocked: the runtime discards the thread when this goroutine
		// exits, so every task gets a context of its own.
		runtime.LockOSThread()
		t.finish(d.execute(t.ID, req))
	}()
	return t
}

// Detect submits req and waits for it. It always returns a result; failures,
// including ctx expiring, come back as the error variant.
func (d *Detector) Detect(ctx context.Context, req models.RequestEnvelope) models.DetectionResult {
	buf, err := d.Submit(req).Wait(ctx)
	if err != nil {
		return models.NewFailure(errors.Wrap(err, "wait for detection"))
	}
	data, err := buf.Bytes()
	if relErr := buf.Release(); relErr != nil {
		d.logger.Error("release result buffer", zap.Error(relErr))
	}
	if err != nil {
		return models.NewFailure(err)
	}
	result, err := models.Decode(data)
	if err != nil {
		return models.NewFailure(err)
	}
	return result
}

func (d *Detector) execute(id string, req models.RequestEnvelope) *ResultBuffer {
	defer d.metrics.inFlight.Dec()

	timings := &models.ProcessingTimings{RequestID: id}
	start := time.Now()
	result := d.run(req, timings)

	encodeStart := time.Now()
	data, err := models.Encode(result)
	if err != nil {
		result = models.NewFailure(err)
		data, _ = models.Encode(result)
	}
	timings.Encode = time.Since(encodeStart)
	timings.Total = time.Since(start)

	if result.IsError() {
		d.metrics.failed.Inc()
		d.logger.Warn("detection failed", zap.String("request_id", id), zap.String("error", result.Err.Message))
	} else {
		d.metrics.completed.Inc()
	}
	d.logTimings(timings, result)
	return newResultBuffer(data, d.metrics)
}

func (d *Detector) run(req models.RequestEnvelope, timings *models.ProcessingTimings) (result models.DetectionResult) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			result = models.NewFailure(&models.InferenceError{Message: fmt.Sprintf("panic: %v", r)})
		}
	}()

	state := d.State()
	modelPath := req.ModelPath
	switch state.Kind {
	case Uninitialized:
		return models.NewFailure(ErrNotInitialized)
	case Failed:
		return models.NewFailure(state.Reason)
	}
	if modelPath == "" {
		modelPath = state.Handle.ModelPath
	}

	path, cleanup, err := d.resolveInput(req)
	if err != nil {
		return models.NewFailure(err)
	}
	defer cleanup()

	decodeStart := time.Now()
	raw, err := detections.LoadImage(path)
	timings.ImageDecode = time.Since(decodeStart)
	if err != nil {
		return models.NewFailure(err)
	}

	session, release, err := d.strategy.Acquire(modelPath)
	if err != nil {
		return models.NewFailure(err)
	}
	defer release()

	boxes, err := detections.ProcessImage(raw, session, req.ConfThreshold, timings)
	if err != nil {
		return models.NewFailure(err)
	}
	return models.NewSuccess(boxes, time.Since(start), raw.Width, raw.Height)
}

// resolveInput returns a readable image path for req and the cleanup to run
// when the task is done with it.
func (d *Detector) resolveInput(req models.RequestEnvelope) (string, func(), error) {
	set := 0
	if req.Path != "" {
		set++
	}
	if req.Pixels != nil {
		set++
	}
	if req.Encoded != nil {
		set++
	}
	switch {
	case set == 0:
		return "", nil, &models.ImageDecodeError{Message: "request carries no image"}
	case set > 1:
		return "", nil, errors.New("request must carry exactly one of path, pixels or encoded bytes")
	case req.Path != "":
		return req.Path, func() {}, nil
	}

	tmp, err := d.writeTempImage(req)
	if err != nil {
		return "", nil, err
	}
	return tmp.path, tmp.cleanup, nil
}

func (d *Detector) logTimings(t *models.ProcessingTimings, result models.DetectionResult) {
	if ce := d.logger.Check(zap.DebugLevel, "processing times"); ce != nil {
		ce.Write(
			zap.String("request_id", t.RequestID),
			zap.Duration("image_decode", t.ImageDecode),
			zap.Duration("resize", t.Resize),
			zap.Duration("preprocess", t.Preprocess),
			zap.Duration("inference", t.Inference),
			zap.Duration("postprocess", t.Postprocess),
			zap.Duration("encode", t.Encode),
			zap.Duration("total", t.Total),
			zap.Int("count", result.Count),
		)
	}
}
