package models

import "time"

const (
	// DefaultConfThreshold is used when a caller does not pick a threshold.
	DefaultConfThreshold = 0.5

	// CodeImageLoadFailed is the only error code carried on the wire.
	CodeImageLoadFailed = "IMAGE_LOAD_FAILED"

	// MsgImageLoadFailed is the error message paired with CodeImageLoadFailed.
	MsgImageLoadFailed = "Could not load image"
)

// DetectionBox is one detected layout element in image pixel coordinates.
type DetectionBox struct {
	X1        float64
	Y1        float64
	X2        float64
	Y2        float64
	Score     float64
	ClassID   int
	ClassName string
}

// ResultError is the failure half of a DetectionResult. Code is empty when the
// failure has no wire code.
type ResultError struct {
	Message string
	Code    string
}

// DetectionResult is either a success (Err == nil) or a failure (Err != nil and
// every other field zero). Use NewSuccess and NewFailure to build one.
type DetectionResult struct {
	Detections      []DetectionBox
	Count           int
	InferenceTimeMs int64
	ImageWidth      int
	ImageHeight     int
	Err             *ResultError
}

// NewSuccess builds the success variant; Count always follows len(boxes).
func NewSuccess(boxes []DetectionBox, elapsed time.Duration, width, height int) DetectionResult {
	if boxes == nil {
		boxes = []DetectionBox{}
	}
	return DetectionResult{
		Detections:      boxes,
		Count:           len(boxes),
		InferenceTimeMs: elapsed.Milliseconds(),
		ImageWidth:      width,
		ImageHeight:     height,
	}
}

// NewFailure builds the error variant for err. Image decode failures carry
// CodeImageLoadFailed; everything else is reported by message only.
func NewFailure(err error) DetectionResult {
	if IsImageDecode(err) {
		return DetectionResult{Err: &ResultError{Message: MsgImageLoadFailed, Code: CodeImageLoadFailed}}
	}
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return DetectionResult{Err: &ResultError{Message: msg}}
}

// IsError reports whether r is the error variant.
func (r DetectionResult) IsError() bool {
	return r.Err != nil
}

// RequestEnvelope is one detection request. Exactly one of Path, Pixels or
// Encoded is set.
type RequestEnvelope struct {
	Path    string
	Pixels  *RawImage
	Encoded []byte

	ConfThreshold float32
	// ModelPath overrides the detector's configured model when non-empty.
	ModelPath string
}

// FileRequest builds a request for an image already on disk.
func FileRequest(path string) RequestEnvelope {
	return RequestEnvelope{Path: path, ConfThreshold: DefaultConfThreshold}
}

// PixelRequest builds a request for caller-owned raw pixels.
func PixelRequest(pix []byte, width, height, channels int) RequestEnvelope {
	return RequestEnvelope{
		Pixels:        &RawImage{Pix: pix, Width: width, Height: height, Channels: channels},
		ConfThreshold: DefaultConfThreshold,
	}
}

// EncodedRequest builds a request for encoded image bytes (PNG, JPEG, ...).
func EncodedRequest(data []byte) RequestEnvelope {
	return RequestEnvelope{Encoded: data, ConfThreshold: DefaultConfThreshold}
}

type ProcessingTimings struct {
	RequestID   string
	ImageDecode time.Duration
	Resize      time.Duration
	Preprocess  time.Duration
	Inference   time.Duration
	Postprocess time.Duration
	Encode      time.Duration
	Total       time.Duration
}
