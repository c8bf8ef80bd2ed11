package models

import (
	"encoding/json"
	"strconv"

	"github.com/pkg/errors"
)

const (
	coordPrecision = 1
	scorePrecision = 4
)

// fixed marshals a float with a fixed number of decimals.
type fixed struct {
	v    float64
	prec int
}

func (f fixed) MarshalJSON() ([]byte, error) {
	return strconv.AppendFloat(nil, f.v, 'f', f.prec, 64), nil
}

type wireBox struct {
	X1        fixed  `json:"x1"`
	Y1        fixed  `json:"y1"`
	X2        fixed  `json:"x2"`
	Y2        fixed  `json:"y2"`
	Score     fixed  `json:"score"`
	ClassID   int    `json:"class_id"`
	ClassName string `json:"class_name"`
}

type wireSuccess struct {
	Detections      []wireBox `json:"detections"`
	Count           int       `json:"count"`
	InferenceTimeMs int64     `json:"inference_time_ms"`
	ImageWidth      int       `json:"image_width"`
	ImageHeight     int       `json:"image_height"`
}

type wireError struct {
	Error string  `json:"error"`
	Code  *string `json:"code"`
}

// Encode serializes r into the wire format. Coordinates carry one decimal and
// scores four.
func Encode(r DetectionResult) ([]byte, error) {
	if r.Err != nil {
		out := wireError{Error: r.Err.Message}
		if r.Err.Code != "" {
			code := r.Err.Code
			out.Code = &code
		}
		return json.Marshal(out)
	}

	boxes := make([]wireBox, len(r.Detections))
	for i, d := range r.Detections {
		boxes[i] = wireBox{
			X1:        fixed{d.X1, coordPrecision},
			Y1:        fixed{d.Y1, coordPrecision},
			X2:        fixed{d.X2, coordPrecision},
			Y2:        fixed{d.Y2, coordPrecision},
			Score:     fixed{d.Score, scorePrecision},
			ClassID:   d.ClassID,
			ClassName: d.ClassName,
		}
	}
	data, err := json.Marshal(wireSuccess{
		Detections:      boxes,
		Count:           len(boxes),
		InferenceTimeMs: r.InferenceTimeMs,
		ImageWidth:      r.ImageWidth,
		ImageHeight:     r.ImageHeight,
	})
	if err != nil {
		return nil, &SerializationError{Message: "encode result", Cause: err}
	}
	return data, nil
}

type wireBoxIn struct {
	X1        float64 `json:"x1"`
	Y1        float64 `json:"y1"`
	X2        float64 `json:"x2"`
	Y2        float64 `json:"y2"`
	Score     float64 `json:"score"`
	ClassID   int     `json:"class_id"`
	ClassName string  `json:"class_name"`
}

var requiredKeys = []string{"detections", "count", "inference_time_ms", "image_width", "image_height"}

// Decode parses a wire payload. An "error" key always wins over every other key.
func Decode(data []byte) (DetectionResult, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return DetectionResult{}, &SerializationError{Message: "payload is not a JSON object", Cause: err}
	}

	if raw, ok := fields["error"]; ok {
		return decodeError(raw, fields["code"])
	}

	for _, k := range requiredKeys {
		if _, ok := fields[k]; !ok {
			return DetectionResult{}, &SerializationError{Message: "missing key " + strconv.Quote(k)}
		}
	}

	var (
		boxes  []wireBoxIn
		result DetectionResult
	)
	targets := []struct {
		key string
		dst interface{}
	}{
		{"detections", &boxes},
		{"count", &result.Count},
		{"inference_time_ms", &result.InferenceTimeMs},
		{"image_width", &result.ImageWidth},
		{"image_height", &result.ImageHeight},
	}
	for _, t := range targets {
		if err := json.Unmarshal(fields[t.key], t.dst); err != nil {
			return DetectionResult{}, &SerializationError{
				Message: "bad value for " + strconv.Quote(t.key),
				Cause:   errors.WithStack(err),
			}
		}
	}
	if result.Count != len(boxes) {
		return DetectionResult{}, &SerializationError{
			Message: "count " + strconv.Itoa(result.Count) + " does not match " + strconv.Itoa(len(boxes)) + " detections",
		}
	}

	result.Detections = make([]DetectionBox, len(boxes))
	for i, b := range boxes {
		result.Detections[i] = DetectionBox(b)
	}
	return result, nil
}

func decodeError(rawMsg, rawCode json.RawMessage) (DetectionResult, error) {
	var msg string
	if err := json.Unmarshal(rawMsg, &msg); err != nil {
		return DetectionResult{}, &SerializationError{Message: `bad value for "error"`, Cause: err}
	}
	var code *string
	if len(rawCode) > 0 {
		if err := json.Unmarshal(rawCode, &code); err != nil {
			return DetectionResult{}, &SerializationError{Message: `bad value for "code"`, Cause: err}
		}
	}
	out := &ResultError{Message: msg}
	if code != nil {
		out.Code = *code
	}
	return DetectionResult{Err: out}, nil
}
