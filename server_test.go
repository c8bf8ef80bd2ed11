package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap/zaptest"
	"go.viam.com/test"

	"github.com/Tutortoise/layout-detection-service/boundary"
	"github.com/Tutortoise/layout-detection-service/detections"
	"github.com/Tutortoise/layout-detection-service/models"
)

type cannedEngine struct{ rows []float32 }

func (e cannedEngine) InputNames() []string {
	return []string{detections.InputImShape, detections.InputImage, detections.InputScaleFactor}
}
func (e cannedEngine) OutputNames() []string { return []string{"boxes"} }
func (e cannedEngine) Destroy() error        { return nil }

func (e cannedEngine) Run([]detections.Feed) (detections.Output, error) {
	return detections.Output{Shape: []int64{int64(len(e.rows) / 6), 6}, Data: e.rows}, nil
}

type cannedRuntime struct{ rows []float32 }

func (r cannedRuntime) Init() error { return nil }

func (r cannedRuntime) Load(string) (detections.Engine, error) {
	return cannedEngine{rows: r.rows}, nil
}

func newTestServer(t *testing.T, initialize bool) *httptest.Server {
	t.Helper()
	logger := zaptest.NewLogger(t)
	rt := cannedRuntime{rows: []float32{
		2, 0.91, 1, 2, 3, 4,
		8, 0.3, 1, 2, 3, 4,
	}}
	d := boundary.New(logger, rt, boundary.WithTempDir(t.TempDir()))
	if initialize {
		d.Init("m.onnx")
	}
	srv := httptest.NewServer(newRouter(&AppState{Detector: d, ConfThreshold: 0.5, Logger: logger}))
	t.Cleanup(srv.Close)
	return srv
}

func testPNG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	test.That(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 12, 9))), test.ShouldBeNil)
	return buf.Bytes()
}

func decodeBody(t *testing.T, resp *http.Response) models.DetectionResult {
	t.Helper()
	var buf bytes.Buffer
	_, err := buf.ReadFrom(resp.Body)
	test.That(t, err, test.ShouldBeNil)
	result, err := models.Decode(buf.Bytes())
	test.That(t, err, test.ShouldBeNil)
	return result
}

func TestDetectRawUpload(t *testing.T) {
	srv := newTestServer(t, true)

	resp, err := http.Post(srv.URL+"/detect", "image/png", bytes.NewReader(testPNG(t)))
	test.That(t, err, test.ShouldBeNil)
	defer resp.Body.Close()

	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusOK)
	result := decodeBody(t, resp)
	test.That(t, result.Count, test.ShouldEqual, 1)
	test.That(t, result.ImageWidth, test.ShouldEqual, 12)
	test.That(t, result.ImageHeight, test.ShouldEqual, 9)
	test.That(t, result.Detections[0].ClassName, test.ShouldEqual, "text")
}

func TestDetectConfQuery(t *testing.T) {
	srv := newTestServer(t, true)

	resp, err := http.Post(srv.URL+"/detect?conf=0.1", "image/png", bytes.NewReader(testPNG(t)))
	test.That(t, err, test.ShouldBeNil)
	defer resp.Body.Close()
	test.That(t, decodeBody(t, resp).Count, test.ShouldEqual, 2)

	for _, bad := range []string{"abc", "1.5", "-0.1", "NaN", "nan"} {
		resp, err := http.Post(srv.URL+"/detect?conf="+bad, "image/png", bytes.NewReader(testPNG(t)))
		test.That(t, err, test.ShouldBeNil)
		resp.Body.Close()
		test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusBadRequest)
	}
}

func TestDetectMultipartAndJSON(t *testing.T) {
	srv := newTestServer(t, true)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "page.png")
	test.That(t, err, test.ShouldBeNil)
	_, err = fw.Write(testPNG(t))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, mw.Close(), test.ShouldBeNil)

	resp, err := http.Post(srv.URL+"/detect", mw.FormDataContentType(), &body)
	test.That(t, err, test.ShouldBeNil)
	resp.Body.Close()
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusOK)

	payload, err := json.Marshal(map[string]interface{}{
		"pixels":   base64.StdEncoding.EncodeToString(make([]byte, 5*4*3)),
		"width":    5,
		"height":   4,
		"channels": 3,
	})
	test.That(t, err, test.ShouldBeNil)
	resp, err = http.Post(srv.URL+"/detect", "application/json", bytes.NewReader(payload))
	test.That(t, err, test.ShouldBeNil)
	defer resp.Body.Close()
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusOK)
	test.That(t, decodeBody(t, resp).ImageWidth, test.ShouldEqual, 5)
}

func TestDetectBadImage(t *testing.T) {
	srv := newTestServer(t, true)

	resp, err := http.Post(srv.URL+"/detect", "image/png", strings.NewReader("garbage"))
	test.That(t, err, test.ShouldBeNil)
	defer resp.Body.Close()

	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusUnprocessableEntity)
	result := decodeBody(t, resp)
	test.That(t, result.Err.Message, test.ShouldEqual, models.MsgImageLoadFailed)
	test.That(t, result.Err.Code, test.ShouldEqual, models.CodeImageLoadFailed)

	resp2, err := http.Post(srv.URL+"/detect", "image/png", strings.NewReader(""))
	test.That(t, err, test.ShouldBeNil)
	defer resp2.Body.Close()
	test.That(t, resp2.StatusCode, test.ShouldEqual, http.StatusBadRequest)

	var errResp ErrorResponse
	test.That(t, json.NewDecoder(resp2.Body).Decode(&errResp), test.ShouldBeNil)
	test.That(t, errResp.Code, test.ShouldEqual, CodeInvalidRequest)
}

func TestDetectOversizedPixels(t *testing.T) {
	srv := newTestServer(t, true)

	payload, err := json.Marshal(map[string]interface{}{
		"pixels":   base64.StdEncoding.EncodeToString(make([]byte, 4)),
		"width":    1 << 31,
		"height":   1 << 31,
		"channels": 4,
	})
	test.That(t, err, test.ShouldBeNil)
	resp, err := http.Post(srv.URL+"/detect", "application/json", bytes.NewReader(payload))
	test.That(t, err, test.ShouldBeNil)
	defer resp.Body.Close()

	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusUnprocessableEntity)
	test.That(t, decodeBody(t, resp).Err.Code, test.ShouldEqual, models.CodeImageLoadFailed)
}

func TestDetectUninitialized(t *testing.T) {
	srv := newTestServer(t, false)

	resp, err := http.Post(srv.URL+"/detect", "image/png", bytes.NewReader(testPNG(t)))
	test.That(t, err, test.ShouldBeNil)
	defer resp.Body.Close()
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusInternalServerError)
	test.That(t, decodeBody(t, resp).Err.Message, test.ShouldContainSubstring, "not initialized")

	health, err := http.Get(srv.URL + "/healthz")
	test.That(t, err, test.ShouldBeNil)
	health.Body.Close()
	test.That(t, health.StatusCode, test.ShouldEqual, http.StatusServiceUnavailable)
}

func TestVersionAndMetrics(t *testing.T) {
	srv := newTestServer(t, true)

	resp, err := http.Get(srv.URL + "/version")
	test.That(t, err, test.ShouldBeNil)
	defer resp.Body.Close()
	var version map[string]string
	test.That(t, json.NewDecoder(resp.Body).Decode(&version), test.ShouldBeNil)
	test.That(t, version["version"], test.ShouldEqual, boundary.BuildVersion)

	up, err := http.Post(srv.URL+"/detect", "image/png", bytes.NewReader(testPNG(t)))
	test.That(t, err, test.ShouldBeNil)
	up.Body.Close()

	m, err := http.Get(srv.URL + "/metrics")
	test.That(t, err, test.ShouldBeNil)
	defer m.Body.Close()
	var body struct {
		State    string                   `json:"state"`
		Boundary boundary.MetricsSnapshot `json:"boundary"`
	}
	test.That(t, json.NewDecoder(m.Body).Decode(&body), test.ShouldBeNil)
	test.That(t, body.State, test.ShouldEqual, "ready(m.onnx)")
	test.That(t, body.Boundary.Submitted, test.ShouldEqual, 1)
	test.That(t, body.Boundary.Completed, test.ShouldEqual, 1)
}
