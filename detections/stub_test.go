package detections

import (
	"sync"

	"github.com/pkg/errors"
)

// stubEngine records what it is fed and replies with a canned output.
type stubEngine struct {
	inputs []string
	output Output
	runErr error

	mu        sync.Mutex
	fed       []Feed
	destroyed bool
}

func (s *stubEngine) InputNames() []string  { return s.inputs }
func (s *stubEngine) OutputNames() []string { return []string{"fetch_name_0", "fetch_name_1"} }

func (s *stubEngine) Run(feeds []Feed) (Output, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fed = nil
	for _, f := range feeds {
		data := f.Data
		if f.Name != InputImage {
			data = append([]float32(nil), f.Data...)
		}
		s.fed = append(s.fed, Feed{Name: f.Name, Shape: append([]int64(nil), f.Shape...), Data: data})
	}
	if s.runErr != nil {
		return Output{}, s.runErr
	}
	return s.output, nil
}

func (s *stubEngine) Destroy() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.destroyed = true
	return nil
}

type stubRuntime struct {
	engine  *stubEngine
	loadErr error
}

func (r *stubRuntime) Init() error { return nil }

func (r *stubRuntime) Load(string) (Engine, error) {
	if r.loadErr != nil {
		return nil, r.loadErr
	}
	return r.engine, nil
}

var errEngine = errors.New("engine exploded")

func compactInputs() []string  { return []string{InputImage, InputScaleFactor} }
func extendedInputs() []string { return []string{InputImShape, InputImage, InputScaleFactor} }

func rows(values ...[]float32) Output {
	var data []float32
	for _, v := range values {
		data = append(data, v...)
	}
	return Output{Shape: []int64{int64(len(values)), RowWidth}, Data: data}
}
