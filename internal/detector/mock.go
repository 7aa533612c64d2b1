package detector

import (
	"context"
	"sync"
	"time"

	"github.com/golang/geo/r3"

	"github.com/ayusman/facelab/internal/capture"
)

// MockBackend is a test implementation of Backend.
// It allows tests to control the detection results and observe calls.
type MockBackend struct {
	mu         sync.Mutex
	kind       Kind
	detection  Detection
	err        error
	initErr    error
	delay      time.Duration
	lastParams any

	initCalls   int
	detectCalls int
	cloudCalls  int
	closed      bool

	// DetectStarted, when set, receives a value as each Detect call begins.
	DetectStarted chan struct{}
}

var (
	_ Backend          = (*MockBackend)(nil)
	_ PointCloudSource = (*MockBackend)(nil)
)

// NewMockBackend creates a mock of the given kind that returns an empty detection.
func NewMockBackend(kind Kind) *MockBackend {
	return &MockBackend{kind: kind, detection: Empty(kind)}
}

// SetDetection sets the result returned by Detect.
func (m *MockBackend) SetDetection(d Detection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.detection = d
}

// SetError sets the error returned by Detect.
func (m *MockBackend) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// SetInitError sets the error returned by Initialize.
func (m *MockBackend) SetInitError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initErr = err
}

// SetDelay makes Detect block for d or until its context ends.
func (m *MockBackend) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

func (m *MockBackend) Kind() Kind { return m.kind }

func (m *MockBackend) Initialize(ctx context.Context, p any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initCalls++
	m.lastParams = p
	return m.initErr
}

func (m *MockBackend) Detect(ctx context.Context, bm *capture.Bitmap) (Detection, error) {
	m.mu.Lock()
	m.detectCalls++
	delay, det, err := m.delay, m.detection, m.err
	started := m.DetectStarted
	m.mu.Unlock()

	if started != nil {
		select {
		case started <- struct{}{}:
		default:
		}
	}

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if err != nil {
		return nil, err
	}
	return det, nil
}

// PointCloud derives the cloud from the configured detection when it is a Meshes value.
func (m *MockBackend) PointCloud(ctx context.Context, bm *capture.Bitmap) ([]r3.Vector, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cloudCalls++
	if meshes, ok := m.detection.(Meshes); ok {
		return meshes.PointCloud(), nil
	}
	return nil, nil
}

func (m *MockBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// InitCalls returns the number of Initialize calls.
func (m *MockBackend) InitCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initCalls
}

// DetectCalls returns the number of Detect calls.
func (m *MockBackend) DetectCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.detectCalls
}

// CloudCalls returns the number of PointCloud calls.
func (m *MockBackend) CloudCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cloudCalls
}

// LastParams returns the params passed to the latest Initialize.
func (m *MockBackend) LastParams() any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastParams
}

// Closed reports whether Close was called.
func (m *MockBackend) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
