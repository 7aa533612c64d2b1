package detector

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/ayusman/facelab/internal/capture"
)

var (
	// ErrNotInitialized is returned by Detect before a successful Initialize.
	ErrNotInitialized = errors.New("backend not initialized")
	// ErrModelMissing is returned when a model asset cannot be found under the model directory.
	ErrModelMissing = errors.New("model asset missing")
	// ErrWrongParams is returned when Initialize receives another backend's params record.
	ErrWrongParams = errors.New("params do not match backend")
)

// Backend is one pluggable detection model.
type Backend interface {
	// Kind identifies the variant.
	Kind() Kind

	// Initialize loads the models with the given params record. It may be called
	// again to reload with new params; the previous instance keeps serving until the
	// new one is ready.
	Initialize(ctx context.Context, p any) error

	// Detect runs one inference on bm. An empty detection means nothing was found.
	Detect(ctx context.Context, bm *capture.Bitmap) (Detection, error)

	// Close releases the model service.
	Close() error
}

// PointCloudSource is implemented by backends that also feed a 3-D viewer.
type PointCloudSource interface {
	// PointCloud returns the flattened, axis-negated cloud for bm, or nil when the
	// cloud is disabled.
	PointCloud(ctx context.Context, bm *capture.Bitmap) ([]r3.Vector, error)
}

// CheckAssets verifies every named model has at least one file under dir whose
// name starts with the model name.
func CheckAssets(dir string, models ...string) error {
	for _, m := range models {
		matches, err := filepath.Glob(filepath.Join(dir, m+"*"))
		if err != nil {
			return errors.Wrapf(err, "look up %s", m)
		}
		if len(matches) == 0 {
			return errors.Wrapf(ErrModelMissing, "%s in %s", m, dir)
		}
	}
	return nil
}

// serviceSlot holds the live service of a backend and the options it was started with.
type serviceSlot struct {
	mu  sync.RWMutex
	svc *Service
	key string
}

func (s *serviceSlot) current() *Service {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.svc
}

// matches reports whether the live service was started with the same options.
func (s *serviceSlot) matches(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.svc != nil && s.key == key
}

// swap installs svc and closes the superseded one.
func (s *serviceSlot) swap(svc *Service, key string) error {
	s.mu.Lock()
	old := s.svc
	s.svc, s.key = svc, key
	s.mu.Unlock()

	if old != nil {
		return old.Close()
	}
	return nil
}

func (s *serviceSlot) close() error {
	return s.swap(nil, "")
}

// encodeBitmap produces the frame bytes handed to a service.
func encodeBitmap(bm *capture.Bitmap) ([]byte, error) {
	if bm == nil {
		return nil, errors.New("nil bitmap")
	}
	return bm.JPEG()
}
