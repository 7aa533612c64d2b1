package e2e

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"gocv.io/x/gocv"

	"github.com/ayusman/facelab/internal/app"
	"github.com/ayusman/facelab/internal/capture"
	"github.com/ayusman/facelab/internal/detector"
	"github.com/ayusman/facelab/internal/server"
	"github.com/ayusman/facelab/internal/store"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestE2E_CompleteWorkflow(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test")
	}

	s, err := store.New(filepath.Join(t.TempDir(), "data.db"))
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	defer s.Close()
	settings := s.Settings()

	frame := gocv.NewMatWithSize(48, 64, gocv.MatTypeCV8UC3)
	defer frame.Close()

	// The face models are missing; pose loads fine.
	face := detector.NewMockBackend(detector.KindFace)
	face.SetInitError(detector.ErrModelMissing)
	pose := detector.NewMockBackend(detector.KindPose)
	pose.SetDetection(detector.Poses{{Score: 0.9}})

	mock := clock.NewMock()
	application := app.New(app.Options{
		Camera: capture.NewMockCamera([]*gocv.Mat{&frame}, true),
		Backends: map[detector.Kind]app.BackendFactory{
			detector.KindFace: func() detector.Backend { return face },
			detector.KindPose: func() detector.Backend { return pose },
		},
		Width:  32,
		Height: 24,
		Clock:  mock,
	})
	application.OnChange(func() {
		settings.Set(store.KeyBackend, string(application.Kind()))
		settings.Set(store.KeyTiming, strconv.Itoa(application.Timing().Millis))
	})
	if err := application.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer application.Stop()

	ts := httptest.NewServer(server.New(server.Config{App: application}))
	defer ts.Close()
	client := ts.Client()

	put := func(t *testing.T, path, body string) int {
		t.Helper()
		req, _ := http.NewRequest(http.MethodPut, ts.URL+path, strings.NewReader(body))
		resp, err := client.Do(req)
		if err != nil {
			t.Fatalf("PUT %s error = %v", path, err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}
	health := func(t *testing.T) map[string]any {
		t.Helper()
		resp, err := client.Get(ts.URL + "/api/health")
		if err != nil {
			t.Fatalf("GET /api/health error = %v", err)
		}
		defer resp.Body.Close()
		var body map[string]any
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			t.Fatalf("decode health: %v", err)
		}
		return body
	}

	t.Run("FailedLoadIsVisible", func(t *testing.T) {
		if code := put(t, "/api/backend", `{"kind":"face"}`); code != http.StatusOK {
			t.Fatalf("status = %d, want %d", code, http.StatusOK)
		}
		view := application.View()
		waitFor(t, "failed view", func() bool { return view.State() == app.StateFailed })

		body := health(t)
		if msg, _ := body["error"].(string); body["state"] != "failed" || !strings.Contains(msg, "model") {
			t.Errorf("health = %v", body)
		}
	})

	t.Run("SwitchRecovers", func(t *testing.T) {
		if code := put(t, "/api/backend", `{"kind":"pose"}`); code != http.StatusOK {
			t.Fatalf("status = %d, want %d", code, http.StatusOK)
		}
		if !face.Closed() {
			t.Error("failed face backend was not closed")
		}

		view := application.View()
		waitFor(t, "pose scheduler", func() bool { return view.SchedulerStats().HandlesCreated == 1 })
		mock.Add(view.Period())
		waitFor(t, "pose cycle", func() bool { return view.Cycles() == 1 })

		if body := health(t); body["state"] != "ready" || body["cycles"] == float64(0) {
			t.Errorf("health = %v", body)
		}
	})

	t.Run("SettingsPersisted", func(t *testing.T) {
		if code := put(t, "/api/timing", `{"ms":1000}`); code != http.StatusOK {
			t.Fatalf("status = %d, want %d", code, http.StatusOK)
		}

		kind, err := settings.Get(store.KeyBackend)
		if err != nil || kind != "POSE" {
			t.Errorf("stored backend = %q, %v", kind, err)
		}
		timing, err := settings.Get(store.KeyTiming)
		if err != nil || timing != "1000" {
			t.Errorf("stored timing = %q, %v", timing, err)
		}
	})
}
