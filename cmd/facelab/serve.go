package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ayusman/facelab/internal/app"
	"github.com/ayusman/facelab/internal/capture"
	"github.com/ayusman/facelab/internal/config"
	"github.com/ayusman/facelab/internal/detector"
	"github.com/ayusman/facelab/internal/params"
	"github.com/ayusman/facelab/internal/server"
	"github.com/ayusman/facelab/internal/store"
	"github.com/ayusman/facelab/internal/tray"
)

var (
	serveAddr     string
	serveBackend  string
	serveTiming   int
	serveModelDir string
	serveCamera   int
	serveTray     bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Open the camera, run the selected backend and serve the overlay stream and API",
	RunE: func(cmd *cobra.Command, args []string) error {
		applyServeFlags(cmd, cfg)
		return serve(cmd.Context(), cfg, cmd, logger)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "HTTP listen address")
	serveCmd.Flags().StringVar(&serveBackend, "backend", "NONE", "initial backend: NONE, FACE, POSE or MESH")
	serveCmd.Flags().IntVar(&serveTiming, "timing", params.DefaultTimingMillis, "detection period in ms, one of the timing table values")
	serveCmd.Flags().StringVar(&serveModelDir, "model-dir", "", "model asset directory")
	serveCmd.Flags().IntVar(&serveCamera, "camera", 0, "camera device id")
	serveCmd.Flags().BoolVar(&serveTray, "tray", false, "show the system tray menu")
	rootCmd.AddCommand(serveCmd)
}

// applyServeFlags lets explicitly set flags win over the environment.
func applyServeFlags(cmd *cobra.Command, c *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("addr") {
		c.Addr = serveAddr
	}
	if flags.Changed("backend") {
		c.Backend = strings.ToUpper(serveBackend)
	}
	if flags.Changed("timing") {
		c.TimingMs = serveTiming
	}
	if flags.Changed("model-dir") {
		c.ModelDir = serveModelDir
	}
	if flags.Changed("camera") {
		c.CameraID = serveCamera
	}
	if flags.Changed("tray") {
		c.Tray = serveTray
	}
}

func serve(ctx context.Context, c *config.Config, cmd *cobra.Command, log *zap.SugaredLogger) error {
	if err := os.MkdirAll(c.DataDir, 0o755); err != nil {
		return errors.Wrap(err, "failed to create data directory")
	}
	st, err := store.New(c.DBPath())
	if err != nil {
		return errors.Wrap(err, "failed to initialize store")
	}
	defer st.Close()
	settings := st.Settings()

	// The table is shared by the mesh backend and renderer. Without it the mesh
	// view fails to load and the other backends keep working.
	table, err := detector.LoadTriangulation(filepath.Join(c.ModelDir, detector.TriangulationFile))
	if err != nil {
		log.Warnw("mesh triangulation unavailable", "error", err)
	}

	launcher := &detector.Launcher{
		Python:   c.Python,
		Script:   c.ScriptPath,
		ModelDir: c.ModelDir,
		Timeout:  c.DetectTimeout,
		Logger:   log.Named("service"),
	}

	opts := app.Options{
		Camera: capture.NewCameraWithSize(c.CameraID, c.FrameWidth, c.FrameHeight),
		Backends: map[detector.Kind]app.BackendFactory{
			detector.KindFace: func() detector.Backend { return detector.NewFaceBackend(launcher) },
			detector.KindPose: func() detector.Backend { return detector.NewPoseBackend(launcher) },
			detector.KindMesh: func() detector.Backend { return detector.NewMeshBackend(launcher, table) },
		},
		Table:  table,
		Width:  c.FrameWidth,
		Height: c.FrameHeight,
		Pose:   params.DefaultPoseParams(c.Mobile),
		Logger: log.Named("app"),
	}
	if kind, err := detector.ParseKind(c.Backend); err == nil {
		opts.Kind = kind
	} else {
		log.Warnw("ignoring configured backend", "error", err)
	}
	if timing, err := params.LookupTiming(c.TimingMs); err == nil {
		opts.Timing = timing
	} else {
		log.Warnw("ignoring configured timing", "error", err)
	}

	// Stored settings replace the environment defaults; explicit flags replace both.
	restoreOptions(settings, &opts, c.Mobile, log)
	if cmd != nil {
		if cmd.Flags().Changed("backend") {
			opts.Kind, _ = detector.ParseKind(c.Backend)
		}
		if cmd.Flags().Changed("timing") {
			if timing, err := params.LookupTiming(c.TimingMs); err == nil {
				opts.Timing = timing
			}
		}
	}

	a := app.New(opts)
	a.OnChange(func() {
		if err := persist(settings, a); err != nil {
			log.Warnw("failed to persist settings", "error", err)
		}
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := a.Start(ctx); err != nil {
		return errors.Wrap(err, "failed to start")
	}
	defer func() {
		if err := a.Stop(); err != nil {
			log.Warnw("shutdown", "error", err)
		}
	}()
	if err := persist(settings, a); err != nil {
		log.Warnw("failed to persist settings", "error", err)
	}

	staticDir := c.StaticDir
	if staticDir == "" {
		staticDir = findWebDir()
	}
	if staticDir != "" {
		log.Infow("serving static files", "dir", staticDir)
	}
	srv := server.New(server.Config{StaticDir: staticDir, App: a, Logger: log.Named("server")})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Run(ctx, c.Addr)
		cancel()
	}()

	if c.Tray {
		runTray(ctx, cancel, a, c.Addr, log)
	}

	<-ctx.Done()
	return <-errCh
}

// runTray blocks on the tray loop until Quit or ctx is done.
func runTray(ctx context.Context, cancel context.CancelFunc, a *app.App, addr string, log *zap.SugaredLogger) {
	t := tray.New(a.Kind(), a.Timing())
	t.OnSelect(func(kind detector.Kind) {
		if err := a.Select(kind); err != nil {
			log.Warnw("tray backend switch failed", "kind", kind, "error", err)
		}
	})
	t.OnTiming(func(timing params.Timing) {
		if err := a.SetTiming(timing); err != nil {
			log.Warnw("tray timing change failed", "error", err)
		}
	})
	t.OnSettings(func() {
		log.Infow("settings are served over HTTP", "addr", addr)
	})
	t.OnQuit(cancel)
	a.OnChange(func() {
		st := a.Status()
		t.Sync(st.Kind, st.Timing, st.State)
	})

	go func() {
		<-ctx.Done()
		t.Quit()
	}()
	t.Run()
}

// findWebDir searches for the web directory in common locations.
// It checks: "web", "../web", "../../web", and ~/.facelab/web.
// Returns the first existing directory or empty string if none found.
func findWebDir() string {
	relativePaths := []string{"web", "../web", "../../web"}
	for _, p := range relativePaths {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			absPath, err := filepath.Abs(p)
			if err == nil {
				return absPath
			}
			return p
		}
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	homeWebDir := filepath.Join(homeDir, ".facelab", "web")
	if info, err := os.Stat(homeWebDir); err == nil && info.IsDir() {
		return homeWebDir
	}

	return ""
}
