package main

import (
	"fmt"
	"strconv"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/ayusman/facelab/internal/app"
	"github.com/ayusman/facelab/internal/detector"
	"github.com/ayusman/facelab/internal/params"
	"github.com/ayusman/facelab/internal/store"
)

var settingsKeys = []string{
	store.KeyBackend,
	store.KeyTiming,
	store.KeyFaceParams,
	store.KeyPoseParams,
	store.KeyMeshParams,
}

// restoreOptions overwrites opts with every stored setting that is present and
// valid. Invalid entries are logged and skipped.
func restoreOptions(repo *store.SettingsRepository, opts *app.Options, mobile bool, log *zap.SugaredLogger) {
	skip := func(key string, err error) {
		if !errors.Is(err, store.ErrNotFound) {
			log.Warnw("ignoring stored setting", "key", key, "error", err)
		}
	}

	if v, err := repo.Get(store.KeyBackend); err != nil {
		skip(store.KeyBackend, err)
	} else if kind, err := detector.ParseKind(v); err != nil {
		skip(store.KeyBackend, err)
	} else {
		opts.Kind = kind
	}

	if v, err := repo.Get(store.KeyTiming); err != nil {
		skip(store.KeyTiming, err)
	} else if ms, err := strconv.Atoi(v); err != nil {
		skip(store.KeyTiming, err)
	} else if timing, err := params.LookupTiming(ms); err != nil {
		skip(store.KeyTiming, err)
	} else {
		opts.Timing = timing
	}

	face := params.DefaultFaceParams()
	if err := restoreJSON(repo, store.KeyFaceParams, &face); err != nil {
		skip(store.KeyFaceParams, err)
	} else {
		opts.Face = face
	}

	pose := params.DefaultPoseParams(mobile)
	if err := restoreJSON(repo, store.KeyPoseParams, &pose); err != nil {
		skip(store.KeyPoseParams, err)
	} else {
		opts.Pose = pose
	}

	mesh := params.DefaultMeshParams()
	if err := restoreJSON(repo, store.KeyMeshParams, &mesh); err != nil {
		skip(store.KeyMeshParams, err)
	} else {
		opts.Mesh = mesh
	}
}

func restoreJSON(repo *store.SettingsRepository, key string, v params.Validator) error {
	if err := repo.GetJSON(key, v); err != nil {
		return err
	}
	return v.Validate()
}

// persist writes the selected backend, the cadence and every params record.
func persist(repo *store.SettingsRepository, a *app.App) error {
	return multierr.Combine(
		repo.Set(store.KeyBackend, string(a.Kind())),
		repo.Set(store.KeyTiming, strconv.Itoa(a.Timing().Millis)),
		repo.SetJSON(store.KeyFaceParams, a.Face().Get()),
		repo.SetJSON(store.KeyPoseParams, a.Pose().Get()),
		repo.SetJSON(store.KeyMeshParams, a.Mesh().Get()),
	)
}

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show the stored backend, timing and params",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSettings(func(repo *store.SettingsRepository) error {
			all, err := repo.List()
			if err != nil {
				return err
			}
			if len(all) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no stored settings")
				return nil
			}
			for _, s := range all {
				fmt.Fprintf(cmd.OutOrStdout(), "%-12s %s\n", s.Key, s.Value)
			}
			return nil
		})
	},
}

var settingsResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Forget the stored settings so the next start uses the defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSettings(func(repo *store.SettingsRepository) error {
			n, err := resetSettings(repo)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d settings\n", n)
			return nil
		})
	},
}

func init() {
	settingsCmd.AddCommand(settingsResetCmd)
	rootCmd.AddCommand(settingsCmd)
}

func withSettings(fn func(repo *store.SettingsRepository) error) error {
	st, err := store.New(cfg.DBPath())
	if err != nil {
		return errors.Wrap(err, "failed to open store")
	}
	defer st.Close()
	return fn(st.Settings())
}

// resetSettings deletes every known key and reports how many were present.
func resetSettings(repo *store.SettingsRepository) (int, error) {
	var n int
	var errs error
	for _, key := range settingsKeys {
		err := repo.Delete(key)
		switch {
		case err == nil:
			n++
		case errors.Is(err, store.ErrNotFound):
		default:
			errs = multierr.Append(errs, err)
		}
	}
	return n, errs
}
