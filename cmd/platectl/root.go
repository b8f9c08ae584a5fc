package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/plate-market/api/internal/di"
	"github.com/plate-market/api/internal/platform/config"
	"github.com/plate-market/api/internal/platform/observability"
	"github.com/plate-market/api/internal/render"
	"github.com/plate-market/api/internal/services"
)

var version = "dev"

// Settings keys. Each is a persistent flag, a key in .platectl.yaml and a
// PLATECTL_* variable (dashes and dots become underscores).
const (
	keyAssets            = "assets"
	keyAssetsBucket      = "assets-bucket"
	keyEnvFile           = "env-file"
	keyVerbose           = "verbose"
	keySupersample       = "render.supersample"
	keyJPEGQuality       = "render.jpeg-quality"
	keyFontLoadTimeout   = "render.font-load-timeout"
	defaultFontLoadLimit = "30s"
)

type rootOptions struct {
	cfgFile  string
	settings *viper.Viper
}

func newRootOptions() *rootOptions {
	v := viper.New()
	v.SetEnvPrefix("PLATECTL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	v.SetDefault(keySupersample, 2)
	v.SetDefault(keyJPEGQuality, render.DefaultJPEGQuality)
	v.SetDefault(keyFontLoadTimeout, defaultFontLoadLimit)
	return &rootOptions{settings: v}
}

func newRootCmd() *cobra.Command {
	opts := newRootOptions()
	cmd := &cobra.Command{
		Use:           "platectl",
		Short:         "Render UAE plate images and regenerate stored listings",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return opts.readConfig()
		},
	}
	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.cfgFile, "config", "", "settings file (default: ./.platectl.yaml, then ~/.config/platectl/.platectl.yaml)")
	flags.String(keyAssets, "assets", "local directory holding fonts, templates and an optional manifest.yaml")
	flags.String(keyAssetsBucket, "", "read assets from this Cloud Storage bucket instead of --assets")
	flags.String(keyEnvFile, ".env", "dotenv file consulted by commands that load full configuration")
	flags.BoolP(keyVerbose, "v", false, "log render events to stderr")
	for _, key := range []string{keyAssets, keyAssetsBucket, keyEnvFile, keyVerbose} {
		_ = opts.settings.BindPFlag(key, flags.Lookup(key))
	}

	cmd.AddCommand(newRenderCmd(opts))
	cmd.AddCommand(newLayoutsCmd(opts))
	cmd.AddCommand(newMigrateCmd(opts))
	return cmd
}

// readConfig loads the optional settings file. Only an explicit --config that
// cannot be read is an error.
func (o *rootOptions) readConfig() error {
	if o.cfgFile != "" {
		o.settings.SetConfigFile(o.cfgFile)
	} else {
		o.settings.SetConfigName(".platectl")
		o.settings.SetConfigType("yaml")
		o.settings.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			o.settings.AddConfigPath(filepath.Join(home, ".config", "platectl"))
		}
	}
	if err := o.settings.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read settings: %w", err)
	}
	return nil
}

func (o *rootOptions) logger() *zap.Logger {
	if !o.settings.GetBool(keyVerbose) {
		return zap.NewNop()
	}
	logger, err := observability.NewLogger()
	if err != nil {
		return zap.NewNop()
	}
	return logger.Named("platectl")
}

// applyAssetOverrides replaces the asset location of a loaded config when the
// operator set one through a flag, the settings file or PLATECTL_* variables.
func (o *rootOptions) applyAssetOverrides(cfg *config.Config) {
	if o.settings.IsSet(keyAssets) {
		cfg.Storage.AssetsDir = o.settings.GetString(keyAssets)
	}
	if o.settings.IsSet(keyAssetsBucket) {
		cfg.Storage.AssetsBucket = o.settings.GetString(keyAssetsBucket)
	}
}

// renderConfig is the slice of configuration a standalone render needs.
func (o *rootOptions) renderConfig() config.Config {
	return config.Config{
		Storage: config.StorageConfig{
			AssetsDir:    o.settings.GetString(keyAssets),
			AssetsBucket: o.settings.GetString(keyAssetsBucket),
		},
		Render: config.RenderConfig{
			PreviewWidth:    render.DefaultPreviewWidth,
			ExportWidth:     render.ExportWidth,
			JPEGQuality:     o.settings.GetInt(keyJPEGQuality),
			Supersample:     max(o.settings.GetInt(keySupersample), 1),
			FontLoadTimeout: o.settings.GetDuration(keyFontLoadTimeout),
		},
	}
}

// renderService builds a render service without a cache or any cloud dependency
// beyond an optional asset bucket.
func (o *rootOptions) renderService(ctx context.Context) (services.PlateRenderService, func(context.Context) error, error) {
	cfg := o.renderConfig()
	logger := o.logger()
	pipeline, closeFn, err := di.NewPipeline(ctx, cfg, di.WithLogger(logger))
	if err != nil {
		return nil, nil, err
	}
	svc, err := services.NewPlateRenderService(services.PlateRenderServiceDeps{
		Pipeline:     pipeline,
		PreviewWidth: cfg.Render.PreviewWidth,
		ExportWidth:  cfg.Render.ExportWidth,
		Supersample:  cfg.Render.Supersample,
		JPEGQuality:  cfg.Render.JPEGQuality,
		Logger:       observability.EventLogger(logger),
	})
	if err != nil {
		_ = closeFn(ctx)
		return nil, nil, err
	}
	return svc, closeFn, nil
}
