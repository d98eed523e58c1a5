package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/bibin-skaria/ocidir/internal/config"
	"github.com/bibin-skaria/ocidir/internal/fsutil"
	"github.com/bibin-skaria/ocidir/internal/logging"
	"github.com/bibin-skaria/ocidir/internal/types"
	"github.com/bibin-skaria/ocidir/ocidir"
)

var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// app carries the settings resolved before any subcommand runs.
type app struct {
	configPath string
	logLevel   string
	logFormat  string

	cfg *config.Config
	log *logrus.Logger
}

func newRootCommand() *cobra.Command {
	a := &app{}
	cmd := &cobra.Command{
		Use:   "ocidir",
		Short: "Create and maintain OCI image layout directories",
		Long: `ocidir manages OCI image layout directories on local disk: it writes
compressed layers into the content-addressed blob store, records manifests
and tags in index.json, verifies blobs and exports images as archives.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", Version, GitCommit, BuildDate),
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&a.configPath, "config", defaultConfigPath(), "Configuration file")
	cmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&a.logFormat, "log-format", "", "Log format (text, json)")

	cmd.AddCommand(newInitCommand(a))
	cmd.AddCommand(newFsckCommand(a))
	cmd.AddCommand(newAddLayerCommand(a))
	cmd.AddCommand(newListCommand(a))
	cmd.AddCommand(newShowCommand(a))
	cmd.AddCommand(newCloneCommand(a))
	cmd.AddCommand(newResetCommand(a))
	cmd.AddCommand(newExportCommand(a))

	return cmd
}

func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "ocidir", "config.yaml")
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	cfg.ApplyEnv(os.LookupEnv)
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}
	if a.logFormat != "" {
		cfg.LogFormat = a.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := logging.NewWithOutput(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.log = logger
	return nil
}

func (a *app) open(path string, opts ...ocidir.Option) (*ocidir.OCIDir, error) {
	fi, err := os.Stat(filepath.Join(path, ocidir.LayoutFile))
	if err != nil || !fi.Mode().IsRegular() {
		return nil, fmt.Errorf("%s is not an OCI layout directory", path)
	}
	return ocidir.OpenPath(path, append([]ocidir.Option{ocidir.WithLogger(a.log)}, opts...)...)
}

// platform resolves a --platform flag value against the configuration.
func (a *app) platform(flag string) (ocispec.Platform, error) {
	p := a.cfg.Platform
	if flag != "" {
		p = flag
	}
	platform, err := types.ParsePlatform(p)
	if err != nil {
		return ocispec.Platform{}, err
	}
	if !types.IsSupportedPlatform(platform) {
		a.log.WithField("platform", types.FormatPlatform(platform)).Warn("platform is not a common image platform")
	}
	return platform, nil
}

func newInitCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "init PATH",
		Short: "Create an empty OCI layout",
		Long:  "Create PATH if needed and initialize it as an OCI image layout. Existing layouts are left untouched.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := os.MkdirAll(args[0], 0o755); err != nil {
				return fmt.Errorf("failed to create directory: %v", err)
			}
			dir, err := ocidir.EnsurePath(args[0], ocidir.WithLogger(a.log))
			if err != nil {
				return err
			}
			defer dir.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "Initialized OCI layout in %s\n", args[0])
			return nil
		},
	}
}

func newFsckCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "fsck PATH",
		Short: "Verify every blob against its digest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := a.open(args[0])
			if err != nil {
				return err
			}
			defer dir.Close()

			n, err := dir.Fsck()
			if err != nil {
				return fmt.Errorf("fsck failed after %d blobs: %w", n, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Verified %d blobs\n", n)
			return nil
		},
	}
}

func newCloneCommand(a *app) *cobra.Command {
	var concurrency int

	cmd := &cobra.Command{
		Use:   "clone SRC DEST",
		Short: "Copy the blobs of a layout into a new layout",
		Long: `Create DEST as a new OCI layout holding every blob of SRC. Blobs are
reflinked where the filesystem supports it. index.json is not copied; use
add-layer or reset on the clone to reference manifests again.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := a.open(args[0], ocidir.WithCloneConcurrency(concurrency))
			if err != nil {
				return err
			}
			defer src.Close()

			dest := filepath.Clean(args[1])
			parent, err := fsutil.OpenDir(filepath.Dir(dest))
			if err != nil {
				return fmt.Errorf("failed to open destination parent: %v", err)
			}
			defer parent.Close()

			cloned, err := src.CloneTo(parent, filepath.Base(dest))
			if err != nil {
				return err
			}
			defer cloned.Close()

			fmt.Fprintf(cmd.OutOrStdout(), "Cloned %s to %s\n", args[0], dest)
			return nil
		},
	}

	cmd.Flags().IntVar(&concurrency, "jobs", 4, "Number of blobs to copy in parallel")

	return cmd
}
