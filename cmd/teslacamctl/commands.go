package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/gbgbgb8/tesla-x-cam/internal/catalog"
	"github.com/gbgbgb8/tesla-x-cam/internal/config"
	"github.com/gbgbgb8/tesla-x-cam/internal/export"
	"github.com/gbgbgb8/tesla-x-cam/internal/ffmpeg"
	"github.com/gbgbgb8/tesla-x-cam/internal/layout"
	"github.com/gbgbgb8/tesla-x-cam/internal/logging"
)

var (
	logLevel string

	cfg    *config.EnvConfig
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:           "teslacamctl",
	Short:         "Inspect TeslaCam folders and export multi-camera clips",
	Version:       config.Version,
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if cfg, err = config.New(); err != nil {
			return err
		}
		level := cfg.LogLevel()
		if logLevel != "" {
			level = logLevel
		}
		logger = logging.NewTextLogger(os.Stderr, level)
		return nil
	},
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Report the encoders of the installed ffmpeg",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		runner, err := newRunner()
		if err != nil {
			return err
		}
		caps, err := runner.Doctor(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "ffmpeg:     %s\n", caps.FFmpegVersion)
		fmt.Fprintf(out, "ffprobe:    %s\n", yesNo(caps.FFprobeAvailable))
		fmt.Fprintf(out, "transcode:  %s (libx264)\n", yesNo(caps.CanTranscode()))
		fmt.Fprintf(out, "composite:  %s (libvpx)\n", yesNo(caps.CanComposite()))
		return nil
	},
}

var probeCmd = &cobra.Command{
	Use:   "probe <file>...",
	Short: "Print duration and size of clip files",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		runner, err := newRunner()
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "FILE\tCAMERA\tSIZE\tDURATION\tCODEC")
		for _, path := range args {
			res, err := runner.Probe(cmd.Context(), path)
			if err != nil {
				return fmt.Errorf("probe %s: %w", path, err)
			}
			camera, _, _ := catalog.ParseClipName(path)
			fmt.Fprintf(w, "%s\t%s\t%dx%d\t%s\t%s\n", path, orDash(camera),
				res.Width, res.Height, res.Duration.Round(time.Millisecond), res.Codec)
		}
		return w.Flush()
	},
}

var setsCmd = &cobra.Command{
	Use:   "sets <folder>",
	Short: "List the clip sets found in a TeslaCam folder",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sets, err := scanFolder(args[0])
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SET\tCAMERAS\tSIZE")
		for _, set := range sets {
			var size int64
			cams := make([]string, 0, len(set.Clips))
			for _, c := range set.Clips {
				size += c.Size
				cams = append(cams, c.Camera)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", set.Key, strings.Join(cams, ","), humanize.Bytes(uint64(size)))
		}
		return w.Flush()
	},
}

var layoutFormat string

var layoutCmd = &cobra.Command{
	Use:   "layout <panes>",
	Short: "Print the pane rectangles of an export canvas",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var panes int
		if _, err := fmt.Sscanf(args[0], "%d", &panes); err != nil {
			return fmt.Errorf("panes must be an integer: %q", args[0])
		}
		tag, err := export.ParseFormat(layoutFormat)
		if err != nil {
			return err
		}
		spec, err := export.ResolveOutputSpec(tag, nil, false)
		if err != nil {
			return err
		}
		rects, err := layout.Compute(panes, spec.Width, spec.Height)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s %dx%d\n", tag, spec.Width, spec.Height)
		for i, r := range rects {
			fmt.Fprintf(out, "  %d: %s\n", i, r)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error (default from TESLACAM_LOG_LEVEL)")

	layoutCmd.Flags().StringVar(&layoutFormat, "format", string(export.FormatLandscape), "output format")

	rootCmd.AddCommand(doctorCmd)
	rootCmd.AddCommand(probeCmd)
	rootCmd.AddCommand(setsCmd)
	rootCmd.AddCommand(layoutCmd)
	rootCmd.AddCommand(exportCmd)
}

func newRunner() (*ffmpeg.Runner, error) {
	ffCfg := ffmpeg.DefaultConfig(logger)
	ffCfg.FFmpegPath = cfg.FFmpegPath()
	ffCfg.FFprobePath = cfg.FFprobePath()
	ffCfg.DoctorTimeout = cfg.DoctorTimeout()
	ffCfg.ProbeTimeout = cfg.ProbeTimeout()
	return ffmpeg.New(ffCfg)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
