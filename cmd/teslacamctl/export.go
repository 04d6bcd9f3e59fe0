package main

import (
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/gbgbgb8/tesla-x-cam/internal/export"
	"github.com/gbgbgb8/tesla-x-cam/internal/ffmpeg"
	"github.com/gbgbgb8/tesla-x-cam/internal/viewer"
)

var exportFlags struct {
	set      string
	format   string
	cameras  []string
	strategy string
	policy   string
	start    time.Duration
	end      time.Duration
	frames   int
	out      string
}

var exportCmd = &cobra.Command{
	Use:   "export <folder>",
	Short: "Export a clip set from a TeslaCam folder as one multi-camera video",
	Args:  cobra.ExactArgs(1),
	RunE:  runExport,
}

func init() {
	f := exportCmd.Flags()
	f.StringVar(&exportFlags.set, "set", "", "clip set key, e.g. 2024-03-09_18-22-41 (default: latest)")
	f.StringVar(&exportFlags.format, "format", string(export.FormatLandscape), "original, landscape, portrait or square")
	f.StringSliceVar(&exportFlags.cameras, "cameras", nil, "visible cameras in pane order (default: all)")
	f.StringVar(&exportFlags.strategy, "strategy", "", "transcode or composite (default from config)")
	f.StringVar(&exportFlags.policy, "policy", "", "shortest, range or frames (default from config)")
	f.DurationVar(&exportFlags.start, "start", 0, "range start")
	f.DurationVar(&exportFlags.end, "end", 0, "range end")
	f.IntVar(&exportFlags.frames, "frames", 0, "frame budget for the frames policy")
	f.StringVarP(&exportFlags.out, "out", "o", "", "directory for the export (default from config)")
}

func runExport(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	settings := cfg.Export()
	if exportFlags.strategy != "" {
		settings.Strategy = exportFlags.strategy
	}
	if exportFlags.policy != "" {
		settings.StopPolicy = exportFlags.policy
	}
	defaults, err := export.DefaultsFrom(settings)
	if err != nil {
		return err
	}
	format, err := export.ParseFormat(exportFlags.format)
	if err != nil {
		return err
	}
	policy := export.StopPolicy{
		Kind:   defaults.Policy,
		Start:  exportFlags.start,
		End:    exportFlags.end,
		Frames: exportFlags.frames,
	}
	if policy.Kind == export.PolicyFrames && policy.Frames == 0 {
		policy.Frames = defaults.FrameBudget
	}

	sets, err := scanFolder(args[0])
	if err != nil {
		return err
	}
	set, err := pickSet(sets, exportFlags.set)
	if err != nil {
		return err
	}

	runner, err := newRunner()
	if err != nil {
		return err
	}
	for _, clip := range set.Clips {
		res, err := runner.Probe(ctx, clip.Path)
		if err != nil {
			return fmt.Errorf("probe %s: %w", clip.Filename, err)
		}
		clip.Width, clip.Height = res.Width, res.Height
		clip.DurationMs = res.Duration.Milliseconds()
	}

	panes, err := paneState(exportFlags.cameras)
	if err != nil {
		return err
	}
	vs := viewer.VisibleSet(panes.Snapshot(), set)

	outDir := exportFlags.out
	if outDir == "" {
		outDir = cfg.ExportsDir()
	}
	workDir, err := os.MkdirTemp("", "teslacamctl-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(workDir)

	doctor := ffmpeg.NewCachedDoctor(runner, logger)
	strategy, err := export.NewStrategy(runner, doctor, settings, workDir, logger)
	if err != nil {
		return err
	}
	pipeline := export.NewPipeline(strategy, export.PipelineConfig{
		ArtifactRoot:        outDir,
		OriginalUsesPrimary: settings.OriginalUsesPrimary,
	}, logger)

	job := export.NewJob(vs, format, policy)
	done := make(chan struct{})
	go reportProgress(cmd, job, done)

	started := time.Now()
	art, err := pipeline.Run(ctx, job)
	close(done)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  %dx%d  %d frames  %s\n",
		art.Path, humanize.Bytes(uint64(art.Size)), art.Width, art.Height, art.Frames,
		time.Since(started).Round(time.Millisecond))
	return nil
}

func reportProgress(cmd *cobra.Command, job *export.Job, done <-chan struct{}) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			n, total := job.Progress()
			if total > 0 {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s: %d/%d frames\n", job.State(), n, total)
			}
		}
	}
}
