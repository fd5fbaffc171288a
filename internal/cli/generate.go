package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/bobarin/fragment/internal/app"
	"github.com/bobarin/fragment/internal/config"
	"github.com/bobarin/fragment/internal/models"
)

const pollInterval = 500 * time.Millisecond

func newGenerateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate <topic>",
		Short: "Run the full pipeline and write an MP4",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerate(cmd, strings.Join(args, " "))
		},
	}
	addRequestFlags(cmd)
	cmd.Flags().String("out", "", "Output directory (overrides OUTPUT_DIR)")
	cmd.Flags().Bool("json", false, "Print the finished job as JSON")
	return cmd
}

func runGenerate(cmd *cobra.Command, topic string) error {
	req, err := requestFromFlags(cmd, topic)
	if err != nil {
		return err
	}
	outDir, _ := cmd.Flags().GetString("out")
	asJSON, _ := cmd.Flags().GetBool("json")

	if outDir != "" {
		os.Setenv("OUTPUT_DIR", outDir)
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	a, err := app.New(cfg, app.Options{})
	if err != nil {
		return err
	}
	defer a.Close()

	job, err := a.Orchestrator.Submit(req)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Job %s started\n", job.ID)

	// Jobs are not cancellable mid-stage. An interrupt stops the progress
	// output and the process waits for the current job to settle.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	final, err := watch(ctx, cmd.ErrOrStderr(), a.Registry, job.ID, pollInterval)
	if err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), "Interrupted, waiting for the running stage to finish...")
		a.Orchestrator.Wait()
		if final, err = a.Registry.GetJob(job.ID); err != nil {
			return err
		}
	}
	a.Orchestrator.Wait()

	return report(cmd.OutOrStdout(), final, asJSON)
}

func requestFromFlags(cmd *cobra.Command, topic string) (models.GenerationRequest, error) {
	duration, _ := cmd.Flags().GetInt("duration")
	keyPoints, _ := cmd.Flags().GetStringArray("key-point")
	style, _ := cmd.Flags().GetString("style")

	req := models.GenerationRequest{
		Topic:     topic,
		Duration:  duration,
		KeyPoints: keyPoints,
		Style:     models.Style(style),
	}.Normalize()
	if err := req.Validate(); err != nil {
		return models.GenerationRequest{}, err
	}
	return req, nil
}

type jobGetter interface {
	GetJob(id uuid.UUID) (models.Job, error)
}

// watch polls the job until it is terminal, printing each stage and progress change.
func watch(ctx context.Context, w io.Writer, jobs jobGetter, id uuid.UUID, interval time.Duration) (models.Job, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastStage models.Stage
	lastProgress := -1
	for {
		job, err := jobs.GetJob(id)
		if err != nil {
			return models.Job{}, err
		}
		if job.Stage != lastStage || job.Progress != lastProgress {
			if job.Stage != "" {
				fmt.Fprintf(w, "[%3d%%] %s\n", job.Progress, job.Stage)
			}
			lastStage, lastProgress = job.Stage, job.Progress
		}
		if job.Status.Terminal() {
			return job, nil
		}

		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-ticker.C:
		}
	}
}

func report(w io.Writer, job models.Job, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(job); err != nil {
			return err
		}
	}

	if job.Status != models.JobStatusSucceeded {
		if job.Error != nil {
			return fmt.Errorf("job %s failed at %s (%s, %d attempts): %s",
				job.ID, job.Error.Stage, job.Error.Kind, job.Error.Attempts, job.Error.Message)
		}
		return fmt.Errorf("job %s ended as %s", job.ID, job.Status)
	}

	if !asJSON {
		fmt.Fprintf(w, "%s\n", job.OutputPath)
		fmt.Fprintf(w, "runtime: %.1fs\n", job.Runtime.Seconds())
		if job.RemoteURL != "" {
			fmt.Fprintf(w, "remote: %s\n", job.RemoteURL)
		}
	}
	return nil
}
