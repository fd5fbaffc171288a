package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bobarin/fragment/internal/config"
	"github.com/bobarin/fragment/internal/events"
)

// eventSource is the read side of the Redis publisher.
type eventSource interface {
	Recent(ctx context.Context, n int) ([]events.Event, error)
	Subscribe(ctx context.Context) (<-chan events.Event, error)
}

func newEventsCmd() *cobra.Command {
	var (
		last   int
		follow bool
	)

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Print recent job events from Redis, optionally following new ones",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			if cfg.RedisURL == "" {
				return errors.New("REDIS_URL is not set")
			}

			pub, err := events.NewRedisPublisher(cfg.RedisURL)
			if err != nil {
				return err
			}
			defer pub.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return streamEvents(ctx, cmd.OutOrStdout(), pub, last, follow)
		},
	}

	cmd.Flags().IntVarP(&last, "last", "n", 20, "Number of past events to print")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new events until interrupted")
	return cmd
}

func streamEvents(ctx context.Context, w io.Writer, src eventSource, last int, follow bool) error {
	// Subscribe before reading history so nothing published in between is lost.
	var live <-chan events.Event
	if follow {
		ch, err := src.Subscribe(ctx)
		if err != nil {
			return err
		}
		live = ch
	}

	recent, err := src.Recent(ctx, last)
	if err != nil {
		return err
	}
	for _, ev := range recent {
		printEvent(w, ev)
	}
	if !follow {
		return nil
	}

	for ev := range live {
		printEvent(w, ev)
	}
	return nil
}

func printEvent(w io.Writer, ev events.Event) {
	line := fmt.Sprintf("#%-5d %s %-13s %s %-10s %3d%%", ev.Seq, ev.At.Format("15:04:05"), ev.Type, ev.JobID, ev.Stage, ev.Progress)
	switch {
	case ev.Error != nil:
		line += fmt.Sprintf(" %s: %s", ev.Error.Kind, ev.Error.Message)
	case ev.URL != "":
		line += " " + ev.URL
	}
	fmt.Fprintln(w, line)
}
