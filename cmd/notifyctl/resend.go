package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Ulrichjack/institut-app-backend/internal/service"
)

type resendOptions struct {
	*rootOptions
	Since string
	Limit int
}

func newResendCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &resendOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "resend",
		Short: "Replay confirmations for messages whose notifications were never sent",
		Long: `Replay user confirmations for messages created since the given instant
whose email or WhatsApp flag is still unset. Admin alerts are not repeated.

Examples:
  notifyctl resend --since 48h
  notifyctl resend --since 2024-03-01 --limit 20`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResend(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.Since, "since", "24h", "look-back window as a duration (48h) or a date (YYYY-MM-DD)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 100, "maximum number of messages to replay")

	return cmd
}

func runResend(ctx context.Context, opts *resendOptions, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	since, err := parseSince(opts.Since, time.Now())
	if err != nil {
		return err
	}
	if opts.Limit <= 0 {
		return fmt.Errorf("limit must be positive, got %d", opts.Limit)
	}

	e, err := openEnv(ctx, opts.rootOptions)
	if err != nil {
		return err
	}
	defer e.close()

	results, err := e.notificationService().Resend(ctx, since, opts.Limit)
	if err != nil {
		return err
	}
	return printResults(out, since, results)
}

// parseSince accepts either a Go duration, counted back from now, or a
// calendar date interpreted as UTC midnight.
func parseSince(raw string, now time.Time) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fmt.Errorf("since is required")
	}
	if d, err := time.ParseDuration(raw); err == nil {
		if d <= 0 {
			return time.Time{}, fmt.Errorf("since duration must be positive, got %s", raw)
		}
		return now.Add(-d), nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid since %q: use a duration like 48h or a date like 2024-03-01", raw)
	}
	return t, nil
}

func printResults(out io.Writer, since time.Time, results []service.DeliveryResult) error {
	if len(results) == 0 {
		_, err := fmt.Fprintf(out, "nothing to resend since %s\n", since.Format(time.RFC3339))
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CHANNEL\tRECIPIENT\tOUTCOME\tATTEMPTS")
	sent := 0
	for _, r := range results {
		if r.Outcome == service.OutcomeSent {
			sent++
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", r.Channel, r.Recipient, r.Outcome, r.Attempts)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(out, "%d/%d deliveries sent\n", sent, len(results))
	return err
}
