package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"timetrack/internal/apiclient"
	"timetrack/internal/model"

	"github.com/spf13/cobra"
)

func (a *App) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the current subscription",
		Long:  "Show the current subscription. Answers from the local cache when it is less than 30 seconds old.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.printResult(a.manager.Status(cmd.Context()))
		},
	}
}

func (a *App) refreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Drop the cached subscription and fetch it again",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.printResult(a.manager.Refresh(cmd.Context()))
		},
	}
}

const maxWatchBackoff = 30 * time.Second

func (a *App) watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print the subscription every time it changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.watch(cmd.Context())
		},
	}
}

func (a *App) watch(ctx context.Context) error {
	if err := a.printResult(a.manager.Status(ctx)); err != nil {
		return err
	}

	updates, unsubscribe := a.manager.Subscribe()
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		for res := range updates {
			if err := a.printResult(res); err != nil {
				a.logger.Error().Err(err).Msg("Failed to print subscription")
			}
		}
	}()
	defer func() {
		unsubscribe()
		<-printed
	}()

	backoff := time.Second
	for {
		err := a.manager.Watch(ctx, a.client)
		if ctx.Err() != nil {
			return nil
		}
		if apiclient.IsCode(err, "unauthorized") {
			return err
		}
		a.logger.Warn().Err(err).Dur("retry_in", backoff).Msg("Change stream lost; reconnecting")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxWatchBackoff)
		// Changes made while disconnected were not notified.
		a.manager.Refresh(ctx)
	}
}

func (a *App) checkoutCmd() *cobra.Command {
	var returnURL string
	cmd := &cobra.Command{
		Use:   "checkout <monthly|yearly|free_trial>",
		Short: "Start a checkout for a plan and print its URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			plan, err := parsePlan(args[0])
			if err != nil {
				return err
			}
			url, err := a.manager.Checkout(cmd.Context(), plan, returnURL)
			if err != nil {
				return err
			}
			return a.printURL("Open this URL to complete checkout:", url)
		},
	}
	cmd.Flags().StringVar(&returnURL, "return-url", "", "Where checkout redirects after payment")
	return cmd
}

func (a *App) verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <session-id>",
		Short: "Record a completed checkout session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.manager.Verify(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.printResult(res)
		},
	}
}

func (a *App) cancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel",
		Short: "Cancel the subscription at the end of the current period",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.manager.Cancel(cmd.Context())
			if err != nil {
				return err
			}
			return a.printResult(res)
		},
	}
}

func (a *App) changePlanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "change-plan <monthly|yearly>",
		Short: "Switch between monthly and yearly billing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			plan, err := parsePlan(args[0])
			if err != nil {
				return err
			}
			res, url, err := a.manager.ChangePlan(cmd.Context(), plan)
			if err != nil {
				return err
			}
			if url != "" {
				return a.printURL("No paid subscription to change; open this URL to subscribe:", url)
			}
			return a.printResult(res)
		},
	}
}

func (a *App) invoicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "invoices",
		Short: "List billing history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			invoices, err := a.client.BillingHistory(cmd.Context())
			if err != nil {
				return err
			}
			if a.cfg.JSON {
				return a.printJSON(map[string]any{"invoices": invoices})
			}
			if len(invoices) == 0 {
				_, err := fmt.Fprintln(a.out, "No invoices.")
				return err
			}
			tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNUMBER\tDATE\tSTATUS\tAMOUNT")
			for _, inv := range invoices {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", inv.ID, inv.Number, inv.Created.Format(time.DateOnly), inv.Status, formatAmount(inv))
			}
			return tw.Flush()
		},
	}
}

func (a *App) invoicePDFCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "invoice-pdf <invoice-id>",
		Short: "Print the PDF link of an invoice",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			url, err := a.client.InvoicePDF(cmd.Context(), args[0])
			if err != nil {
				if apiclient.IsCode(err, "not_found") {
					return fmt.Errorf("no invoice %s on your account", args[0])
				}
				return err
			}
			return a.printURL("", url)
		},
	}
}

var errUnknownPlan = errors.New("unknown plan")

func parsePlan(s string) (model.SubscriptionType, error) {
	plan := model.SubscriptionType(strings.ToLower(strings.ReplaceAll(s, "-", "_")))
	if !plan.Valid() {
		return "", fmt.Errorf("%w %q: use monthly, yearly or free_trial", errUnknownPlan, s)
	}
	return plan, nil
}
