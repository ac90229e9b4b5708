package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"timetrack/internal/api/v1/dto"
	"timetrack/internal/entitlement"
	"timetrack/internal/model"
	"timetrack/internal/subscription"
)

func (a *App) printJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (a *App) printURL(label, url string) error {
	if a.cfg.JSON {
		return a.printJSON(map[string]string{"url": url})
	}
	if label != "" {
		fmt.Fprintln(a.out, label)
	}
	_, err := fmt.Fprintln(a.out, url)
	return err
}

func (a *App) printResult(res subscription.Result) error {
	now := a.now()
	summary := entitlement.Summarize(res.Subscription, now)
	if a.cfg.JSON {
		return a.printJSON(dto.SubscriptionResponse{Subscription: res.Subscription, Summary: summary})
	}

	sub := res.Subscription
	if sub == nil {
		_, err := fmt.Fprintln(a.out, "No subscription.")
		return err
	}
	tw := tabwriter.NewWriter(a.out, 0, 4, 1, ' ', 0)
	fmt.Fprintf(tw, "Plan:\t%s\n", planLabel(sub.SubscriptionType))
	fmt.Fprintf(tw, "Status:\t%s\n", summary.UIStatus)
	if end := sub.CurrentPeriodEnd; end != nil {
		verb := "Renews:"
		switch {
		case summary.IsExpired:
			verb = "Ended:"
		case sub.Status == model.StatusCanceled:
			verb = "Ends:"
		case summary.IsTrialActive:
			verb = "Trial ends:"
		}
		fmt.Fprintf(tw, "%s\t%s (%s)\n", verb, end.Local().Format(time.DateOnly), relative(end.Sub(now)))
	}
	access := "none"
	if res.HasActiveSubscription {
		access = "premium"
	}
	fmt.Fprintf(tw, "Access:\t%s\n", access)
	return tw.Flush()
}

func planLabel(t model.SubscriptionType) string {
	switch t {
	case model.TypeMonthly:
		return "Monthly"
	case model.TypeYearly:
		return "Yearly"
	case model.TypeFreeTrial:
		return "Free trial"
	}
	return string(t)
}

func relative(d time.Duration) string {
	days := int(d.Round(time.Hour).Hours() / 24)
	switch {
	case days > 1:
		return fmt.Sprintf("in %d days", days)
	case days == 1:
		return "in 1 day"
	case days == 0:
		return "today"
	case days == -1:
		return "1 day ago"
	}
	return fmt.Sprintf("%d days ago", -days)
}

// formatAmount renders minor units; zero-decimal currencies are not special-cased.
func formatAmount(inv model.Invoice) string {
	amount := inv.AmountPaid
	if amount == 0 {
		amount = inv.AmountDue
	}
	return fmt.Sprintf("%d.%02d %s", amount/100, amount%100, strings.ToUpper(inv.Currency))
}
