package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"beer_counter/internal/app"
	"beer_counter/internal/ledger"
	"beer_counter/internal/remote"
	"beer_counter/internal/report"
)

// ReportCmd prints the ranking and daily totals.
func ReportCmd() *cobra.Command {
	var (
		fromRemote bool
		user       string
		asJSON     bool
	)
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Show per user and per day totals",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			var events []ledger.Event
			if fromRemote {
				client := remote.NewClient(cfg.Sync.URL, cfg.Sync.ReadURL, cfg.Sync.APIKey, &http.Client{Timeout: cfg.Sync.Timeout()})
				if !client.Enabled() {
					return fmt.Errorf("SUPABASE_URL is not configured")
				}
				events, err = report.FromRemote(cmd.Context(), client)
			} else {
				st, openErr := app.OpenLedger(cfg)
				if openErr != nil {
					return openErr
				}
				defer st.Close()
				events, err = report.FromLedger(cmd.Context(), st)
			}
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if user != "" {
				days := report.UserDays(events, user, cfg.Location)
				if asJSON {
					return json.NewEncoder(out).Encode(days)
				}
				printUserDays(out, user, days)
				return nil
			}
			rep := report.Build(events, cfg.Location)
			if asJSON {
				return json.NewEncoder(out).Encode(rep)
			}
			printReport(out, rep, cfg.Location)
			return nil
		},
	}
	cmd.Flags().BoolVar(&fromRemote, "remote", false, "read from the aggregation store instead of the local ledger")
	cmd.Flags().StringVar(&user, "user", "", "show daily totals for one user")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func printReport(w io.Writer, rep report.Report, loc *time.Location) {
	header := color.New(color.Bold)
	header.Fprintf(w, "%d items over %d events (%s)\n", rep.TotalItems, rep.Events, loc)
	fmt.Fprintln(w)
	header.Fprintln(w, "Ranking")
	for i, u := range rep.Ranking {
		name := u.User
		if i == 0 {
			name = color.New(color.FgHiYellow).Sprint(name)
		}
		fmt.Fprintf(w, "  %2d. %-24s %d\n", i+1, name, u.Total)
	}
	fmt.Fprintln(w)
	header.Fprintln(w, "Per day")
	for _, d := range rep.PerDay {
		fmt.Fprintf(w, "  %s  %d\n", color.New(color.FgCyan).Sprint(d.Day), d.Total)
	}
}

func printUserDays(w io.Writer, user string, days []report.DayTotal) {
	color.New(color.Bold).Fprintf(w, "%s\n", user)
	if len(days) == 0 {
		fmt.Fprintln(w, "  (no events)")
		return
	}
	total := 0
	for _, d := range days {
		total += d.Total
		fmt.Fprintf(w, "  %s  %d\n", color.New(color.FgCyan).Sprint(d.Day), d.Total)
	}
	fmt.Fprintf(w, "  total %d\n", total)
}
