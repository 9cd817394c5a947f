package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/romangod6/listing-harvester/internal/analysis"
	"github.com/romangod6/listing-harvester/internal/app"
)

func statsCommand() *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print the stored statistics of a session",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := setup(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			ids, err := sessionIDs(ctx, a, sessionID)
			if err != nil {
				return err
			}
			for _, id := range ids {
				report, err := analysis.Load(ctx, a.Gateway, id)
				if err != nil {
					return err
				}
				if report == nil {
					fmt.Printf("No statistics for session %s, run analyze first\n", id)
					continue
				}
				printReport(id, report)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "session id (default is the latest session of each target)")
	return cmd
}

// sessionIDs returns id, or the latest session of every target when id is
// empty.
func sessionIDs(ctx context.Context, a *app.App, id string) ([]string, error) {
	if id != "" {
		return []string{id}, nil
	}
	var ids []string
	for _, t := range a.Config.Targets() {
		s, err := a.Gateway.LatestSession(ctx, t.RootURL)
		if err != nil {
			return nil, err
		}
		if s != nil {
			ids = append(ids, s.ID)
		}
	}
	if len(ids) == 0 {
		return nil, errors.New("no sessions found, pass --session")
	}
	return ids, nil
}

func printReport(sessionID string, r *analysis.Report) {
	fmt.Printf("\nSession %s\n", sessionID)

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.SetTitle("Prices")
	t.AppendHeader(table.Row{"Count", "Mean", "Median", "Std Dev", "Min", "Max"})
	p := r.Price
	t.AppendRow(table.Row{p.Count, money(p.Mean), money(p.Median), money(p.StdDev), money(p.Min), money(p.Max)})
	t.Render()

	t = table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.SetTitle("Price Ranges")
	t.AppendHeader(table.Row{"Range", "Listings"})
	for _, band := range p.Ranges {
		t.AppendRow(table.Row{band.Label, band.Count})
	}
	t.Render()

	t = table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.SetTitle("Items")
	t.AppendHeader(table.Row{"Kind", "Value", "Count"})
	for _, group := range []struct {
		kind   string
		values []analysis.Counted
	}{
		{"manufacturer", r.Items.TopManufacturers},
		{"model", r.Items.TopModels},
		{"caliber", r.Items.TopCalibers},
		{"condition", r.Items.Conditions},
	} {
		for _, c := range group.values {
			t.AppendRow(table.Row{group.kind, c.Value, c.Count})
		}
	}
	t.Render()

	l := r.Listings
	t = table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.SetTitle("Listings")
	t.AppendHeader(table.Row{"Per Listing", "N", "Listings"})
	for _, b := range l.FirearmsPerListing {
		t.AppendRow(table.Row{"firearms", b.N, b.Count})
	}
	for _, b := range l.ImagesPerListing {
		t.AppendRow(table.Row{"images", b.N, b.Count})
	}
	t.AppendFooter(table.Row{"total", l.TotalListings, fmt.Sprintf("%d with firearms", l.ListingsWithFirearms)})
	t.Render()
}

func money(v float64) string {
	return fmt.Sprintf("$%.2f", v)
}
