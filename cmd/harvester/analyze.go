package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/romangod6/listing-harvester/internal/utils"
)

func analyzeCommand() *cobra.Command {
	var (
		sessionID string
		asJSON    bool
	)

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Compute statistics and price analyses for a session",
		Long: `Compute statistics and price analyses for the session given by --session,
or for the latest session of every configured target.`,
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

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			for _, id := range ids {
				res, err := a.Analyze(ctx, id)
				if err != nil {
					return err
				}
				if asJSON {
					if err := enc.Encode(res); err != nil {
						return err
					}
					continue
				}
				fields := []utils.Field{
					utils.String("session_id", id),
					utils.Int("listings", res.Statistics.Listings.TotalListings),
				}
				if res.Pricing != nil {
					fields = append(fields,
						utils.Int("analyzed", res.Pricing.Analyzed),
						utils.Int("skipped", res.Pricing.Skipped),
						utils.Int("failed", res.Pricing.Failed))
				}
				a.Logger.Info("session analyzed", fields...)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "session id (default is the latest session of each target)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the results as JSON")
	return cmd
}
