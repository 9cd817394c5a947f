package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/romangod6/listing-harvester/config"
)

func crawlCommand() *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Run one crawl of every configured target",
		Long: `Run one crawl of every configured target, or only the one named by --target.
A target whose previous run failed resumes after its last completed page.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			targets, err := selectTargets(a.Config.Targets(), name)
			if err != nil {
				return err
			}

			outcomes, err := a.Crawl(cmd.Context(), targets)
			if err != nil {
				return err
			}
			failed := 0
			for _, o := range outcomes {
				if o.Err != nil {
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d crawls failed", failed, len(outcomes))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "target", "", "crawl only the target with this name")
	return cmd
}

func selectTargets(targets []config.Target, name string) ([]config.Target, error) {
	if name == "" {
		return targets, nil
	}
	for _, t := range targets {
		if t.Name == name {
			return []config.Target{t}, nil
		}
	}
	return nil, fmt.Errorf("no target named %q", name)
}
