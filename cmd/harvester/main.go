// Command harvester crawls paginated listing sites, stores the listings and
// prices them against the dealer market.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/romangod6/listing-harvester/config"
	"github.com/romangod6/listing-harvester/internal/app"
	"github.com/romangod6/listing-harvester/internal/utils"
)

var (
	cfgFile string
	debug   bool
)

var rootCmd = &cobra.Command{
	Use:           "harvester",
	Short:         "Crawl paginated listings and analyze their prices",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml or ./config/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(crawlCommand())
	rootCmd.AddCommand(serveCommand())
	rootCmd.AddCommand(analyzeCommand())
	rootCmd.AddCommand(statsCommand())
}

// setup loads the configuration and assembles the application on ctx.
func setup(ctx context.Context) (*app.App, error) {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return nil, err
	}
	if debug {
		cfg.Logging.Level = "debug"
	}

	logger, err := utils.NewLogger(cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return app.New(ctx, cfg, logger)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
