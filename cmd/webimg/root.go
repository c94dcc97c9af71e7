package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command for webimg.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "webimg",
		Short: "Harvest images from web pages",
		Long: `webimg renders web pages in a headless browser, scrolls them until lazy
content stops loading, and stores every image it finds.

Images are downloaded directly when possible, converted when they are in a
format slide tools cannot show (SVG, WEBP, AVIF, HEIC), and captured as a
screenshot as a last resort. A manifest.json in the output directory maps
each stored file to the URL it should be credited to.`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")
	cmd.PersistentFlags().Bool("log-json", false, "Write logs as JSON lines")

	cmd.AddCommand(NewHarvestCmd())
	cmd.AddCommand(NewHistoryCmd())
	cmd.AddCommand(NewInitCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
