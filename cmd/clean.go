package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tanq16/mirrordl/internal/metadata"
	"github.com/tanq16/mirrordl/internal/output"
)

func newCleanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clean [OUTPUT_PATH]",
		Short: "Remove saved progress for an output file so the next run starts over",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			sink := output.NewConsole(os.Stdout)
			if err := metadata.Remove(args[0]); err != nil {
				fmt.Fprintf(os.Stderr, "Error cleaning up metadata files: %v\n", err)
				os.Exit(1)
			}
			sink.Message("Metadata files cleaned up for " + args[0])
		},
	}
}
