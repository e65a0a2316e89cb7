package main

import (
	"fmt"
	"strings"

	"github.com/aretw0/turnpike"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of turnpike",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "turnpike version %s\n", strings.TrimSpace(turnpike.Version))
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
