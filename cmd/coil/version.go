package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// version is overridable at build time with -ldflags "-X main.version=...".
var version = "0.1.0"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the coil version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("coil %s\n", version)
	},
}
