package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "sentra",
	Short: "Sentra is a multi-tenant identity session and authorization core",
	Long: `Sentra issues, rotates, and verifies session tokens with refresh replay
detection, and answers authorization questions from tenant-scoped roles and
conditional policies.`,
}

func main() {
	rootCmd.AddCommand(serverCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
