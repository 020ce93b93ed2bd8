package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "cinema-auth",
	Short: "Authentication service for the cinema booking platform",
	Long:  `Handles user registration with email verification, login, access/refresh token issuance and rotation, and account management.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
