package cmd

import (
	"github.com/spf13/cobra"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll",
	Short: "Enrollment management commands",
	Long:  `Commands for adding, importing and checking enrolled face samples.`,
}

func init() {
	rootCmd.AddCommand(enrollCmd)
}
