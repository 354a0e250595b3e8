package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ultrazend/ultrazend/internal/variables"
)

var extractSubject string

var extractCmd = &cobra.Command{
	Use:   "extract [file...]",
	Short: "Print the {{variables}} used by a subject and template files",
	Long: `Print the distinct {{variable}} names in first-occurrence order,
scanning --subject first and then each file in argument order.
Storage is not touched.`,
	RunE: runExtract,
}

func init() {
	extractCmd.Flags().StringVar(&extractSubject, "subject", "", "Subject line to scan before the files")
	rootCmd.AddCommand(extractCmd)
}

func runExtract(cmd *cobra.Command, args []string) error {
	parts := []string{extractSubject}
	for _, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		parts = append(parts, string(data))
	}

	out := cmd.OutOrStdout()
	for _, name := range variables.ExtractAll(parts...) {
		fmt.Fprintln(out, name)
	}
	return nil
}
