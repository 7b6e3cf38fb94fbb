package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cuemby/comet/pkg/validator"
)

var validateCmd = &cobra.Command{
	Use:   "validate <file>...",
	Short: "Check VOEvent documents against the schema",
	Long: `Run the broker's schema check on local VOEvent files without submitting
them. Exits non-zero if any document fails.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		failed := 0
		for _, name := range args {
			data, err := os.ReadFile(name)
			if err != nil {
				return fmt.Errorf("failed to read file: %w", err)
			}
			if err := validator.ValidatePayload(data); err != nil {
				failed++
				fmt.Fprintf(cmd.OutOrStdout(), "✗ %s: %v\n", name, err)
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ %s\n", name)
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d documents invalid", failed, len(args))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
