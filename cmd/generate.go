package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var generateCmd = &cobra.Command{
	Use:   "generate <customer-id>",
	Short: "Generate recommendations for a single customer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		customerID := args[0]

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		result, err := env.Pipeline.Run(ctx, customerID)
		if err != nil {
			return eris.Wrapf(err, "generate %s", customerID)
		}

		zap.L().Info("generation complete",
			zap.String("customer", customerID),
			zap.String("run", result.RunID),
			zap.Bool("degraded", result.Degraded),
			zap.Int("recommendations", len(result.Recommendations)),
		)

		// Print result JSON to stdout
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result.Response())
	},
}

func init() {
	rootCmd.AddCommand(generateCmd)
}
