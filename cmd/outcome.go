package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/adviseriq/advisor-cli/internal/model"
)

var outcomeAgent string

var outcomeCmd = &cobra.Command{
	Use:   "outcome <recommendation-id> <status>",
	Short: "Record a recommendation's delivery outcome",
	Long:  "Moves a recommendation through its lifecycle: pending -> delivered -> accepted or declined; declined -> excluded.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("query"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		rec, err := st.UpdateOutcome(ctx, args[0], model.OutcomeStatus(args[1]), outcomeAgent)
		if err != nil {
			return eris.Wrapf(err, "outcome %s", args[0])
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	},
}

func init() {
	outcomeCmd.Flags().StringVar(&outcomeAgent, "agent", "", "identifier of the agent recording the outcome")
	rootCmd.AddCommand(outcomeCmd)
}
