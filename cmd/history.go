package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/adviseriq/advisor-cli/internal/model"
	"github.com/adviseriq/advisor-cli/internal/store"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect recommendation history",
	Long:  "Commands for listing, viewing, and summarizing past recommendations.",
}

// -- history list --

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recommendations",
	RunE: func(cmd *cobra.Command, _ []string) error {
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

		customer, _ := cmd.Flags().GetString("customer")
		outcome, _ := cmd.Flags().GetString("outcome")
		category, _ := cmd.Flags().GetString("category")
		since, _ := cmd.Flags().GetDuration("since")
		limit, _ := cmd.Flags().GetInt("limit")

		filter := store.Filter{
			CustomerID: customer,
			Outcome:    model.OutcomeStatus(outcome),
			Category:   model.Category(category),
			Limit:      limit,
		}
		if since > 0 {
			filter.Since = time.Now().Add(-since)
		}

		recs, err := st.ListRecommendations(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "history list")
		}

		if len(recs) == 0 {
			fmt.Fprintln(os.Stderr, "No recommendations found.")
			return nil
		}

		formatHistoryList(os.Stdout, recs)
		return nil
	},
}

// -- history show --

var historyShowCmd = &cobra.Command{
	Use:   "show <recommendation-id>",
	Short: "Show a recommendation with its full audit trail",
	Args:  cobra.ExactArgs(1),
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

		rec, contribs, err := st.GetRecommendation(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "history show")
		}

		out := struct {
			Recommendation *model.Recommendation     `json:"recommendation"`
			Contributions  []model.StageContribution `json:"contributions"`
		}{rec, contribs}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

// -- history stats --

var historyStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate outcome statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
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

		since, _ := cmd.Flags().GetDuration("since")
		filter := store.Filter{Limit: 10000}
		if since > 0 {
			filter.Since = time.Now().Add(-since)
		}

		recs, err := st.ListRecommendations(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "history stats")
		}

		stats := computeOutcomeStats(recs)
		formatOutcomeStats(os.Stdout, stats)
		return nil
	},
}

func init() {
	historyListCmd.Flags().String("customer", "", "filter by customer ID")
	historyListCmd.Flags().String("outcome", "", "filter by outcome (pending, delivered, accepted, declined, excluded)")
	historyListCmd.Flags().String("category", "", "filter by category (adoption, upsell)")
	historyListCmd.Flags().Duration("since", 0, "only recommendations created within this window (e.g. 24h, 720h)")
	historyListCmd.Flags().Int("limit", 50, "max number of recommendations to display")

	historyStatsCmd.Flags().Duration("since", 30*24*time.Hour, "time window for stats (e.g. 24h, 168h, 720h)")

	historyCmd.AddCommand(historyListCmd)
	historyCmd.AddCommand(historyShowCmd)
	historyCmd.AddCommand(historyStatsCmd)
	rootCmd.AddCommand(historyCmd)
}

// outcomeStats holds aggregate statistics computed from a set of recommendations.
type outcomeStats struct {
	Total          int
	Pending        int
	Delivered      int
	Accepted       int
	Declined       int
	Excluded       int
	Degraded       int
	AcceptanceRate float64
	AvgConfidence  float64
}

// computeOutcomeStats computes aggregate statistics from recommendations.
func computeOutcomeStats(recs []model.Recommendation) outcomeStats {
	var s outcomeStats
	s.Total = len(recs)

	var confidenceSum float64
	for _, r := range recs {
		switch r.Outcome {
		case model.OutcomePending:
			s.Pending++
		case model.OutcomeDelivered:
			s.Delivered++
		case model.OutcomeAccepted:
			s.Accepted++
		case model.OutcomeDeclined:
			s.Declined++
		case model.OutcomeExcluded:
			s.Excluded++
		}
		if r.Degraded {
			s.Degraded++
		}
		confidenceSum += r.Confidence
	}

	if resolved := s.Accepted + s.Declined; resolved > 0 {
		s.AcceptanceRate = float64(s.Accepted) / float64(resolved)
	}
	if s.Total > 0 {
		s.AvgConfidence = confidenceSum / float64(s.Total)
	}
	return s
}

// formatHistoryList writes a tabular list of recommendations to w.
func formatHistoryList(out io.Writer, recs []model.Recommendation) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tCUSTOMER\tCATEGORY\tFEATURE\tCONF\tRANK\tOUTCOME\tCREATED")
	for _, r := range recs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.2f\t%d\t%s\t%s\n",
			r.ID, r.CustomerID, r.Category, r.TargetFeature,
			r.Confidence, r.Rank, r.Outcome,
			r.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}

// formatOutcomeStats writes aggregate statistics to w.
func formatOutcomeStats(out io.Writer, s outcomeStats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Total\t%d\n", s.Total)
	_, _ = fmt.Fprintf(w, "Pending\t%d\n", s.Pending)
	_, _ = fmt.Fprintf(w, "Delivered\t%d\n", s.Delivered)
	_, _ = fmt.Fprintf(w, "Accepted\t%d\n", s.Accepted)
	_, _ = fmt.Fprintf(w, "Declined\t%d\n", s.Declined)
	_, _ = fmt.Fprintf(w, "Excluded\t%d\n", s.Excluded)
	_, _ = fmt.Fprintf(w, "Degraded\t%d\n", s.Degraded)
	_, _ = fmt.Fprintf(w, "Acceptance rate\t%.1f%%\n", s.AcceptanceRate*100)
	_, _ = fmt.Fprintf(w, "Avg confidence\t%.2f\n", s.AvgConfidence)
	_ = w.Flush()
}
