package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/trueup-laplace/ragengine/internal/rag"
	"github.com/trueup-laplace/ragengine/internal/search"
	"github.com/trueup-laplace/ragengine/internal/ui"
)

func newSearchCmd() *cobra.Command {
	var maxResults int
	var minScore float64
	var lexicalOnly bool
	var lexicalWeight, vectorWeight float64
	var documents []string
	var wait time.Duration

	cmd := &cobra.Command{
		Use:   "search <query>...",
		Short: "Search the collection",
		Long: `Run a hybrid query against the collection. Keyword and vector scores
are combined with the configured weights; results below the score
threshold are dropped. When embeddings are unavailable the query
degrades to keyword-only matching.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(ctx context.Context, eng *rag.Engine, p *ui.Printer) error {
				opts := search.Options{
					MaxResults:           maxResults,
					LexicalOnly:          lexicalOnly,
					CandidateDocumentIDs: documents,
				}
				if cmd.Flags().Changed("min-score") {
					opts.MinScore = minScore
					if minScore == 0 {
						opts.MinScore = -1
					}
				}
				if cmd.Flags().Changed("lexical-weight") || cmd.Flags().Changed("vector-weight") {
					for name, w := range map[string]float64{"lexical-weight": lexicalWeight, "vector-weight": vectorWeight} {
						if w < 0 || w > 1 {
							return fmt.Errorf("%s must be between 0.0 and 1.0, got %.2f", name, w)
						}
					}
					opts.Weights = &search.Weights{Lexical: lexicalWeight, Vector: vectorWeight}
				}

				if wait > 0 {
					if err := waitForAll(ctx, eng, wait); err != nil {
						p.Warnf("embeddings not ready, results may be keyword-only: %v", err)
					}
				}

				results, err := eng.Search(ctx, strings.Join(args, " "), opts)
				if err != nil {
					return err
				}
				return p.SearchResults(results)
			})
		},
	}

	cmd.Flags().IntVar(&maxResults, "max-results", 0, "Result cap (0 = configured default)")
	cmd.Flags().Float64Var(&minScore, "min-score", 0, "Score threshold (0 disables filtering)")
	cmd.Flags().BoolVar(&lexicalOnly, "lexical-only", false, "Skip vector search entirely")
	cmd.Flags().Float64Var(&lexicalWeight, "lexical-weight", 0.7, "Keyword score weight")
	cmd.Flags().Float64Var(&vectorWeight, "vector-weight", 0.3, "Vector score weight")
	cmd.Flags().StringSliceVar(&documents, "documents", nil, "Restrict the query to these document IDs")
	cmd.Flags().DurationVar(&wait, "wait", 0, "Block until all embeddings are ready before searching")

	return cmd
}

// waitForAll blocks until every document in the collection has finished
// embedding, or the timeout elapses.
func waitForAll(ctx context.Context, eng *rag.Engine, timeout time.Duration) error {
	docs, err := eng.ListDocuments(ctx)
	if err != nil {
		return err
	}
	ids := make([]string, len(docs))
	for i, doc := range docs {
		ids[i] = doc.ID
	}
	_, err = eng.EnsureReadyForSearch(ctx, ids, timeout)
	return err
}
