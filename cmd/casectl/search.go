package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kirbyniko/research-platform-sub006/internal/search"
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Maintain the search index",
}

var searchReindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Push every live record into Meilisearch",
	Args:  cobra.NoArgs,
	RunE: withStore(func(cmd *cobra.Command, _ []string, e env) error {
		if e.cfg.MeiliURL == "" {
			return errors.New("MEILI_URL is not configured")
		}
		meili := search.NewMeili(e.cfg.MeiliURL, e.cfg.MeiliMasterKey)
		defer meili.Close()
		if !meili.Healthy() {
			return errors.New("meilisearch is not reachable")
		}

		count, err := search.NewService(meili, search.NewPgFTS(e.db)).ReindexAllFromPG(cmd.Context())
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "reindexed %d records\n", count)
		return err
	}),
}

func init() {
	searchCmd.AddCommand(searchReindexCmd)
	rootCmd.AddCommand(searchCmd)
}
