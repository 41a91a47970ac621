package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sfarrukhm/sentiment-mlops/internal/history"
)

func historyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List stored run summaries",
		RunE:  runHistoryList,
	}
	cmd.Flags().IntP("limit", "l", 10, "number of summaries to show (0 = all)")
	cmd.Flags().Bool("json", false, "print summaries as JSON")

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Delete all stored summaries",
		RunE:  runHistoryClear,
	})
	return cmd
}

func openHistory(cmd *cobra.Command) (*history.Store, error) {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if cfg.History.RedisURL == "" {
		return nil, fmt.Errorf("no history configured (use --history or SENTI_HISTORY_REDIS_URL)")
	}
	return history.NewStore(cfg.History.RedisURL, cfg.History.Key, cfg.History.Limit)
}

func runHistoryList(cmd *cobra.Command, _ []string) error {
	store, err := openHistory(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	limit, _ := cmd.Flags().GetInt("limit")
	asJSON, _ := cmd.Flags().GetBool("json")

	entries, err := store.List(cmd.Context(), limit)
	if err != nil {
		return err
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}
	return history.WriteList(os.Stdout, entries)
}

func runHistoryClear(cmd *cobra.Command, _ []string) error {
	store, err := openHistory(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Clear(cmd.Context()); err != nil {
		return err
	}
	fmt.Println("History cleared.")
	return nil
}
