package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sfarrukhm/sentiment-mlops/internal/bus"
)

func eventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Inspect or replay a run event journal",
	}
	cmd.PersistentFlags().String("event-log", "", "event journal path (defaults to bus.journal_path)")
	cmd.PersistentFlags().Duration("since", 0, "only events recorded within this duration")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "Print journaled events",
		RunE:  runEventsList,
	}
	listCmd.Flags().Int("limit", 0, "maximum number of events (0 = all)")
	listCmd.Flags().Bool("json", false, "print raw JSON lines")

	replayCmd := &cobra.Command{
		Use:   "replay",
		Short: "Publish journaled events onto the configured bus",
		Long: `Publish journaled events onto the configured bus, e.g. to mirror a
past run into Kafka.`,
		RunE: runEventsReplay,
	}
	replayCmd.Flags().String("bus", "", "event bus type (memory, kafka, none)")

	cmd.AddCommand(listCmd, replayCmd)
	return cmd
}

// journalArgs resolves the journal path and the since cut-off.
func journalArgs(cmd *cobra.Command, configured string) (string, time.Time, error) {
	path, _ := cmd.Flags().GetString("event-log")
	if path == "" {
		path = configured
	}
	if path == "" {
		return "", time.Time{}, fmt.Errorf("no event journal configured (use --event-log)")
	}

	var since time.Time
	if d, _ := cmd.Flags().GetDuration("since"); d > 0 {
		since = time.Now().Add(-d)
	}
	return path, since, nil
}

func runEventsList(cmd *cobra.Command, _ []string) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	path, since, err := journalArgs(cmd, cfg.Bus.JournalPath)
	if err != nil {
		return err
	}
	limit, _ := cmd.Flags().GetInt("limit")
	asJSON, _ := cmd.Flags().GetBool("json")

	entries, err := bus.ReadJournal(path, since, limit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No events recorded.")
		return nil
	}

	enc := json.NewEncoder(os.Stdout)
	for _, e := range entries {
		if asJSON {
			if err := enc.Encode(e); err != nil {
				return err
			}
			continue
		}
		payload, _ := json.Marshal(e.Event.Payload)
		fmt.Printf("%s  %-28s run=%s  %s\n",
			e.RecordedAt.Format("2006-01-02 15:04:05.000"), e.Topic, e.Event.RunID, payload)
	}
	return nil
}

func runEventsReplay(cmd *cobra.Command, _ []string) error {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	path, since, err := journalArgs(cmd, cfg.Bus.JournalPath)
	if err != nil {
		return err
	}
	if t, _ := cmd.Flags().GetString("bus"); t != "" {
		cfg.Bus.Type = t
	}

	target, err := bus.NewBus(cfg.Bus, log)
	if err != nil {
		return fmt.Errorf("failed to create event bus: %w", err)
	}
	defer target.Close()

	n, err := bus.Replay(context.Background(), path, target, since)
	if err != nil {
		return err
	}

	log.Info("Replayed events", "count", n, "journal", path, "bus", cfg.Bus.Type)
	return nil
}
