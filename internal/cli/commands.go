package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mailvault/mailvault/internal/cache"
	"github.com/mailvault/mailvault/internal/core"
	"github.com/mailvault/mailvault/internal/output"
)

func init() {
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(rebuildCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(invalidateCmd)

	getCmd.Flags().Bool("include-text", false, "Require full text bodies (re-fetches cached records without one)")
	getCmd.Flags().String("from", "", "Filter by sender email address")
	getCmd.Flags().String("subject", "", "Filter by text in the subject line")
	getCmd.Flags().Int("limit", 0, "Maximum number of messages to return")
	getCmd.Flags().Int("parallel", 0, "Parallel cache loads (default from config)")

	cleanupCmd.Flags().Int("days", 0, "Delete records older than this many days (default from config)")

	invalidateCmd.Flags().Bool("all", false, "Delete the entire cache")
}

// getCmd fetches messages for a date range through the cache.
var getCmd = &cobra.Command{
	Use:   "get [start] [end]",
	Short: "Get messages for a date range (YYYY-MM-DD), served through the cache",
	Args:  cobra.ExactArgs(2),
	RunE:  handleGet,
}

// statsCmd prints cache statistics.
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache statistics",
	RunE:  handleStats,
}

// rebuildCmd rebuilds both indexes from the record files.
var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Rebuild the cache indexes from the record files",
	RunE:  handleRebuild,
}

// cleanupCmd deletes records past the retention window.
var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete cached messages older than the retention window",
	RunE:  handleCleanup,
}

// invalidateCmd deletes specific records, or the whole cache with --all.
var invalidateCmd = &cobra.Command{
	Use:   "invalidate [id...]",
	Short: "Remove specific messages from the cache, or everything with --all",
	RunE:  handleInvalidate,
}

func handleGet(cmd *cobra.Command, args []string) error {
	start, err := core.ParseDate(args[0])
	if err != nil {
		return err
	}
	end, err := core.ParseDate(args[1])
	if err != nil {
		return err
	}
	if end.Before(start) {
		return fmt.Errorf("end date precedes start date")
	}

	includeText, _ := cmd.Flags().GetBool("include-text")
	fromSender, _ := cmd.Flags().GetString("from")
	subject, _ := cmd.Flags().GetString("subject")
	limit, _ := cmd.Flags().GetInt("limit")
	parallel, _ := cmd.Flags().GetInt("parallel")

	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if parallel > 0 {
		cfg.Parallelism = parallel
	}
	mgr, err := newManager(cfg, logger, true)
	if err != nil {
		return err
	}

	records, err := mgr.GetRecords(cmd.Context(), start, end, cache.Query{
		FromSender:      fromSender,
		SubjectContains: subject,
		MaxResults:      limit,
		IncludeText:     includeText,
	})
	if err != nil {
		return err
	}

	output.PrintRecords(records)
	return nil
}

func handleStats(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	mgr, err := newManager(cfg, logger, false)
	if err != nil {
		return err
	}

	stats := mgr.Stats()
	if rawJSON {
		output.PrintJSON(stats)
	} else {
		output.PrintStats(stats)
	}
	return nil
}

func handleRebuild(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	mgr, err := newManager(cfg, logger, false)
	if err != nil {
		return err
	}

	if !mgr.RebuildIndexes() {
		return fmt.Errorf("index rebuild failed")
	}
	fmt.Println("Indexes rebuilt.")
	return nil
}

func handleCleanup(cmd *cobra.Command, args []string) error {
	days, _ := cmd.Flags().GetInt("days")

	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	mgr, err := newManager(cfg, logger, false)
	if err != nil {
		return err
	}

	deleted := mgr.Cleanup(days)
	fmt.Printf("Deleted %d expired records.\n", deleted)
	return nil
}

func handleInvalidate(cmd *cobra.Command, args []string) error {
	all, _ := cmd.Flags().GetBool("all")
	if !all && len(args) == 0 {
		return fmt.Errorf("provide message ids or --all")
	}

	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	mgr, err := newManager(cfg, logger, false)
	if err != nil {
		return err
	}

	var ids []string
	if !all {
		ids = args
	}
	if !mgr.Invalidate(ids) {
		return fmt.Errorf("invalidation failed")
	}
	if all {
		fmt.Println("Cache invalidated.")
	} else {
		fmt.Printf("Invalidated %d messages.\n", len(ids))
	}
	return nil
}
