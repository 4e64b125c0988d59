// Package output provides output formatting for the mailvault CLI.
package output

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/mailvault/mailvault/internal/cache"
)

// PrintRecords writes records as a compact JSON array to stdout.
func PrintRecords(records []*cache.Record) {
	fmt.Print("[")
	for i, rec := range records {
		if i > 0 {
			fmt.Print(",")
		}
		data, err := json.Marshal(rec)
		if err != nil {
			continue
		}
		os.Stdout.Write(data)
	}
	fmt.Println("]")
}

// PrintJSON prints a single item as indented JSON.
func PrintJSON(item any) {
	data, err := json.MarshalIndent(item, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error formatting JSON: %v\n", err)
		return
	}
	fmt.Println(string(data))
}

// PrintStats writes a human-readable cache statistics summary to stdout.
func PrintStats(stats cache.CacheStats) {
	fmt.Printf("Cache directory:  %s\n", stats.CacheDir)
	fmt.Printf("Schema version:   %s\n", stats.SchemaVersion)
	fmt.Printf("Enabled:          %v\n", stats.Enabled)
	fmt.Printf("Records:          %d across %d days (%d bytes)\n",
		stats.Store.TotalRecords, len(stats.Store.DayCounts), stats.Store.TotalSizeBytes)
	fmt.Printf("Indexed:          %d messages, %d dates\n",
		stats.Index.TotalMessages, stats.Index.TotalDates)
	fmt.Printf("Index size:       %d bytes\n",
		stats.Index.MessageIndexBytes+stats.Index.DateIndexBytes)
	fmt.Printf("Hits / misses:    %d / %d (%.1f%% hit rate)\n",
		stats.Counters.Hits, stats.Counters.Misses, stats.HitRatePct)
	fmt.Printf("Writes / updates: %d / %d\n",
		stats.Counters.Writes, stats.Counters.Updates)
}
