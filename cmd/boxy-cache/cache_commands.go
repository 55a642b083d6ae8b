package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"boxy/internal/audiocache"
	"boxy/internal/config"
)

func newCacheCommands(ctx *commandContext) []*cobra.Command {
	return []*cobra.Command{
		newStatsCommand(ctx),
		newListCommand(ctx),
		newLookupCommand(ctx),
		newAddCommand(ctx),
		newEvictCommand(ctx),
		newRemoveCommand(ctx),
		newClearCommand(ctx),
		newMaintainCommand(ctx),
	}
}

func newStatsCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show audio cache usage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withCache(func(_ *config.Config, cache *audiocache.Cache) error {
				summary := cache.Summary()
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), summary)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Directory: %s\n", summary.Dir)
				fmt.Fprintf(out, "Entries:   %d\n", summary.Entries)
				fmt.Fprintf(out, "Size:      %s / %s\n", humanBytes(summary.TotalBytes), humanBytes(summary.MaxBytes))
				if summary.TotalFSBytes > 0 {
					ratio := float64(summary.FreeBytes) / float64(summary.TotalFSBytes)
					fmt.Fprintf(out, "Disk:      %s free (%.1f%%)\n", humanize.IBytes(summary.FreeBytes), ratio*100)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the summary as JSON")
	return cmd
}

func newListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List cached audio, most recently played first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withCache(func(_ *config.Config, cache *audiocache.Cache) error {
				printEntries(cmd.OutOrStdout(), cache.Entries())
				return nil
			})
		},
	}
}

func printEntries(out io.Writer, entries []audiocache.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(out, "Cache is empty")
		return
	}
	rows := make([][]string, 0, len(entries))
	for _, entry := range entries {
		rows = append(rows, []string{
			entry.Title,
			entry.Channel,
			formatDuration(entry.Duration),
			humanBytes(entry.FileSize),
			formatStamp(entry.LastAccessed),
			shortFingerprint(entry.Fingerprint),
		})
	}
	fmt.Fprintln(out, renderTable(out,
		[]string{"Title", "Channel", "Length", "Size", "Last Played", "Key"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignLeft, alignLeft},
	))
}

func newLookupCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "lookup <url>",
		Short: "Show the cached file for a URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withCache(func(_ *config.Config, cache *audiocache.Cache) error {
				out := cmd.OutOrStdout()
				entry, ok := cache.Lookup(args[0])
				if !ok {
					fmt.Fprintf(out, "Not cached: %s\n", args[0])
					return nil
				}
				fmt.Fprintf(out, "Path:     %s\n", entry.Path)
				fmt.Fprintf(out, "Title:    %s\n", entry.Title)
				if entry.Channel != "" {
					fmt.Fprintf(out, "Channel:  %s\n", entry.Channel)
				}
				fmt.Fprintf(out, "Length:   %s\n", formatDuration(entry.Duration))
				fmt.Fprintf(out, "Size:     %s\n", humanBytes(entry.FileSize))
				fmt.Fprintf(out, "Added:    %s\n", formatStamp(entry.AddedAt))
				return nil
			})
		},
	}
}

func newAddCommand(ctx *commandContext) *cobra.Command {
	var meta audiocache.Metadata

	cmd := &cobra.Command{
		Use:   "add <url> <file>",
		Short: "Copy an already downloaded file into the cache",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(args[1]); err != nil {
				return fmt.Errorf("source file: %w", err)
			}
			return ctx.withCache(func(cfg *config.Config, cache *audiocache.Cache) error {
				path, err := cache.Insert(args[0], args[1], meta)
				if err != nil && !errors.Is(err, audiocache.ErrPersistIndex) {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cached %s at %s\n", args[0], path)
				if err != nil {
					return err
				}
				summary := cache.Summary()
				if summary.TotalBytes > cfg.MaxBytes() {
					fmt.Fprintf(cmd.OutOrStdout(), "Cache is over budget (%s / %s); run `boxy-cache evict`\n",
						humanBytes(summary.TotalBytes), humanBytes(cfg.MaxBytes()))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&meta.Title, "title", "", "Track title")
	cmd.Flags().StringVar(&meta.Channel, "channel", "", "Channel or uploader name")
	cmd.Flags().DurationVar(&meta.Duration, "duration", 0, "Track length (for example 3m35s)")
	cmd.Flags().StringVar(&meta.Thumbnail, "thumbnail", "", "Thumbnail URL")
	return cmd
}

func newEvictCommand(ctx *commandContext) *cobra.Command {
	var maxMiB int

	cmd := &cobra.Command{
		Use:   "evict",
		Short: "Evict least recently played audio until the cache fits its budget",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withCache(func(cfg *config.Config, cache *audiocache.Cache) error {
				budget := cfg.MaxBytes()
				if cmd.Flags().Changed("max-mib") {
					if maxMiB < 0 {
						return fmt.Errorf("--max-mib must be >= 0")
					}
					budget = int64(maxMiB) * 1024 * 1024
				}
				result, err := cache.EvictToBudget(budget)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(result.Removed) == 0 && len(result.Skipped) == 0 {
					fmt.Fprintf(out, "Nothing to evict (%s / %s)\n", humanBytes(result.TotalBytes), humanBytes(budget))
					return nil
				}
				fmt.Fprintf(out, "Evicted %d entries, freed %s (now %s / %s)\n",
					len(result.Removed), humanBytes(result.FreedBytes), humanBytes(result.TotalBytes), humanBytes(budget))
				if len(result.Skipped) > 0 {
					fmt.Fprintf(out, "Skipped %d files in use\n", len(result.Skipped))
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&maxMiB, "max-mib", 0, "Budget in MiB (defaults to audio_cache.max_mib)")
	return cmd
}

func newRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <url>",
		Short: "Remove one URL from the cache",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withCache(func(_ *config.Config, cache *audiocache.Cache) error {
				removed, err := cache.Remove(args[0])
				if err != nil {
					return err
				}
				if !removed {
					fmt.Fprintf(cmd.OutOrStdout(), "Not cached: %s\n", args[0])
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", args[0])
				return nil
			})
		},
	}
}

func newClearCommand(ctx *commandContext) *cobra.Command {
	var confirm bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every cached audio file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirm {
				return errors.New("refusing to clear the cache without --yes")
			}
			return ctx.withCache(func(_ *config.Config, cache *audiocache.Cache) error {
				result, err := cache.ClearAll()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d files (%d index entries)\n", result.RemovedFiles, result.Entries)
				if result.SkippedFiles > 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "Skipped %d files in use\n", result.SkippedFiles)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&confirm, "yes", "y", false, "Confirm deleting all cached audio")
	return cmd
}

func newMaintainCommand(ctx *commandContext) *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "maintain",
		Short: "Keep the cache within budget until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withCache(func(cfg *config.Config, cache *audiocache.Cache) error {
				every := interval
				if every <= 0 {
					every = time.Duration(cfg.AudioCache.MaintainIntervalSeconds) * time.Second
				}
				if every <= 0 {
					return errors.New("no sweep interval: pass --interval or set audio_cache.maintain_interval_seconds")
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Sweeping every %s to %s\n", every, humanBytes(cfg.MaxBytes()))
				cache.Maintain(cmd.Context(), every, cfg.MaxBytes())
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 0, "Sweep interval (defaults to audio_cache.maintain_interval_seconds)")
	return cmd
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func humanBytes(v int64) string {
	if v < 0 {
		return "-" + humanize.IBytes(uint64(-v))
	}
	return humanize.IBytes(uint64(v))
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	d = d.Round(time.Second)
	hours := int(d / time.Hour)
	minutes := int(d%time.Hour) / int(time.Minute)
	seconds := int(d%time.Minute) / int(time.Second)
	if hours > 0 {
		return fmt.Sprintf("%d:%02d:%02d", hours, minutes, seconds)
	}
	return fmt.Sprintf("%d:%02d", minutes, seconds)
}

func formatStamp(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	return t.Local().Format("2006-01-02 15:04")
}

func shortFingerprint(fp string) string {
	fp = strings.TrimSpace(fp)
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}
