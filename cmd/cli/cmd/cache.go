package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// cacheCmd groups maintenance of the persistent index cache.
var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or clear the persistent index cache",
}

var cacheInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show where the index cache lives and how many entries it holds",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := openIndexService(cfg, logger, false)
		if err != nil {
			return err
		}
		defer svc.Close()

		n, err := svc.cache.Entries(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "enabled:   %v\n", cfg.Cache.Enabled)
		fmt.Fprintf(out, "catalog:   %s\n", cfg.Database.Type)
		fmt.Fprintf(out, "storage:   %s\n", cfg.Storage.Type)
		fmt.Fprintf(out, "entries:   %d (max %d)\n", n, cfg.Cache.MaxEntries)
		fmt.Fprintf(out, "max age:   %v\n", cfg.Cache.MaxAge)
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every cached index",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := openIndexService(cfg, logger, false)
		if err != nil {
			return err
		}
		defer svc.Close()

		n, err := svc.cache.Clear(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "removed %d cached indexes\n", n)
		return nil
	},
}

var cacheInvalidateCmd = &cobra.Command{
	Use:   "invalidate <file>...",
	Short: "Remove the cached index of each file",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := openIndexService(cfg, logger, false)
		if err != nil {
			return err
		}
		defer svc.Close()

		for _, path := range args {
			if err := svc.cache.Invalidate(cmd.Context(), path); err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "invalidated %d files\n", len(args))
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cacheInfoCmd, cacheClearCmd, cacheInvalidateCmd)
	rootCmd.AddCommand(cacheCmd)
}
