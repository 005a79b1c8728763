package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Minuteapp/Minute-HR-WARP-Official-sub049/internal/queue"
)

var showKeys bool

func init() {
	queueCmd.AddCommand(queueLsCmd)
	cacheLsCmd.Flags().BoolVar(&showKeys, "keys", false, "list the keys of every generation")
	cacheCmd.AddCommand(cacheLsCmd)
	rootCmd.AddCommand(queueCmd, cacheCmd)
}

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect the offline queue",
}

var queueLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List queued requests (the edge must be stopped)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		caches, store, err := openStores(cfg)
		if err != nil {
			return err
		}
		defer caches.Close()
		defer store.Close()

		list, err := queue.New(store).List(cmd.Context())
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tMETHOD\tURL\tQUEUED\tRETRIES\tNEXT RETRY")
		for _, q := range list {
			next := "-"
			if q.NextRetry != nil {
				next = q.NextRetry.Format(time.RFC3339)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
				q.ID, q.Method, q.URL, q.Timestamp.Format(time.RFC3339), q.RetryCount, next)
		}
		return w.Flush()
	},
}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect cache generations",
}

var cacheLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List cache generations (the edge must be stopped)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		caches, store, err := openStores(cfg)
		if err != nil {
			return err
		}
		defer caches.Close()
		defer store.Close()

		names, err := caches.Names()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, name := range names {
			marker := ""
			if name == cfg.CacheName() {
				marker = " (current)"
			}
			cache, err := caches.Open(name)
			if err != nil {
				return err
			}
			keys, err := cache.Keys()
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s%s: %d entries\n", name, marker, len(keys))
			if showKeys {
				for _, k := range keys {
					fmt.Fprintf(out, "  %s\n", k)
				}
			}
		}
		return nil
	},
}
