package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Minuteapp/Minute-HR-WARP-Official-sub049/internal/edge"
)

var statusAddr string

func init() {
	statusCmd.Flags().StringVar(&statusAddr, "addr", "", "base URL of a running edge (default http://localhost:<server.port>)")
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Ask a running edge for its lifecycle and offline status",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		base := statusAddr
		if base == "" {
			base = fmt.Sprintf("http://localhost:%d", cfg.Server.Port)
		}
		base = strings.TrimRight(base, "/") + cfg.Server.ControlPrefix

		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
		defer cancel()
		client := &http.Client{}

		var health struct {
			State       string `json:"state"`
			Controlling bool   `json:"controlling"`
		}
		if err := getJSON(ctx, client, http.MethodGet, base+"/healthz", "", &health); err != nil {
			return err
		}
		var st edge.OfflineStatus
		msg := fmt.Sprintf(`{"type":%q}`, edge.MessageGetOfflineStatus)
		if err := getJSON(ctx, client, http.MethodPost, base+"/messages", msg, &st); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "State:       %s\n", health.State)
		fmt.Fprintf(out, "Controlling: %v\n", health.Controlling)
		fmt.Fprintf(out, "Online:      %v\n", st.IsOnline)
		fmt.Fprintf(out, "Queued:      %v\n", st.HasQueuedRequests)
		return nil
	},
}

func getJSON(ctx context.Context, client *http.Client, method, url, body string, v any) error {
	req, err := http.NewRequestWithContext(ctx, method, url, strings.NewReader(body))
	if err != nil {
		return err
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	res, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, url, err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("%s %s: unexpected status %d", method, url, res.StatusCode)
	}
	return json.NewDecoder(res.Body).Decode(v)
}
