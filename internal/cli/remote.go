package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

const defaultServerURL = "http://localhost:3011"

// getJSON fetches path from a running server and decodes the response.
func getJSON(ctx context.Context, server, path string, query url.Values, out any) error {
	u, err := url.Parse(strings.TrimRight(server, "/") + path)
	if err != nil {
		return fmt.Errorf("invalid server url: %w", err)
	}
	u.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	resp, err := (&http.Client{Timeout: 30 * time.Second}).Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return fmt.Errorf("server returned %s: %s", resp.Status, e.Error)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func newMetricsCmd() *cobra.Command {
	var server string
	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Show cache and cost metrics of a running server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var v metricsView
			if err := getJSON(cmd.Context(), server, "/v1/metrics", nil, &v); err != nil {
				return err
			}
			renderMetrics(cmd.OutOrStdout(), v)
			return nil
		},
	}
	cmd.Flags().StringVar(&server, "server", defaultServerURL, "base URL of the retail-insights server")
	return cmd
}

func newAlertsCmd() *cobra.Command {
	var (
		server     string
		maxCost    float64
		maxLatency time.Duration
	)
	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "Check a running server's recent queries against cost and latency thresholds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			if maxCost > 0 {
				q.Set("max_cost", strconv.FormatFloat(maxCost, 'f', -1, 64))
			}
			if maxLatency > 0 {
				q.Set("max_latency", strconv.FormatFloat(maxLatency.Seconds(), 'f', -1, 64))
			}
			var out struct {
				Alerts []string `json:"alerts"`
			}
			if err := getJSON(cmd.Context(), server, "/v1/alerts", q, &out); err != nil {
				return err
			}
			renderAlerts(cmd.OutOrStdout(), out.Alerts)
			return nil
		},
	}
	cmd.Flags().StringVar(&server, "server", defaultServerURL, "base URL of the retail-insights server")
	cmd.Flags().Float64Var(&maxCost, "max-cost", 0, "cost threshold in dollars (default 100)")
	cmd.Flags().DurationVar(&maxLatency, "max-latency", 0, "latency threshold (default 10s)")
	return cmd
}
