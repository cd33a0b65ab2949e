// Package commands implements the nat64ctl CLI commands.
package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	// httpClient issues requests against the nat64d control API.
	httpClient *http.Client

	// baseURL is the nat64d control API base URL, e.g. "http://localhost:8853".
	baseURL string

	// serverAddr is the daemon address (host:port) for the control API.
	serverAddr string

	// outputFormat controls the output format for all commands (table or json).
	outputFormat string
)

// clientTimeout bounds a single control API round trip.
const clientTimeout = 5 * time.Second

// rootCmd is the top-level cobra command for nat64ctl.
var rootCmd = &cobra.Command{
	Use:   "nat64ctl",
	Short: "CLI client for the nat64d daemon",
	Long:  "nat64ctl communicates with the nat64d daemon's JSON/HTTP control API to inspect and manage pool addresses, bindings, and sessions.",
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		httpClient = &http.Client{Timeout: clientTimeout}
		baseURL = "http://" + serverAddr
		return nil
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverAddr, "addr", "localhost:8853",
		"nat64d daemon control API address (host:port)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table",
		"output format: table, json")

	rootCmd.AddCommand(poolCmd())
	rootCmd.AddCommand(bibCmd())
	rootCmd.AddCommand(sessionCmd())
	rootCmd.AddCommand(versionCmd())
}

// Execute runs the root command and exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// -------------------------------------------------------------------------
// HTTP helpers
// -------------------------------------------------------------------------

// apiError mirrors server.errorResponse for decoding failed control API
// responses.
type apiError struct {
	Error string `json:"error"`
}

// doRequest issues an HTTP request against the control API and decodes a
// JSON response body into out (when non-nil and the response has a body).
func doRequest(ctx context.Context, method, path string, body any, out any) error {
	var reqBody io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr apiError
		if decErr := json.NewDecoder(resp.Body).Decode(&apiErr); decErr == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: %s (status %d)", method, path, apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
