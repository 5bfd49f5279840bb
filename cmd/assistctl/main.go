// Package main implements assistctl, a CLI for the assistd HTTP API.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	httpserver "github.com/fyrsmithlabs/assistd/internal/http"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// client holds the flags shared by every command.
type client struct {
	serverURL string
	tenant    string
	timeout   time.Duration
}

func newRootCmd() *cobra.Command {
	c := &client{}

	root := &cobra.Command{
		Use:   "assistctl",
		Short: "CLI for assistd HTTP server operations",
		Long: `assistctl is a command-line interface for the assistd HTTP server.
It asks questions, ingests documents, synthesizes system prompts and
regenerates tenant FAQs.`,
		Version:      version,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&c.serverURL, "server", "http://localhost:9191", "assistd server URL")
	root.PersistentFlags().StringVarP(&c.tenant, "tenant", "t", os.Getenv("ASSISTD_TENANT"), "tenant identifier (default $ASSISTD_TENANT)")
	root.PersistentFlags().DurationVar(&c.timeout, "timeout", 2*time.Minute, "request timeout")

	root.AddCommand(
		newHealthCmd(c),
		newAskCmd(c),
		newIngestCmd(c),
		newPromptCmd(c),
		newFAQCmd(c),
		newDocumentCmd(c),
		newChatCmd(c),
	)
	return root
}

func newHealthCmd(c *client) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check assistd server health",
		Long: `Check the health status of the assistd HTTP server.

Examples:
  # Check health
  assistctl health

  # Check health on a different server
  assistctl health --server http://localhost:8080`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var resp httpserver.HealthResponse
			if err := c.do(http.MethodGet, "/health", nil, &resp); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Server Status: %s\n", resp.Status)
			fmt.Fprintf(cmd.OutOrStdout(), "Server URL: %s\n", c.serverURL)
			return nil
		},
	}
}

// tenantPath returns the API path for the selected tenant.
func (c *client) tenantPath(suffix string) (string, error) {
	if c.tenant == "" {
		return "", fmt.Errorf("tenant is required: pass --tenant or set ASSISTD_TENANT")
	}
	return "/api/v1/tenants/" + c.tenant + suffix, nil
}

// do sends body as JSON and decodes a JSON reply into out. out may be nil.
func (c *client) do(method, path string, body, out any) error {
	return c.doContext(context.Background(), method, path, body, out)
}

func (c *client) doContext(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	url := strings.TrimRight(c.serverURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	httpClient := &http.Client{Timeout: c.timeout}
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return fmt.Errorf("server returned status %d (failed to read response body: %w)", resp.StatusCode, readErr)
		}
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
