package main

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	httpserver "github.com/fyrsmithlabs/assistd/internal/http"
)

func newAskCmd(c *client) *cobra.Command {
	var systemPrompt string

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask the tenant's assistant a question",
		Long: `Ask a question. The answer comes from the tenant FAQ when a close match
exists, otherwise from the ingested knowledge base.

Examples:
  assistctl ask -t acme "When are you open?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := c.tenantPath("/answer")
			if err != nil {
				return err
			}
			var resp httpserver.AnswerResponse
			err = c.do(http.MethodPost, path, httpserver.AnswerRequest{
				Query:        strings.Join(args, " "),
				SystemPrompt: systemPrompt,
			}, &resp)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp.Answer)
			fmt.Fprintf(cmd.ErrOrStderr(), "[assistctl] source=%s score=%.3f\n", resp.Source, resp.Score)
			return nil
		},
	}
	cmd.Flags().StringVar(&systemPrompt, "system-prompt", "", "system prompt override")
	return cmd
}

func newIngestCmd(c *client) *cobra.Command {
	var documentID, pageURL string

	cmd := &cobra.Command{
		Use:   "ingest <file|->",
		Short: "Add a document to the tenant's knowledge base",
		Long: `Ingest a text file or stdin. The document id defaults to the file's base name.

Examples:
  # Ingest a file
  assistctl ingest -t acme handbook.md

  # Ingest fetched page text from stdin
  curl -s https://acme.test/about | html2text | assistctl ingest -t acme --url https://acme.test/about -`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := c.tenantPath("/ingest")
			if err != nil {
				return err
			}

			var content []byte
			if args[0] == "-" {
				content, err = io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("failed to read from stdin: %w", err)
				}
			} else {
				content, err = os.ReadFile(args[0])
				if err != nil {
					return fmt.Errorf("failed to read file %s: %w", args[0], err)
				}
				if documentID == "" {
					documentID = filepath.Base(args[0])
				}
			}
			if documentID == "" && pageURL == "" {
				return fmt.Errorf("--id or --url is required when reading stdin")
			}

			var resp httpserver.IngestResponse
			err = c.do(http.MethodPost, path, httpserver.IngestRequest{
				DocumentID: documentID,
				Text:       string(content),
				URL:        pageURL,
			}, &resp)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Ingest %s: %d chunks\n", resp.Status, resp.Chunks)
			return nil
		},
	}
	cmd.Flags().StringVar(&documentID, "id", "", "document id")
	cmd.Flags().StringVar(&pageURL, "url", "", "source URL; marks the text as a fetched page")
	return cmd
}

func newPromptCmd(c *client) *cobra.Command {
	var personas []string

	cmd := &cobra.Command{
		Use:   "prompt",
		Short: "Synthesize the tenant's system prompt",
		Long: `Synthesize a system prompt from audience personas, or from discovered site
content when no personas are given.

Examples:
  assistctl prompt -t acme --persona "small business owners" --persona developers`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := c.tenantPath("/prompt")
			if err != nil {
				return err
			}
			var resp httpserver.PromptResponse
			if err := c.do(http.MethodPost, path, httpserver.PromptRequest{Personas: personas}, &resp); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp.Prompt)
			fmt.Fprintf(cmd.ErrOrStderr(), "[assistctl] strategy=%s cached=%t\n", resp.Strategy, resp.Cached)
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&personas, "persona", nil, "audience persona (repeatable)")
	return cmd
}

func newFAQCmd(c *client) *cobra.Command {
	faq := &cobra.Command{
		Use:   "faq",
		Short: "Manage the tenant FAQ",
	}

	var priority string
	generate := &cobra.Command{
		Use:   "generate",
		Short: "Regenerate the tenant FAQ from its knowledge base",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := c.tenantPath("/faq/generate")
			if err != nil {
				return err
			}
			var resp httpserver.GenerateFAQResponse
			if err := c.do(http.MethodPost, path, httpserver.GenerateFAQRequest{Priority: priority}, &resp); err != nil {
				return err
			}
			for _, e := range resp.Entries {
				fmt.Fprintf(cmd.OutOrStdout(), "Q: %s\nA: %s\n\n", strings.Join(e.Questions, " | "), e.Answer)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "[assistctl] generated %d entries\n", len(resp.Entries))
			return nil
		},
	}
	generate.Flags().StringVar(&priority, "priority", "", "information the FAQ must cover first")

	faq.AddCommand(generate)
	return faq
}

func newDocumentCmd(c *client) *cobra.Command {
	doc := &cobra.Command{
		Use:   "document",
		Short: "Read or delete ingested documents",
	}

	doc.AddCommand(&cobra.Command{
		Use:   "get <id>",
		Short: "Print a document's text",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := c.tenantPath("/documents/" + url.PathEscape(args[0]))
			if err != nil {
				return err
			}
			var resp httpserver.DocumentResponse
			if err := c.do(http.MethodGet, path, nil, &resp); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp.Text)
			return nil
		},
	}, &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := c.tenantPath("/documents/" + url.PathEscape(args[0]))
			if err != nil {
				return err
			}
			if err := c.do(http.MethodDelete, path, nil, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
			return nil
		},
	})
	return doc
}
