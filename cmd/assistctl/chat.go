package main

import (
	"context"
	"net/http"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/assistd/internal/chat"
	httpserver "github.com/fyrsmithlabs/assistd/internal/http"
	"github.com/fyrsmithlabs/assistd/internal/rag"
)

func newChatCmd(c *client) *cobra.Command {
	var systemPrompt string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive conversation with the tenant's assistant",
		Long: `Start an interactive conversation. Earlier turns are sent with every
question so follow-ups are answered in context.

Examples:
  assistctl chat -t acme`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := c.tenantPath(""); err != nil {
				return err
			}
			model := chat.New(&httpAsker{client: c, systemPrompt: systemPrompt}, c.tenant, c.timeout)
			p := tea.NewProgram(model,
				tea.WithContext(cmd.Context()),
				tea.WithInput(cmd.InOrStdin()),
				tea.WithOutput(cmd.OutOrStdout()),
				tea.WithAltScreen())
			_, err := p.Run()
			return err
		},
	}
	cmd.Flags().StringVar(&systemPrompt, "system-prompt", "", "system prompt override")
	return cmd
}

// httpAsker sends chat questions to the answer endpoint.
type httpAsker struct {
	client       *client
	systemPrompt string
}

func (a *httpAsker) Ask(ctx context.Context, query string, history []rag.Turn) (chat.Reply, error) {
	path, err := a.client.tenantPath("/answer")
	if err != nil {
		return chat.Reply{}, err
	}
	var resp httpserver.AnswerResponse
	err = a.client.doContext(ctx, http.MethodPost, path, httpserver.AnswerRequest{
		Query:        query,
		History:      history,
		SystemPrompt: a.systemPrompt,
	}, &resp)
	if err != nil {
		return chat.Reply{}, err
	}
	return chat.Reply{Text: resp.Answer, Source: resp.Source, Score: resp.Score}, nil
}
