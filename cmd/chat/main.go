package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/pagemark-io/pagemark/internal/models"
	"github.com/pagemark-io/pagemark/internal/streamclient"
	"github.com/pagemark-io/pagemark/internal/tui"
)

var (
	serverURL      string
	token          string
	email          string
	password       string
	documentID     string
	plainOutput    bool
	revealInterval time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "pagemark-chat",
	Short: "Chat with an ingested document from the terminal",
	Long: `Opens a terminal chat over a document ingested into a pagemark server.
Answers stream in live, cite numbered excerpts, and link the cited page
images. Authenticate with --token or with --email and --password.`,
	RunE:         runChat,
	SilenceUsage: true,
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&serverURL, "server", envOr("PAGEMARK_SERVER", "http://localhost:8888"), "pagemark server base URL")
	flags.StringVar(&token, "token", os.Getenv("PAGEMARK_TOKEN"), "bearer token")
	flags.StringVar(&email, "email", "", "account email, used with --password when no token is given")
	flags.StringVar(&password, "password", "", "account password")
	flags.StringVarP(&documentID, "document", "d", "", "document id to chat over")
	flags.BoolVar(&plainOutput, "plain", false, "print deltas as they arrive instead of the smooth reveal")
	flags.DurationVar(&revealInterval, "reveal-interval", streamclient.DefaultRevealInterval, "delay between revealed characters")
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	client, err := streamclient.NewClient(serverURL, streamclient.WithToken(token))
	if err != nil {
		return err
	}

	if token == "" {
		if email == "" || password == "" {
			return errors.New("authenticate with --token or with --email and --password")
		}
		if _, err := client.Login(ctx, email, password); err != nil {
			return fmt.Errorf("login failed: %w", err)
		}
	}

	doc, err := resolveDocument(ctx, client)
	if err != nil {
		return err
	}
	if doc.Status != models.StatusReady {
		fmt.Fprintf(os.Stderr, "note: document %q is %s, answers may be empty until ingestion finishes\n", doc.Name, doc.Status)
	}

	model := tui.New(tui.Options{
		Client:         client,
		DocumentID:     doc.ID,
		DocumentName:   doc.Name,
		SmoothReveal:   !plainOutput,
		RevealInterval: revealInterval,
	})

	p := tea.NewProgram(model, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("chat UI error: %w", err)
	}
	return nil
}

// resolveDocument uses --document when given, falls back to the account's
// only document, and otherwise lists the choices.
func resolveDocument(ctx context.Context, client *streamclient.Client) (*models.Document, error) {
	if documentID != "" {
		doc, err := client.GetDocument(ctx, documentID)
		if err != nil {
			return nil, fmt.Errorf("document %s: %w", documentID, err)
		}
		return doc, nil
	}

	docs, err := client.ListDocuments(ctx)
	if err != nil {
		return nil, err
	}
	switch len(docs) {
	case 0:
		return nil, errors.New("no documents uploaded yet")
	case 1:
		return &docs[0], nil
	default:
		fmt.Println("Pick a document with --document:")
		for _, d := range docs {
			fmt.Printf("  %s  %-12s %s\n", d.ID, d.Status, d.Name)
		}
		return nil, errors.New("multiple documents available")
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
