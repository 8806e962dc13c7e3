package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"shopping-assistant/internal/chat"
	"shopping-assistant/internal/models"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	chatSession string

	chatCmd = &cobra.Command{
		Use:   "chat [text...]",
		Short: "Send a message and print the streamed reply",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runChat,
	}
)

func init() {
	chatCmd.Flags().StringVar(&chatSession, "session", "", "post to a server-side session instead of a one-off chat")
}

func runChat(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	text := strings.Join(args, " ")
	out := cmd.OutOrStdout()
	printer := func(e chat.Event) { printEvent(out, e) }

	if chatSession != "" {
		err = client.SendMessage(ctx, chatSession, text, printer)
	} else {
		msg := models.Message{
			ID:        uuid.New().String(),
			Role:      models.RoleUser,
			Parts:     []models.Part{{Type: models.PartTypeText, Text: text}},
			CreatedAt: time.Now(),
		}
		err = client.Chat(ctx, []models.Message{msg}, printer)
	}
	fmt.Fprintln(out)
	return err
}

func printEvent(out io.Writer, e chat.Event) {
	switch e.Type {
	case chat.EventTextDelta:
		fmt.Fprint(out, e.Delta)
	case chat.EventToolInputAvailable:
		fmt.Fprintf(out, "\n[%s] %s\n", e.ToolName, e.Input)
	case chat.EventToolOutput:
		if e.Preliminary {
			fmt.Fprintf(out, "[%s] working...\n", e.ToolCallID)
			return
		}
		fmt.Fprintf(out, "[%s] %s\n", e.ToolCallID, e.Output)
	case chat.EventToolOutputError:
		fmt.Fprintf(out, "[%s] error: %s\n", e.ToolCallID, e.ErrorText)
	case chat.EventError:
		fmt.Fprintf(out, "\nerror: %s\n", e.ErrorText)
	}
}
