package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/LanfordCai/allnads/internal/stream"
)

var chatSessionID string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with your AllNads companion",
	Long:  "Start an interactive terminal chat session. Tool calls and results are shown inline as the agent works.",
	RunE:  runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatSessionID, "session", "cli", "session id to resume or create")
}

var (
	youStyle       = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	assistantStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	toolStyle      = lipgloss.NewStyle().Faint(true).Foreground(lipgloss.Color("39"))
	errStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

// consoleSink renders conversation events to the terminal as they arrive.
type consoleSink struct{}

func (consoleSink) Emit(event stream.Event) {
	switch event.Type {
	case stream.EventToolCalling:
		fmt.Println(toolStyle.Render(fmt.Sprintf("  ⚙ calling %s %s", event.Tool, string(event.Args))))
	case stream.EventToolResult:
		fmt.Println(toolStyle.Render(fmt.Sprintf("  ✓ %s done", event.Tool)))
	case stream.EventToolError:
		fmt.Println(errStyle.Render(fmt.Sprintf("  ✗ %s: %s", event.Tool, event.Message)))
	case stream.EventAssistantMessage:
		fmt.Println(assistantStyle.Render("AllNads: " + event.Text))
	case stream.EventError:
		fmt.Println(errStyle.Render("Error: " + event.Message))
	}
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc, err := buildServices(ctx, true)
	if err != nil {
		return err
	}
	defer svc.close()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\nGoodbye!")
		cancel()
	}()

	tools := svc.manager.ListAllTools()
	fmt.Printf("AllNads chat (session %q, %d tools available)\n", chatSessionID, len(tools))
	fmt.Println("Type 'exit' or 'quit' to leave. Type '/clear' to reset history, '/tools' to list tools.")
	fmt.Println()

	scanner := bufio.NewScanner(os.Stdin)
	sink := consoleSink{}

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		fmt.Print(youStyle.Render("You: "))
		if !scanner.Scan() {
			break
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}

		switch strings.ToLower(input) {
		case "exit", "quit":
			fmt.Println("Goodbye!")
			return nil
		case "/clear":
			if err := svc.store.Clear(chatSessionID); err != nil {
				fmt.Println(errStyle.Render("Failed to clear history: " + err.Error()))
				continue
			}
			fmt.Println("Conversation history cleared.")
			continue
		case "/tools":
			for _, qt := range svc.manager.ListAllTools() {
				fmt.Println(toolStyle.Render("  " + qt.QualifiedName() + " - " + qt.Tool.Description))
			}
			continue
		}

		if err := svc.loop.Run(ctx, chatSessionID, input, sink); err != nil {
			svc.logger.Error("conversation failed", "error", err)
		}
		fmt.Println()
	}

	return scanner.Err()
}
