package cmd

import (
	"context"
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var (
	serverIDStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	serverReadyStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	serverDownStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	serverMetaStyle  = lipgloss.NewStyle().Faint(true)
)

var serversCmd = &cobra.Command{
	Use:   "servers",
	Short: "Show configured tool servers",
	Long:  "Connect to each configured tool server and show its state and advertised tools.",
	RunE:  runServers,
}

func runServers(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	svc, err := buildServices(ctx, false)
	if err != nil {
		return err
	}
	defer svc.close()

	if len(svc.cfg.ToolServers) == 0 {
		fmt.Println("No tool servers configured.")
		fmt.Printf("Add entries under \"toolServers\" in your config file.\n")
		return nil
	}

	for _, entry := range svc.cfg.ToolServers {
		state, registered := svc.manager.ServerState(entry.ID)

		fmt.Print(serverIDStyle.Render(entry.ID))
		if entry.Description != "" {
			fmt.Print(serverMetaStyle.Render("  " + entry.Description))
		}
		fmt.Println()

		endpoint := entry.URL
		if entry.Transport == "stdio" {
			endpoint = entry.Command
		}
		fmt.Println(serverMetaStyle.Render(fmt.Sprintf("  %s %s", entry.Transport, endpoint)))

		if !registered {
			fmt.Println(serverDownStyle.Render("  state: unreachable"))
			fmt.Println()
			continue
		}

		fmt.Println(serverReadyStyle.Render("  state: " + state))
		for _, tool := range svc.manager.ListTools(entry.ID) {
			fmt.Println(serverMetaStyle.Render("    " + tool.Name + " - " + tool.Description))
		}
		fmt.Println()
	}

	return nil
}

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the flattened tool catalogue",
	Long:  "Connect to every configured tool server and list all tools under their qualified names.",
	RunE:  runTools,
}

func runTools(cmd *cobra.Command, args []string) error {
	svc, err := buildServices(context.Background(), false)
	if err != nil {
		return err
	}
	defer svc.close()

	all := svc.manager.ListAllTools()
	if len(all) == 0 {
		fmt.Println("No tools available.")
		return nil
	}

	for _, qt := range all {
		fmt.Println(serverIDStyle.Render(qt.QualifiedName()))
		if qt.Tool.Description != "" {
			fmt.Println(serverMetaStyle.Render("  " + qt.Tool.Description))
		}
	}
	return nil
}
