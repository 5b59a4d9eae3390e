package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/LanfordCai/allnads/internal/gateway"
)

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Start the WebSocket gateway",
	Long:  "Start the HTTP gateway that serves streaming conversations over WebSocket and a REST API for managing tool servers.",
	RunE:  runGateway,
}

func runGateway(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc, err := buildServices(ctx, true)
	if err != nil {
		return err
	}
	defer svc.close()

	srv := gateway.NewServer(gateway.Config{
		Host:       svc.cfg.Gateway.Host,
		Port:       svc.cfg.Gateway.Port,
		Manager:    svc.manager,
		Dispatcher: svc.dispatcher,
		Loop:       svc.loop,
		Store:      svc.store,
		Logger:     svc.logger,
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")
		cancel()
	}()

	fmt.Printf("AllNads gateway on ws://%s/ws (provider: %s)\n", srv.Addr(), svc.provider.Name())
	return srv.Start(ctx)
}
