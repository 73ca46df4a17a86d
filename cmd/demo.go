package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/neuroweave/internal/demo"
	"github.com/nextlevelbuilder/neuroweave/internal/gateway"
	"github.com/nextlevelbuilder/neuroweave/pkg/client"
)

func demoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run the demo agents that write to and read from the Core",
	}
	cmd.AddCommand(demoChatCmd())
	cmd.AddCommand(demoCalendarCmd())
	return cmd
}

func demoChatCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Run AgentA.Chat (POST /demo/create, POST /demo/delete)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			if port == 0 {
				port = cfg.Demo.ChatPort
			}
			core := client.New(cfg.Demo.CoreURL, client.WithAgentID(demo.ChatAgentID))
			agent := demo.NewChatAgent(core)

			fmt.Printf("Agent A (Chat) on http://localhost:%d\n", port)
			fmt.Println("POST /demo/create to create a memory")
			return runDemoServer(port, agent.Handler())
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (default demo.chat_port)")
	return cmd
}

func demoCalendarCmd() *cobra.Command {
	var (
		port      int
		subscribe bool
	)
	cmd := &cobra.Command{
		Use:   "calendar",
		Short: "Run AgentB.Calendar (GET /suggestions, POST /revoke)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			if port == 0 {
				port = cfg.Demo.CalendarPort
			}
			core := client.New(cfg.Demo.CoreURL, client.WithAgentID(demo.CalendarAgentID))
			agent := demo.NewCalendarAgent(core)

			if subscribe {
				callback := fmt.Sprintf("http://localhost:%d/revoke", port)
				if err := core.Subscribe(cmd.Context(), demo.CalendarAgentID, callback); err != nil {
					slog.Warn("demo.calendar.subscribe_failed", "error", formatCoreError(err))
				} else {
					slog.Info("demo.calendar.subscribed", "callback", callback)
				}
			}

			fmt.Printf("Agent B (Calendar) on http://localhost:%d\n", port)
			fmt.Println("GET /suggestions to fetch cross-agent memory suggestions")
			return runDemoServer(port, agent.Handler())
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (default demo.calendar_port)")
	cmd.Flags().BoolVar(&subscribe, "subscribe", true, "register /revoke as this agent's callback on startup")
	return cmd
}

func runDemoServer(port int, h http.Handler) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	srv := gateway.NewServer(gateway.Options{Host: "0.0.0.0", Port: port}, h)
	return srv.Start(ctx)
}
