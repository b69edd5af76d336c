package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/philonis/neo/internal/logging"
	"github.com/philonis/neo/internal/server"
)

var (
	serveQuiet        bool
	serveResetPairing bool
)

// ServeCmd starts the local HTTP gateway.
func ServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the local HTTP/WebSocket gateway",
		Long: `Start the local gateway so web and mobile clients can talk to Neo.

The server binds to localhost only. On first start it prints a one-time
pairing code; clients exchange it via POST /api/pair for a bearer token.`,
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
	cmd.Flags().BoolVar(&serveQuiet, "quiet", false, "suppress request logging")
	cmd.Flags().BoolVar(&serveResetPairing, "reset-pairing", false, "generate a new pairing code")
	return cmd
}

func runServe() {
	d, err := buildAgent(appConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "\033[31mError: %v\033[0m\n", err)
		os.Exit(1)
	}
	defer d.Close()

	if _, err := d.providers.Default(); err != nil {
		logging.Warnf("[Server] no LLM provider configured; chat requests will fail until one is added")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	d.watchSkills(ctx)
	if err := d.schedule.Start(); err != nil {
		logging.Warnf("[Server] scheduler not started: %v", err)
	}

	srv, err := server.New(appConfig, server.Deps{
		Runner:   d.runner,
		Tools:    d.registry,
		Loader:   d.runner.SkillLoader(),
		Manager:  d.manager,
		Guard:    d.guard,
		Memory:   d.mem,
		Audit:    d.audit,
		Settings: d.settings,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "\033[31mError: %v\033[0m\n", err)
		os.Exit(1)
	}

	if err := srv.Run(ctx, server.Options{Quiet: serveQuiet, ResetPairing: serveResetPairing}); err != nil {
		fmt.Fprintf(os.Stderr, "\033[31mError: %v\033[0m\n", err)
		os.Exit(1)
	}
}
