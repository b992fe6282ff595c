package cli

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/omochice/drocsid-chat/internal/config"
	"github.com/omochice/drocsid-chat/internal/server"
)

// NewServerCommand returns the root command of the chat server.
func NewServerCommand() *cobra.Command {
	v := config.New()
	var configFile string

	cmd := &cobra.Command{
		Use:           "drocsid-server",
		Short:         "DROCSID group chat server",
		Long:          "drocsid-server serves the DROCSID line protocol to raw TCP and WebSocket clients on a single port.",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: false,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			return config.BindFlags(v, cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(v, configFile)
			if err != nil {
				return err
			}
			return runServer(cmd, cfg)
		},
	}

	f := cmd.Flags()
	f.StringVar(&configFile, "config", "", "config file (yaml, toml or json)")
	f.StringP("listen", "l", "127.0.0.1:8888", "address to listen on for TCP and WebSocket clients")
	f.Duration("probe-interval", 15*time.Second, "probe clients idle this long")
	f.Duration("idle-timeout", 60*time.Second, "drop clients idle this long")
	f.String("log-level", "info", "log level: debug, info, warn or error")

	cmd.AddCommand(newVersionCmd())
	return cmd
}

func runServer(cmd *cobra.Command, cfg config.Config) error {
	logger, err := newLogger(cmd.ErrOrStderr(), cfg.LogLevel)
	if err != nil {
		return err
	}

	srv := server.New(cfg.Server.Listen, cfg.ServerOptions(logger))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start()
	}()

	select {
	case err := <-errChan:
		return err
	case <-srv.Ready():
	}
	fmt.Fprintf(cmd.OutOrStdout(), "listening on %s\n", srv.Addr())

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		logger.Info("shutting down")
		srv.Stop()
	}

	if err := <-errChan; !errors.Is(err, server.ErrServerStopped) {
		return err
	}
	return nil
}
