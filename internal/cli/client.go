package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/omochice/drocsid-chat/internal/client"
	"github.com/omochice/drocsid-chat/internal/config"
	"github.com/omochice/drocsid-chat/internal/display"
	"github.com/omochice/drocsid-chat/internal/menu"
)

// ErrConnectionLost is returned when the server goes away mid-session.
var ErrConnectionLost = errors.New("connection to server lost")

type clientFlags struct {
	configFile string
	user       string
	noColor    bool
}

// NewClientCommand returns the root command of the chat client.
func NewClientCommand() *cobra.Command {
	v := config.New()
	flags := &clientFlags{}

	cmd := &cobra.Command{
		Use:           "drocsid",
		Short:         "Interactive DROCSID group chat client",
		Long:          "drocsid connects to a DROCSID chat server over TCP or WebSocket, keeps the connection alive and shows server traffic while you pick commands from a menu.",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: false,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			return config.BindFlags(v, cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(v, flags.configFile)
			if err != nil {
				return err
			}
			return runClient(cmd, cfg, flags)
		},
	}

	f := cmd.Flags()
	f.StringVar(&flags.configFile, "config", "", "config file (yaml, toml or json)")
	f.StringVarP(&flags.user, "user", "u", "", "log in with this name right after connecting")
	f.BoolVar(&flags.noColor, "no-color", false, "disable colored output")
	f.String("host", "127.0.0.1", "server host")
	f.IntP("port", "p", 8888, "server port")
	f.String("network", client.NetworkTCP, "transport: tcp or ws")
	f.String("ws-path", client.DefaultWSPath, "WebSocket endpoint path")
	f.Duration("keepalive-period", client.DefaultKeepalivePeriod, "how often to check for idleness")
	f.Duration("keepalive-idle", client.DefaultIdleThreshold, "idle time before a heartbeat is sent")
	f.Duration("dial-timeout", client.DefaultDialTimeout, "connect timeout")
	f.String("log-level", "info", "log level: debug, info, warn or error")

	cmd.AddCommand(newVersionCmd())
	return cmd
}

func runClient(cmd *cobra.Command, cfg config.Config, flags *clientFlags) error {
	logger, err := newLogger(cmd.ErrOrStderr(), cfg.LogLevel)
	if err != nil {
		return err
	}

	out := &syncWriter{w: cmd.OutOrStdout()}
	var sinkOpts []display.TerminalOption
	if flags.noColor {
		sinkOpts = append(sinkOpts, display.WithoutColor())
	}
	sink := display.NewTerminal(out, sinkOpts...)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := client.Dial(ctx, cfg.ClientOptions(logger), sink)
	if err != nil {
		return err
	}
	defer func() {
		if err := c.Close(); err != nil {
			logger.Warn("failed to close connection", "error", err)
		}
	}()

	if flags.user != "" {
		if err := c.Login(flags.user); err != nil {
			return err
		}
	}

	menuCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	m := menu.New(c, cmd.InOrStdin(), out)
	menuDone := make(chan error, 1)
	go func() {
		menuDone <- m.Run(menuCtx)
	}()

	select {
	case err := <-menuDone:
		return err
	case <-c.Disconnected():
		cancel()
		<-menuDone
		return ErrConnectionLost
	case <-ctx.Done():
		<-menuDone
		logger.Info("interrupted, closing connection")
		return nil
	}
}
