package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/zeusync/treesync/internal/injector"
	"github.com/zeusync/treesync/internal/server"
	"github.com/zeusync/treesync/internal/transport"
)

type hubOpts struct {
	state       string
	listen      []string
	stopTimeout time.Duration
}

var hubOpt hubOpts

var hubCmd = &cobra.Command{
	Use:   "hub",
	Short: "Run the authoritative hub",
	Example: `
treesync hub --listen websocket=127.0.0.1:8080 --listen quic=127.0.0.1:8443
treesync hub -c treesync.yaml --state board.yaml
`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if hubOpt.state != "" {
			cfg.Hub.InitialState = hubOpt.state
		}
		if len(hubOpt.listen) > 0 {
			listeners, err := parseListeners(hubOpt.listen)
			if err != nil {
				return err
			}
			cfg.Hub.Listeners = listeners
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		srv, cleanup, err := injector.InitializeHub(cfg)
		if err != nil {
			return err
		}
		defer cleanup()

		ctx, cancel := signalContext(cmd.Context())
		defer cancel()
		if err := srv.Start(ctx); err != nil {
			return err
		}
		<-ctx.Done()

		stopCtx, stop := context.WithTimeout(context.Background(), hubOpt.stopTimeout)
		defer stop()
		return srv.Stop(stopCtx)
	},
}

func init() {
	hubCmd.Flags().StringVar(&hubOpt.state, "state", "", "JSON or YAML file with the initial tree")
	hubCmd.Flags().StringSliceVarP(&hubOpt.listen, "listen", "l", nil, "listener as transport=addr, repeatable")
	hubCmd.Flags().DurationVar(&hubOpt.stopTimeout, "stop-timeout", 10*time.Second, "time allowed for a graceful stop")
	rootCmd.AddCommand(hubCmd)
}

// parseListeners turns transport=addr pairs into listener configs. A bare
// address means websocket.
func parseListeners(args []string) ([]server.ListenerConfig, error) {
	listeners := make([]server.ListenerConfig, 0, len(args))
	for _, arg := range args {
		kind, addr, found := strings.Cut(arg, "=")
		if !found {
			kind, addr = string(transport.KindWebsocket), arg
		}
		if !transport.Kind(kind).Valid() {
			return nil, fmt.Errorf("listener %q: %w: %s", arg, transport.ErrUnknownTransport, kind)
		}
		listeners = append(listeners, server.ListenerConfig{Transport: transport.Kind(kind), Addr: addr})
	}
	return listeners, nil
}
