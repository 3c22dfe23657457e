package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/zeusync/treesync/internal/core/patch"
	"github.com/zeusync/treesync/internal/core/state"
	"github.com/zeusync/treesync/internal/core/tree"
	"github.com/zeusync/treesync/internal/injector"
	"github.com/zeusync/treesync/internal/transport"
)

type clientOpts struct {
	hub       string
	transport string
	sets      []string
	jsonPatch string
	quiet     bool
}

var clientOpt clientOpts

var clientCmd = &cobra.Command{
	Use:   "client",
	Short: "Connect to a hub and keep a local copy of its tree",
	Long: `client connects to a hub, prints every change to the local tree as
"keypath = value" and polls the hub until interrupted. Values given with
--set are written locally after the first connect, followed by the
operations of --json-patch.`,
	Example: `
treesync client --hub ws://127.0.0.1:8080/sync
treesync client --transport quic --hub 127.0.0.1:8443 --set players.0.name='"ada"'
treesync client --json-patch '[{"op":"remove","path":"/players/0"}]'
`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if clientOpt.hub != "" {
			cfg.Client.HubAddr = clientOpt.hub
		}
		if clientOpt.transport != "" {
			cfg.Client.Transport = transport.Kind(clientOpt.transport)
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		assignments, err := parseAssignments(clientOpt.sets)
		if err != nil {
			return err
		}
		ops, err := parseJSONPatch(clientOpt.jsonPatch)
		if err != nil {
			return err
		}

		c, cleanup, err := injector.InitializeClient(cfg)
		if err != nil {
			return err
		}
		defer cleanup()

		if !clientOpt.quiet {
			var mu sync.Mutex
			out := cmd.OutOrStdout()
			c.OnChange(func(keypath tree.Keypath, value, _ *tree.Value) {
				mu.Lock()
				defer mu.Unlock()
				if value == nil {
					fmt.Fprintf(out, "%s removed\n", keypath)
					return
				}
				fmt.Fprintf(out, "%s = %s\n", keypath, value)
			})
		}

		ctx, cancel := signalContext(cmd.Context())
		defer cancel()
		if err := c.Connect(ctx); err != nil {
			return err
		}
		var patchErr error
		c.Update(func(st *state.State) {
			for _, a := range assignments {
				st.Set(a.keypath, a.value)
			}
			if len(ops) > 0 {
				patchErr = st.ApplyJSONPatch(ops)
			}
		})
		if patchErr != nil {
			return fmt.Errorf("--json-patch: %w", patchErr)
		}

		err = c.Run(ctx)
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return nil
		}
		return err
	},
}

func init() {
	clientCmd.Flags().StringVar(&clientOpt.hub, "hub", "", "hub address, overrides client.hub_addr")
	clientCmd.Flags().StringVar(&clientOpt.transport, "transport", "", "websocket or quic, overrides client.transport")
	clientCmd.Flags().StringArrayVar(&clientOpt.sets, "set", nil, "keypath=json value to write after connecting, repeatable")
	clientCmd.Flags().StringVar(&clientOpt.jsonPatch, "json-patch", "", "JSON Patch (RFC 6902) document to apply after connecting")
	clientCmd.Flags().BoolVarP(&clientOpt.quiet, "quiet", "q", false, "do not print changes")
	rootCmd.AddCommand(clientCmd)
}

type assignment struct {
	keypath tree.Keypath
	value   *tree.Value
}

func parseAssignments(args []string) ([]assignment, error) {
	out := make([]assignment, 0, len(args))
	for _, arg := range args {
		path, raw, found := strings.Cut(arg, "=")
		if !found {
			return nil, fmt.Errorf("--set %q: want keypath=value", arg)
		}
		value, err := tree.ParseJSON([]byte(raw))
		if err != nil {
			return nil, fmt.Errorf("--set %q: %w", arg, err)
		}
		out = append(out, assignment{keypath: tree.ParseKeypath(path), value: value})
	}
	return out, nil
}

func parseJSONPatch(raw string) ([]patch.Operation, error) {
	if raw == "" {
		return nil, nil
	}
	var ops []patch.Operation
	if err := json.Unmarshal([]byte(raw), &ops); err != nil {
		return nil, fmt.Errorf("--json-patch: %w", err)
	}
	return ops, nil
}
