package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/neuroweave/internal/config"
	"github.com/nextlevelbuilder/neuroweave/pkg/client"
)

// addCoreFlags registers the flags shared by commands that talk to a running Core.
func addCoreFlags(cmd *cobra.Command) {
	cmd.Flags().String("core", "", "Core base URL (default demo.core_url from config)")
	cmd.Flags().String("as", "", "agent id sent as X-Agent-Id")
}

// coreClient builds a client from the --core/--as flags, falling back to config.
func coreClient(cmd *cobra.Command) (*client.Client, error) {
	url, _ := cmd.Flags().GetString("core")
	if url == "" {
		cfg, err := config.Load(resolveConfigPath())
		if err != nil {
			return nil, err
		}
		url = cfg.Demo.CoreURL
	}
	var opts []client.Option
	if as, _ := cmd.Flags().GetString("as"); as != "" {
		opts = append(opts, client.WithAgentID(as))
	}
	return client.New(url, opts...), nil
}

func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		return
	}
	fmt.Println(string(data))
}

// coreErr wraps a client error with a readable message.
func coreErr(err error) error {
	return errors.New(formatCoreError(err))
}
