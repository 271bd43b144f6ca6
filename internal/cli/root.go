// Package cli wires the chainoftrust commands.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/youruser/chainoftrust/internal/config"
	"github.com/youruser/chainoftrust/internal/log"
)

var version = "dev"

// SetVersion sets the version string shown by --version.
func SetVersion(v string) {
	version = v
}

// skipConfig marks commands that must run without loading a config file.
const skipConfig = "skip-config"

type options struct {
	configPath string
	cfg        config.Config
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "chainoftrust",
		Short: "Chain of Trust registration service",
		Long: `Registers lab subjects, renders their identification cards and mails
them out. Run "serve" for the HTTP API or use the other commands to operate
on cards and the user database directly.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if _, ok := cmd.Annotations[skipConfig]; ok {
				return nil
			}
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			log.SetMinLevel(log.ParseLevel(cfg.Log.Level))
			log.Debug(log.CatConfig, "configuration loaded", "environment", cfg.Environment)
			opts.cfg = cfg
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "",
		"config file (default: ./config.yaml or .chainoftrust/config.yaml)")

	root.AddCommand(
		newServeCmd(opts),
		newRenderCmd(opts),
		newUsersCmd(opts),
		newDBCmd(opts),
		newConfigCmd(),
	)
	return root
}

// Execute runs the root command with args.
func Execute(args []string) error {
	root := NewRootCmd()
	root.SetArgs(args)
	return root.Execute()
}
