package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/kanari-network/kanarinode/internal/nodeconfig"
	"github.com/kanari-network/kanarinode/pkg/utils"
)

// exitFailedToStart is spec.md §6's reserved "failed to start, human
// intervention required" exit code.
const exitFailedToStart = 120

var (
	flagNetwork   string
	flagDataDir   string
	flagConfigDir string
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "kanarinode",
		Short: "kanari L2 node",
	}
	root.PersistentFlags().StringVar(&flagNetwork, "network", "local", "network name (local|dev|test|main|<id>)")
	root.PersistentFlags().StringVar(&flagDataDir, "data-dir", "", "chain data directory override")
	root.PersistentFlags().StringVar(&flagConfigDir, "config-dir", "", "directory holding <network>.yaml config files")

	root.AddCommand(newServerCmd())
	root.AddCommand(newDACmd())
	root.AddCommand(newDIDCmd())
	root.AddCommand(newTxCmd())
	return root
}

// loadConfig applies the persistent flags as overrides on top of
// nodeconfig's normal env/file/default layers, per spec.md §6's
// precedence (explicit > env > default > absent); the CLI flag is the
// "explicit" layer.
func loadConfig() (*nodeconfig.Config, error) {
	configDir := flagConfigDir
	if configDir == "" {
		configDir = utils.EnvOrDefault("KANARINODE_CONFIG_DIR", "./config")
	}
	overrides := map[string]string{}
	if flagDataDir != "" {
		overrides["store.path"] = flagDataDir
	}
	cfg, err := nodeconfig.Load(configDir, flagNetwork, overrides)
	if err != nil {
		return nil, err
	}
	if lvl, err := logrus.ParseLevel(cfg.Logging.Level); err == nil {
		logrus.SetLevel(lvl)
	}
	return cfg, nil
}
