package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/yolodolo42/safesign/internal/config"
	"github.com/yolodolo42/safesign/internal/logging"
)

var (
	cfgFile string
	cfg     *config.Config
	logger  = zap.NewNop()

	rootCmd = &cobra.Command{
		Use:   "safesign",
		Short: "Sign typed-data messages as a wallet or through its Safe accounts",
		Long: `safesign connects a local wallet, looks up the Safe multi-signature
accounts it owns, and signs an EIP-712 message either directly as the
wallet or as a Safe owner.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: initConfig,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = logger.Sync()
		},
	}
)

// Execute runs the root command; Ctrl+C cancels the command context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.safesign/config.yaml)")
	flags.String("chain", "", "chain to use (default gnosis)")
	flags.String("rpc-url", "", "override the chain's RPC endpoint")
	flags.String("data-dir", "", "directory holding config and keystore (default $HOME/.safesign)")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	flags.String("log-format", "", "log format: console or json")

	bind := map[string]string{
		"chain":      "chain",
		"rpc-url":    "rpc_url",
		"data-dir":   "data_dir",
		"log-level":  "log.level",
		"log-format": "log.format",
	}
	for flag, key := range bind {
		_ = viper.BindPFlag(key, flags.Lookup(flag))
	}
}

func initConfig(cmd *cobra.Command, args []string) error {
	if err := config.LoadDotEnv(); err != nil {
		return err
	}

	loaded, err := config.Load(viper.GetViper(), cfgFile)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(loaded.DataDir, 0700); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not create data directory: %v\n", err)
	}

	l, err := logging.New(loaded.Log.Level, loaded.Log.Format)
	if err != nil {
		return err
	}

	cfg = loaded
	logger = l
	logger.Debug("config loaded",
		zap.String("chain", cfg.Chain),
		zap.String("data_dir", cfg.DataDir),
		zap.String("config_file", viper.ConfigFileUsed()),
	)
	return nil
}

func isInteractive() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}
