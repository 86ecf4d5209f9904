package cmd

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
	"go.uber.org/zap"

	"github.com/satriahrh/persona-chat/config"
	"github.com/satriahrh/persona-chat/utils/log"
)

var (
	cfgFile string
	v       *viper.Viper
	cfg     config.Config
)

var rootCmd = &cobra.Command{
	Use:   "persona-chat",
	Short: "Chat with AI personas by text or voice",
	Long: `persona-chat serves persona conversations over HTTP and WebSocket.

Each persona keeps one conversation per day, stored locally. Replies come
from Gemini; speech uses Google Cloud Speech-to-Text and Text-to-Speech.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/persona-chat/config.toml)")
	rootCmd.PersistentFlags().Bool("debug", false, "Enable development logging")
	rootCmd.PersistentFlags().String("persona-db", "", "Path of the persona database")
}

func loadConfig(cmd *cobra.Command, _ []string) error {
	// A missing .env is fine.
	_ = gotenv.Load()

	var err error
	v, err = config.New(cfgFile)
	if err != nil {
		return err
	}
	bindFlag(cmd, config.KeyDebug, "debug")
	bindFlag(cmd, config.KeyPersonaDBPath, "persona-db")
	bindFlag(cmd, config.KeyHTTPAddr, "addr")

	cfg, err = config.Load(v)
	if err != nil {
		return err
	}

	if cfg.Debug {
		if l, err := zap.NewDevelopment(); err == nil {
			log.SetLogger(l)
		}
	}
	return nil
}

// bindFlag lets an explicitly set flag override the config key.
func bindFlag(cmd *cobra.Command, key, flag string) {
	if f := cmd.Flags().Lookup(flag); f != nil {
		_ = v.BindPFlag(key, f)
	}
}
