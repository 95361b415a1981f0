// Package main is the entry point for the convertctl CLI, a client for the
// conversion relay.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/maauso/convert-relay/internal/relayclient"
)

// version is set at build time via ldflags.
var version = "dev"

// rootCmd is the base command for the convertctl CLI.
var rootCmd = &cobra.Command{
	Use:   "convertctl",
	Short: "Command-line client for the conversion relay",
	Long: `convertctl uploads files to a running conversion relay and saves the
converted results. The server address and timeout can be set with flags,
CONVERTCTL_* environment variables, or a convertctl.yaml config file.`,
	SilenceUsage: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default: convertctl.yaml in . or ~/.config/convertctl)")
	rootCmd.PersistentFlags().String("server", "http://localhost:3000", "relay base URL")
	rootCmd.PersistentFlags().Duration("timeout", 5*time.Minute, "request timeout")

	_ = viper.BindPFlag("server", rootCmd.PersistentFlags().Lookup("server"))
	_ = viper.BindPFlag("timeout", rootCmd.PersistentFlags().Lookup("timeout"))
}

func initConfig() {
	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("convertctl")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "convertctl"))
		}
	}

	viper.SetEnvPrefix("CONVERTCTL")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// newClient builds a relay client from the resolved flags, env and config.
func newClient() *relayclient.Client {
	return relayclient.New(relayclient.Config{
		BaseURL: viper.GetString("server"),
		Timeout: viper.GetDuration("timeout"),
	})
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
