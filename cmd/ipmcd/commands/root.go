// Package commands implements the ipmcd command-line surface,
// grounded on the teacher pack's root-command-plus-persistent-flags
// idiom (dittofs' cmd/dittofs/commands/root.go).
package commands

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// Persistent flags, bound through viper so IPMCD_-prefixed
	// environment variables can override them without a config file.
	cfgFile     string
	ipmbAddress string
	logLevel    string
	v           = viper.New()
)

var rootCmd = &cobra.Command{
	Use:   "ipmcd",
	Short: "IPMC core daemon",
	Long: `ipmcd is the shelf-management controller for a single managed FRU
carrier: it answers IPMI requests over IPMB, sequences Management-Zone
power, tracks the PICMG hot-swap lifecycle, and refreshes threshold
sensors from on-board ADC channels.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
}

// Execute runs the root command. Called once from main.main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to the YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&ipmbAddress, "ipmb-address", "", "override this core's IPMB slave address (hex, e.g. 0x72)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level")

	v.SetEnvPrefix("IPMCD")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	_ = v.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = v.BindPFlag("ipmb-address", rootCmd.PersistentFlags().Lookup("ipmb-address"))
	_ = v.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
}
