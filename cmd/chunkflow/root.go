package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "chunkflow",
	Short: "Chunked, flow-controlled byte stream transfer engine",
	Long: `chunkflow moves byte streams between a client and a server over an
unreliable message transport using a windowed chunk protocol with
retransmission.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setupConfig()
	},
	SilenceUsage: true,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "config file (default: ./chunkflow.yaml)")
	flags.String("log-level", "info", "log level (trace, debug, info, warn, error)")
	flags.Uint32("pending-bytes", 8192, "receive window size in bytes")
	flags.Uint32("chunk-size", 512, "maximum data chunk payload in bytes")
	flags.Duration("chunk-timeout", 0, "per-chunk retry timeout (0: engine default)")

	for _, name := range []string{"config", "log-level", "pending-bytes", "chunk-size", "chunk-timeout"} {
		if err := viper.BindPFlag(name, flags.Lookup(name)); err != nil {
			logrus.WithError(err).Fatalf("failed to bind flag %s", name)
		}
	}

	rootCmd.AddCommand(copyCmd)
}

// setupConfig wires viper to the optional config file and applies the
// logging settings before any command runs.
func setupConfig() error {
	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("chunkflow")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
	}
	viper.SetEnvPrefix("CHUNKFLOW")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return err
		}
	} else {
		logrus.WithField("config", viper.ConfigFileUsed()).Debug("Loaded configuration file")
	}

	level, err := logrus.ParseLevel(viper.GetString("log-level"))
	if err != nil {
		return err
	}
	logrus.SetLevel(level)
	return nil
}
