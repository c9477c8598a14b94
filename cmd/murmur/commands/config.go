package commands

import (
	"github.com/mosaicnetworks/murmur/src/config"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// loadConfig builds the configuration of a command: defaults, overridden by
// [datadir]/murmur.toml, overridden by the flags that were set.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	v, err := bindFlagsLoadViper(cmd)
	if err != nil {
		return nil, err
	}

	conf := config.NewDefaultConfig()
	conf.ConfigFile = v.ConfigFileUsed()

	if err := config.Unmarshal(v, conf); err != nil {
		return nil, err
	}

	if err := conf.Validate(); err != nil {
		return nil, err
	}

	flags := []string{}
	cmd.Flags().Visit(func(f *pflag.Flag) {
		flags = append(flags, f.Name)
	})

	conf.Logger().WithFields(logrus.Fields{
		"flags":           flags,
		"datadir":         conf.DataDir,
		"config_file":     conf.ConfigFile,
		"log":             conf.LogLevel,
		"nick":            conf.Nick,
		"rpc_listen":      conf.RPCListen,
		"datastore":       conf.DatastorePath(),
		"replay_mode":     conf.ReplayMode,
		"sync_attempts":   conf.SyncAttempts,
		"sync_timeout":    conf.SyncTimeout,
		"sync_limit":      conf.SyncLimit,
		"resync_interval": conf.ResyncInterval,
		"net.inbound":     conf.Net.Inbound,
		"net.outbound":    conf.Net.OutboundConnections,
		"net.transports":  conf.Net.AllowedTransports,
		"net.seeds":       len(conf.Net.Seeds),
		"net.peers":       len(conf.Net.Peers),
		"channels":        len(conf.Channels),
		"contacts":        len(conf.Contacts),
	}).Debug("Config")

	return conf, nil
}

// Bind all flags and read the config into viper
func bindFlagsLoadViper(cmd *cobra.Command) (*viper.Viper, error) {
	v := viper.New()

	// Register flags with viper. Include flags from this command and all other
	// persistent flags from the parent
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, err
	}

	datadir := v.GetString("datadir")

	// look for config file in [datadir]/murmur.toml (.json, .yaml also work)
	v.SetConfigName(config.DefaultConfigName)
	v.AddConfigPath(datadir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	return v, nil
}
