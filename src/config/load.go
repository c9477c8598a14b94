package config

import (
	"github.com/mosaicnetworks/murmur/src/messaging"
	"github.com/spf13/viper"
)

// ReadFile reads the configuration file at path over the default values.
func ReadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	conf := NewDefaultConfig()
	if err := Unmarshal(v, conf); err != nil {
		return nil, err
	}
	conf.ConfigFile = path

	return conf, nil
}

// Unmarshal decodes the settings of v over conf. Lists set in v replace the
// default lists instead of being merged element by element.
func Unmarshal(v *viper.Viper, conf *Config) error {
	if v.IsSet("net.inbound") {
		conf.Net.Inbound = nil
	}
	if v.IsSet("net.allowed_transports") {
		conf.Net.AllowedTransports = nil
	}
	return v.Unmarshal(conf)
}

// ReloadTables reads the messaging keys from the configuration file again.
// Nothing else is reloaded at runtime. With no configuration file, the
// current tables are rebuilt from c.
func (c *Config) ReloadTables() (*messaging.Tables, error) {
	if c.ConfigFile == "" {
		return c.MessagingTables()
	}

	fresh, err := ReadFile(c.ConfigFile)
	if err != nil {
		return nil, err
	}

	if err := fresh.validateKeys(); err != nil {
		return nil, err
	}

	c.DMChachaSecret = fresh.DMChachaSecret
	c.Channels = fresh.Channels
	c.Contacts = fresh.Contacts

	return c.MessagingTables()
}
