package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "EAGERLOAD"

// Load builds the Config. Later sources win over earlier ones:
//
//	defaults < eagerload.yaml < EAGERLOAD_* env < flags < file-backed secrets
//
// File-backed secrets are the DSN file, my.cnf, password file and prompt.
func Load() (*Config, error) {
	defineFlags()
	if !pflag.Parsed() {
		pflag.Parse()
	}

	v := viper.New()
	setDefaults(v)
	path, _ := pflag.CommandLine.GetString("config")
	if err := readConfigFile(v, path); err != nil {
		return nil, err
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	bindChangedFlagsToViper(v, pflag.CommandLine)

	if err := resolveDatabaseSources(v, databaseNameExplicitlyConfigured(v)); err != nil {
		return nil, err
	}

	cfg := new(Config)
	if err := v.UnmarshalExact(cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}

// readConfigFile reads path when given. Otherwise eagerload.yaml is searched
// for in /etc/eagerload, ~/.eagerload and the working directory, and its
// absence is not an error.
func readConfigFile(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file %q: %w", path, err)
		}
		return nil
	}

	v.SetConfigName("eagerload")
	v.SetConfigType("yaml")
	for _, dir := range []string{"/etc/eagerload/", "$HOME/.eagerload", "."} {
		v.AddConfigPath(dir)
	}
	var notFound viper.ConfigFileNotFoundError
	if err := v.ReadInConfig(); err != nil && !errors.As(err, &notFound) {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

func decodeHook() viper.DecoderConfigOption {
	return viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		stringToStringSliceHookFunc(","),
	))
}

var stringSliceType = reflect.TypeOf([]string(nil))

// stringToStringSliceHookFunc splits a string bound for a []string field,
// which is how list settings arrive from env vars. Parts are trimmed and an
// empty string yields an empty list.
func stringToStringSliceHookFunc(sep string) mapstructure.DecodeHookFunc {
	return func(from, to reflect.Type, data any) (any, error) {
		s, ok := data.(string)
		if !ok || from.Kind() != reflect.String || to != stringSliceType {
			return data, nil
		}
		fields := strings.Split(s, sep)
		out := make([]string, 0, len(fields))
		for _, f := range fields {
			if f = strings.TrimSpace(f); f != "" {
				out = append(out, f)
			}
		}
		return out, nil
	}
}
