package config

import (
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of environment overrides, e.g. DATADICT_RUNTIME_FLUSH_ROWS.
const EnvPrefix = "DATADICT"

// FlagKeys maps command-line flag names to configuration keys. Flags not in
// the map are ignored by Load.
var FlagKeys = map[string]string{
	"job":            "job",
	"input":          "input.path",
	"delimiter":      "input.delimiter",
	"sidecar":        "input.sidecar",
	"trim-space":     "input.trim_space",
	"columns":        "columns.indices",
	"first":          "columns.first",
	"from-sidecar":   "columns.from_sidecar",
	"ignore":         "columns.ignored",
	"store":          "storage.kind",
	"dsn":            "storage.dsn",
	"output":         "storage.output",
	"flush-rows":     "runtime.flush_rows",
	"relay-capacity": "runtime.relay_capacity",
	"commit-every":   "runtime.commit_every",
	"metrics":        "metrics.backend",
	"pushgateway":    "metrics.pushgateway_url",
	"datadog-addr":   "metrics.datadog_addr",
	"log-level":      "log.level",
	"log-format":     "log.format",

	"encode-columns":    "encode.columns",
	"date-column":       "encode.date_column",
	"date-layout":       "encode.date_layout",
	"min-year":          "encode.min_year",
	"holidays":          "encode.holidays",
	"normalize-numbers": "encode.normalize_numbers",
	"encode-output":     "encode.output",
	"rejects":           "encode.rejects",
}

// NewViper returns a viper instance with datadict defaults and environment
// binding applied.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("job", "datadict")
	v.SetDefault("input.path", "")
	v.SetDefault("input.delimiter", DefaultDelimiter)
	v.SetDefault("input.sidecar", DefaultSidecar)
	v.SetDefault("input.trim_space", false)
	v.SetDefault("columns.indices", []int{})
	v.SetDefault("columns.first", 0)
	v.SetDefault("columns.from_sidecar", false)
	v.SetDefault("columns.ignored", []int{})
	v.SetDefault("storage.kind", DefaultStorageKind)
	v.SetDefault("storage.dsn", "")
	v.SetDefault("storage.output", ".")
	v.SetDefault("runtime.flush_rows", DefaultFlushRows)
	v.SetDefault("runtime.relay_capacity", DefaultRelayCapacity)
	v.SetDefault("runtime.commit_every", DefaultCommitEvery)
	v.SetDefault("metrics.backend", "none")
	v.SetDefault("metrics.pushgateway_url", "")
	v.SetDefault("metrics.datadog_addr", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("encode.columns", []int{})
	v.SetDefault("encode.date_column", 0)
	v.SetDefault("encode.date_layout", DefaultDateLayout)
	v.SetDefault("encode.min_year", DefaultMinYear)
	v.SetDefault("encode.holidays", DefaultHolidays)
	v.SetDefault("encode.normalize_numbers", true)
	v.SetDefault("encode.output", "")
	v.SetDefault("encode.rejects", "")
	return v
}

// Load assembles a Config from defaults, the optional file at path, the
// environment and any changed flags in fs. fs may be nil.
func Load(path string, fs *pflag.FlagSet) (Config, error) {
	v := NewViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, errors.Wrapf(err, "read config %s", path)
		}
	}
	if fs != nil {
		for name, key := range FlagKeys {
			f := fs.Lookup(name)
			if f == nil || !f.Changed {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return Config{}, errors.Wrapf(err, "bind flag --%s", name)
			}
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "decode config")
	}
	return cfg.withDefaults(), nil
}

// LoadFile reads a config file without environment or flag overrides.
func LoadFile(path string) (Config, error) {
	if _, err := os.Stat(path); err != nil {
		return Config{}, errors.Wrap(err, "stat config")
	}
	return Load(path, nil)
}

// MarshalYAML renders cfg as YAML for `config show`.
func MarshalYAML(cfg Config) ([]byte, error) {
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "marshal config")
	}
	return b, nil
}
