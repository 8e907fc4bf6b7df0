// Package config defines the configuration model for datadict runs.
//
// A configuration is assembled once, before ingestion starts, from (in
// increasing precedence) built-in defaults, an optional config file (JSON,
// YAML or TOML), DATADICT_* environment variables and command-line flags.
// It is immutable afterwards.
//
// Example (YAML):
//
//	job: sales-2024
//	input:
//	  path: /data/sales.zip
//	  delimiter: ";"
//	columns:
//	  first: 12
//	  ignored: [1, 8]        # 1-based, as printed to operators
//	storage:
//	  kind: sqlite
//	  output: /data/dict
//	runtime:
//	  flush_rows: 50000
//	  relay_capacity: 8
//	  commit_every: 16
package config

import (
	"path/filepath"
	"strings"
)

// Defaults applied when a value is not configured.
const (
	DefaultDelimiter     = ";"
	DefaultSidecar       = "columns.csv"
	DefaultStorageKind   = "sqlite"
	DefaultFlushRows     = 50_000
	DefaultRelayCapacity = 8
	DefaultCommitEvery   = 16
	DefaultDateLayout    = "02.01.2006"
	DefaultMinYear       = 2022
)

// Config is the top-level configuration object.
type Config struct {
	// Job names the run for logs and metrics.
	Job string `mapstructure:"job" json:"job" yaml:"job"`

	Input   Input   `mapstructure:"input" json:"input" yaml:"input"`
	Columns Columns `mapstructure:"columns" json:"columns" yaml:"columns"`
	Storage Storage `mapstructure:"storage" json:"storage" yaml:"storage"`
	Runtime Runtime `mapstructure:"runtime" json:"runtime" yaml:"runtime"`
	Metrics Metrics `mapstructure:"metrics" json:"metrics" yaml:"metrics"`
	Log     Log     `mapstructure:"log" json:"log" yaml:"log"`
	Encode  Encode  `mapstructure:"encode" json:"encode" yaml:"encode"`
}

// Input locates the shards.
type Input struct {
	// Path is a .zip archive, a single .csv (optionally .gz/.zst) file, or a
	// directory of such files.
	Path string `mapstructure:"path" json:"path" yaml:"path"`

	// Delimiter separates fields. Single characters use the CSV reader; longer
	// strings use a plain line splitter.
	Delimiter string `mapstructure:"delimiter" json:"delimiter" yaml:"delimiter"`

	// Sidecar is the file (or archive entry) name that supplies column names.
	Sidecar string `mapstructure:"sidecar" json:"sidecar" yaml:"sidecar"`

	// TrimSpace trims surrounding whitespace from every value before it is
	// recorded.
	TrimSpace bool `mapstructure:"trim_space" json:"trim_space" yaml:"trim_space"`
}

// Columns selects the tracked columns. Exactly one of Indices, First or
// FromSidecar should be set.
type Columns struct {
	// Indices lists 1-based column numbers.
	Indices []int `mapstructure:"indices" json:"indices,omitempty" yaml:"indices,omitempty"`

	// First tracks columns 1..First.
	First int `mapstructure:"first" json:"first,omitempty" yaml:"first,omitempty"`

	// FromSidecar tracks every column named by the sidecar.
	FromSidecar bool `mapstructure:"from_sidecar" json:"from_sidecar,omitempty" yaml:"from_sidecar,omitempty"`

	// Ignored lists 1-based column numbers excluded from tracking.
	Ignored []int `mapstructure:"ignored" json:"ignored,omitempty" yaml:"ignored,omitempty"`
}

// Storage selects the dictionary store backend.
type Storage struct {
	// Kind is one of sqlite, bolt, postgres, mysql, mssql.
	Kind string `mapstructure:"kind" json:"kind" yaml:"kind"`

	// DSN is passed to the backend. For sqlite and bolt it may be left empty,
	// in which case a file under Output is used.
	DSN string `mapstructure:"dsn" json:"dsn,omitempty" yaml:"dsn,omitempty"`

	// Output is the directory for file-based stores and exports.
	Output string `mapstructure:"output" json:"output" yaml:"output"`
}

// Runtime tunes memory and commit cadence.
type Runtime struct {
	// FlushRows is the number of rows the producer accumulates per shard
	// before emitting batches.
	FlushRows int `mapstructure:"flush_rows" json:"flush_rows" yaml:"flush_rows"`

	// RelayCapacity is the number of batches the relay buffers.
	RelayCapacity int `mapstructure:"relay_capacity" json:"relay_capacity" yaml:"relay_capacity"`

	// CommitEvery is the number of batches per transaction epoch.
	CommitEvery int `mapstructure:"commit_every" json:"commit_every" yaml:"commit_every"`
}

// Metrics selects an optional metrics backend.
type Metrics struct {
	Backend        string `mapstructure:"backend" json:"backend" yaml:"backend"`
	PushgatewayURL string `mapstructure:"pushgateway_url" json:"pushgateway_url,omitempty" yaml:"pushgateway_url,omitempty"`
	DatadogAddr    string `mapstructure:"datadog_addr" json:"datadog_addr,omitempty" yaml:"datadog_addr,omitempty"`
}

// Log configures the logger.
type Log struct {
	Level  string `mapstructure:"level" json:"level" yaml:"level"`
	Format string `mapstructure:"format" json:"format" yaml:"format"`
}

// Encode configures the encode command.
type Encode struct {
	// Columns lists 1-based column numbers replaced by dictionary ids. Empty
	// means every tracked column.
	Columns []int `mapstructure:"columns" json:"columns,omitempty" yaml:"columns,omitempty"`

	// DateColumn is the 1-based column expanded into calendar features; 0
	// disables the expansion.
	DateColumn int    `mapstructure:"date_column" json:"date_column,omitempty" yaml:"date_column,omitempty"`
	DateLayout string `mapstructure:"date_layout" json:"date_layout" yaml:"date_layout"`
	MinYear    int    `mapstructure:"min_year" json:"min_year" yaml:"min_year"`

	// Holidays are fixed month-day dates ("MM-DD").
	Holidays []string `mapstructure:"holidays" json:"holidays,omitempty" yaml:"holidays,omitempty"`

	NormalizeNumbers bool `mapstructure:"normalize_numbers" json:"normalize_numbers" yaml:"normalize_numbers"`

	// Output is the directory that receives EncodedData.zip.
	Output string `mapstructure:"output" json:"output" yaml:"output"`

	// Rejects is an optional file listing dropped records and their reason.
	Rejects string `mapstructure:"rejects" json:"rejects,omitempty" yaml:"rejects,omitempty"`
}

// DefaultHolidays are the fixed public holidays of the original dataset.
var DefaultHolidays = []string{"01-01", "04-23", "05-01", "05-19", "07-15", "08-30", "10-29"}

// StoreDSN resolves the DSN handed to the storage backend.
func (c Config) StoreDSN() string {
	if strings.TrimSpace(c.Storage.DSN) != "" {
		return c.Storage.DSN
	}
	switch strings.ToLower(c.Storage.Kind) {
	case "sqlite":
		return filepath.Join(c.Storage.Output, "dataDictionary.db")
	case "bolt":
		return filepath.Join(c.Storage.Output, "dataDictionary.bolt")
	}
	return ""
}

// withDefaults fills zero values.
func (c Config) withDefaults() Config {
	if c.Job == "" {
		c.Job = "datadict"
	}
	if c.Input.Delimiter == "" {
		c.Input.Delimiter = DefaultDelimiter
	}
	if c.Input.Sidecar == "" {
		c.Input.Sidecar = DefaultSidecar
	}
	if c.Storage.Kind == "" {
		c.Storage.Kind = DefaultStorageKind
	}
	if c.Storage.Output == "" {
		c.Storage.Output = "."
	}
	if c.Runtime.FlushRows == 0 {
		c.Runtime.FlushRows = DefaultFlushRows
	}
	if c.Runtime.RelayCapacity == 0 {
		c.Runtime.RelayCapacity = DefaultRelayCapacity
	}
	if c.Runtime.CommitEvery == 0 {
		c.Runtime.CommitEvery = DefaultCommitEvery
	}
	if c.Metrics.Backend == "" {
		c.Metrics.Backend = "none"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if c.Encode.DateLayout == "" {
		c.Encode.DateLayout = DefaultDateLayout
	}
	if c.Encode.MinYear == 0 {
		c.Encode.MinYear = DefaultMinYear
	}
	if c.Encode.Holidays == nil {
		c.Encode.Holidays = append([]string(nil), DefaultHolidays...)
	}
	if c.Encode.Output == "" {
		c.Encode.Output = c.Storage.Output
	}
	return c
}
