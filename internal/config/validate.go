package config

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError indicates a configuration error that should block execution.
	SeverityError IssueSeverity = "error"
	// SeverityWarning indicates a finding that is surfaced but does not block.
	SeverityWarning IssueSeverity = "warning"
)

// Issue describes a single validation finding.
//
// Path is a dotted path into the config (e.g. "storage.kind",
// "columns.ignored[2]"). Message is human-readable.
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

// Error implements the error interface so an Issue can be treated as a single
// error in contexts that expect error.
func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// HasErrors reports whether any issue has SeverityError.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

var storageKinds = map[string]bool{
	"sqlite":   true,
	"bolt":     true,
	"postgres": true,
	"mysql":    true,
	"mssql":    true,
}

var monthDay = regexp.MustCompile(`^(0[1-9]|1[0-2])-(0[1-9]|[12][0-9]|3[01])$`)

// Validate performs static validation of cfg. It does not mutate cfg.
// Callers decide whether warnings are fatal.
func Validate(cfg Config) []Issue {
	var issues []Issue

	if strings.TrimSpace(cfg.Job) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "job",
			Message:  "job must not be empty; it labels logs and metrics",
		})
	}
	issues = append(issues, validateInput(cfg.Input)...)
	issues = append(issues, validateColumns(cfg.Columns)...)
	issues = append(issues, validateStorage(cfg.Storage)...)
	issues = append(issues, validateRuntime(cfg.Runtime)...)
	issues = append(issues, validateMetrics(cfg.Metrics)...)
	issues = append(issues, validateLog(cfg.Log)...)
	issues = append(issues, validateEncode(cfg.Encode)...)
	return issues
}

func validateInput(in Input) []Issue {
	var issues []Issue
	if strings.TrimSpace(in.Path) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "input.path",
			Message:  "input.path is required",
		})
	}
	switch {
	case in.Delimiter == "":
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "input.delimiter",
			Message:  "delimiter must not be empty",
		})
	case !utf8.ValidString(in.Delimiter):
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "input.delimiter",
			Message:  "delimiter must be valid UTF-8",
		})
	case strings.ContainsAny(in.Delimiter, "\r\n"):
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "input.delimiter",
			Message:  "delimiter must not contain line breaks",
		})
	case utf8.RuneCountInString(in.Delimiter) == 1 && in.Delimiter == `"`:
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "input.delimiter",
			Message:  "delimiter must not be the quote character",
		})
	case utf8.RuneCountInString(in.Delimiter) > 1:
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "input.delimiter",
			Message:  "multi-character delimiter disables quoted-field handling",
		})
	}
	if strings.TrimSpace(in.Sidecar) == "" {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "input.sidecar",
			Message:  "no sidecar name configured; column names will be omitted",
		})
	}
	return issues
}

func validateColumns(c Columns) []Issue {
	var issues []Issue

	modes := 0
	if len(c.Indices) > 0 {
		modes++
	}
	if c.First > 0 {
		modes++
	}
	if c.FromSidecar {
		modes++
	}
	switch {
	case modes == 0:
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "columns",
			Message:  "one of columns.indices, columns.first or columns.from_sidecar is required",
		})
	case modes > 1:
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "columns",
			Message:  "columns.indices, columns.first and columns.from_sidecar are mutually exclusive",
		})
	}
	if c.First < 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "columns.first",
			Message:  "first must be >= 0",
		})
	}

	seen := map[int]bool{}
	for i, n := range c.Indices {
		path := fmt.Sprintf("columns.indices[%d]", i)
		if n < 1 {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     path,
				Message:  "column numbers are 1-based and must be >= 1",
			})
			continue
		}
		if seen[n] {
			issues = append(issues, Issue{
				Severity: SeverityWarning,
				Path:     path,
				Message:  fmt.Sprintf("column %d listed more than once", n),
			})
		}
		seen[n] = true
	}
	for i, n := range c.Ignored {
		if n < 1 {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     fmt.Sprintf("columns.ignored[%d]", i),
				Message:  "ignored column numbers are 1-based and must be >= 1",
			})
		}
	}
	return issues
}

func validateStorage(s Storage) []Issue {
	var issues []Issue
	kind := strings.ToLower(strings.TrimSpace(s.Kind))
	if !storageKinds[kind] {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "storage.kind",
			Message:  fmt.Sprintf("unsupported storage kind %q (want sqlite, bolt, postgres, mysql or mssql)", s.Kind),
		})
		return issues
	}
	switch kind {
	case "postgres", "mysql", "mssql":
		if strings.TrimSpace(s.DSN) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "storage.dsn",
				Message:  kind + " requires a DSN",
			})
		}
	default:
		if strings.TrimSpace(s.DSN) == "" && strings.TrimSpace(s.Output) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "storage.output",
				Message:  "output directory is required when dsn is empty",
			})
		}
	}
	return issues
}

func validateRuntime(r Runtime) []Issue {
	var issues []Issue
	if r.FlushRows <= 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "runtime.flush_rows",
			Message:  "flush_rows must be > 0",
		})
	}
	if r.RelayCapacity <= 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "runtime.relay_capacity",
			Message:  "relay_capacity must be > 0",
		})
	} else if r.RelayCapacity > 1024 {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "runtime.relay_capacity",
			Message:  "very large relay_capacity weakens the memory bound",
		})
	}
	if r.CommitEvery <= 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "runtime.commit_every",
			Message:  "commit_every must be > 0",
		})
	}
	return issues
}

func validateMetrics(m Metrics) []Issue {
	var issues []Issue
	switch strings.ToLower(m.Backend) {
	case "", "none":
	case "prom", "prometheus":
		if m.PushgatewayURL == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "metrics.pushgateway_url",
				Message:  "prometheus backend requires a pushgateway URL",
			})
		} else if u, err := url.Parse(m.PushgatewayURL); err != nil || u.Scheme == "" || u.Host == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "metrics.pushgateway_url",
				Message:  fmt.Sprintf("invalid pushgateway URL %q", m.PushgatewayURL),
			})
		}
	case "datadog", "dogstatsd":
		if m.DatadogAddr == "" {
			issues = append(issues, Issue{
				Severity: SeverityWarning,
				Path:     "metrics.datadog_addr",
				Message:  "empty datadog_addr; the client default agent address is used",
			})
		}
	default:
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "metrics.backend",
			Message:  fmt.Sprintf("unsupported metrics backend %q", m.Backend),
		})
	}
	return issues
}

func validateLog(l Log) []Issue {
	var issues []Issue
	switch strings.ToLower(l.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "log.level",
			Message:  fmt.Sprintf("unknown log level %q", l.Level),
		})
	}
	switch strings.ToLower(l.Format) {
	case "", "console", "json":
	default:
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "log.format",
			Message:  fmt.Sprintf("unknown log format %q (want console or json)", l.Format),
		})
	}
	return issues
}

func validateEncode(e Encode) []Issue {
	var issues []Issue
	for i, n := range e.Columns {
		if n < 1 {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     fmt.Sprintf("encode.columns[%d]", i),
				Message:  "column numbers are 1-based and must be >= 1",
			})
		}
	}
	if e.DateColumn < 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "encode.date_column",
			Message:  "date_column must be >= 0 (0 disables date features)",
		})
	}
	for i, h := range e.Holidays {
		if !monthDay.MatchString(h) {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     fmt.Sprintf("encode.holidays[%d]", i),
				Message:  fmt.Sprintf("holiday %q is not in MM-DD form", h),
			})
		}
	}
	return issues
}
