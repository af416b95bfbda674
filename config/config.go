package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
)

// Output formats accepted by --format.
const (
	FormatJSONL = "jsonl"
	FormatYAML  = "yaml"
	FormatText  = "text"
)

// Config captures all command-line options required to run an extraction.
type Config struct {
	MboxPath           string
	IMAPHost           string
	IMAPPort           int
	IMAPUser           string
	IMAPPass           string
	UseTLS             bool
	InsecureSkipVerify bool
	Folder             string
	Limit              int
	Output             string
	Format             string
	Fragments          bool
	Workers            int
	StateDir           string
	DryRun             bool
	PatternsFile       string
	LogLevel           string
	LogDir             string
	IncludeHeader      []string
	IncludeBody        []string
	ExcludeHeader      []string
	ExcludeBody        []string
}

// UseIMAP reports whether messages are read from an IMAP folder instead of an mbox file.
func (c Config) UseIMAP() bool {
	return c.IMAPHost != ""
}

// RegisterFlags attaches all CLI flags to the provided command.
func RegisterFlags(cmd *cobra.Command) error {
	defaultStateDir, err := defaultStateDir()
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	flags.String("mbox", "", "Path to the .mbox file to read (mutually exclusive with --imap-host)")
	flags.String("imap-host", "", "IMAP server hostname to read from (mutually exclusive with --mbox)")
	flags.Int("imap-port", 993, "IMAP server port")
	flags.String("imap-user", "", "IMAP username")
	flags.String("imap-pass", "", "IMAP password (falls back to IMAP_PASS env var)")
	flags.Bool("use-tls", true, "Use TLS for the IMAP connection")
	flags.Bool("insecure-skip-verify", false, "Skip TLS certificate verification (not recommended)")
	flags.String("folder", "INBOX", "IMAP folder to read replies from")
	flags.Int("limit", 0, "Only read the newest N IMAP messages (0 reads all)")
	flags.StringP("output", "o", "-", "Output file, or - for stdout")
	flags.StringP("format", "f", FormatJSONL, "Output format: jsonl, yaml, text")
	flags.Bool("fragments", false, "Include every parsed fragment in the output")
	flags.Int("workers", runtime.NumCPU(), "Number of concurrent parse workers")
	flags.String("state-dir", defaultStateDir, "Directory for incremental extraction state files")
	flags.Bool("dry-run", false, "Parse and emit stats without writing output or state")
	AddPatternsFlag(cmd)
	flags.String("log-level", "info", "Logging level: debug, info, warn, error")
	flags.String("log-dir", "", "Directory for log files (empty disables file logging)")
	flags.StringArray("include-header", nil, "Regex allow-list applied to message headers (mutually exclusive with exclude flags)")
	flags.StringArray("include-body", nil, "Regex allow-list applied to the visible reply text (mutually exclusive with exclude flags)")
	flags.StringArray("exclude-header", nil, "Regex block-list applied to message headers (mutually exclusive with include flags)")
	flags.StringArray("exclude-body", nil, "Regex block-list applied to the visible reply text (mutually exclusive with include flags)")

	cmd.MarkFlagsMutuallyExclusive("mbox", "imap-host")
	return nil
}

// AddPatternsFlag registers --patterns, shared by every command that parses replies.
func AddPatternsFlag(cmd *cobra.Command) {
	cmd.Flags().String("patterns", "", "YAML file with additional quote_headers and signatures patterns")
}

// LoadConfig converts the parsed Cobra flags into a Config struct with validation.
func LoadConfig(cmd *cobra.Command) (Config, error) {
	flags := cmd.Flags()

	var (
		cfg Config
		err error
	)
	str := func(name string, dst *string) {
		if err == nil {
			*dst, err = flags.GetString(name)
		}
	}
	num := func(name string, dst *int) {
		if err == nil {
			*dst, err = flags.GetInt(name)
		}
	}
	boolean := func(name string, dst *bool) {
		if err == nil {
			*dst, err = flags.GetBool(name)
		}
	}
	list := func(name string, dst *[]string) {
		if err == nil {
			*dst, err = flags.GetStringArray(name)
		}
	}

	str("mbox", &cfg.MboxPath)
	str("imap-host", &cfg.IMAPHost)
	num("imap-port", &cfg.IMAPPort)
	str("imap-user", &cfg.IMAPUser)
	str("imap-pass", &cfg.IMAPPass)
	boolean("use-tls", &cfg.UseTLS)
	boolean("insecure-skip-verify", &cfg.InsecureSkipVerify)
	str("folder", &cfg.Folder)
	num("limit", &cfg.Limit)
	str("output", &cfg.Output)
	str("format", &cfg.Format)
	boolean("fragments", &cfg.Fragments)
	num("workers", &cfg.Workers)
	str("state-dir", &cfg.StateDir)
	boolean("dry-run", &cfg.DryRun)
	str("patterns", &cfg.PatternsFile)
	str("log-level", &cfg.LogLevel)
	str("log-dir", &cfg.LogDir)
	list("include-header", &cfg.IncludeHeader)
	list("include-body", &cfg.IncludeBody)
	list("exclude-header", &cfg.ExcludeHeader)
	list("exclude-body", &cfg.ExcludeBody)
	if err != nil {
		return Config{}, err
	}

	cfg.MboxPath = strings.TrimSpace(cfg.MboxPath)
	cfg.IMAPHost = strings.TrimSpace(cfg.IMAPHost)

	if cfg.IMAPPass == "" {
		cfg.IMAPPass = os.Getenv("IMAP_PASS")
	}

	if cfg.StateDir == "" {
		cfg.StateDir, err = defaultStateDir()
		if err != nil {
			return Config{}, err
		}
	}
	cfg.StateDir = filepath.Clean(cfg.StateDir)

	if cfg.Output == "" {
		cfg.Output = "-"
	}
	cfg.Format = strings.ToLower(strings.TrimSpace(cfg.Format))
	cfg.LogLevel = NormalizeLogLevel(cfg.LogLevel)

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// NormalizeLogLevel lower-cases level and maps "warning" to "warn".
func NormalizeLogLevel(level string) string {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "warning" {
		level = "warn"
	}
	return level
}

func validateConfig(cfg Config) error {
	if cfg.MboxPath == "" && cfg.IMAPHost == "" {
		return fmt.Errorf("one of --mbox or --imap-host is required")
	}
	if cfg.MboxPath != "" && cfg.IMAPHost != "" {
		return fmt.Errorf("--mbox and --imap-host are mutually exclusive")
	}
	if cfg.UseIMAP() {
		if cfg.IMAPUser == "" {
			return fmt.Errorf("--imap-user is required")
		}
		if cfg.IMAPPass == "" {
			return fmt.Errorf("IMAP password must be provided via --imap-pass or IMAP_PASS env var")
		}
		if cfg.IMAPPort <= 0 || cfg.IMAPPort > 65535 {
			return fmt.Errorf("--imap-port must be between 1 and 65535")
		}
		if strings.TrimSpace(cfg.Folder) == "" {
			return fmt.Errorf("--folder must not be empty")
		}
	}
	if cfg.Limit < 0 {
		return fmt.Errorf("--limit must not be negative")
	}
	if cfg.Workers < 1 {
		return fmt.Errorf("--workers must be at least 1")
	}

	switch cfg.Format {
	case FormatJSONL, FormatYAML, FormatText:
	default:
		return fmt.Errorf("invalid --format: %s", cfg.Format)
	}

	includeActive := len(cfg.IncludeHeader) > 0 || len(cfg.IncludeBody) > 0
	excludeActive := len(cfg.ExcludeHeader) > 0 || len(cfg.ExcludeBody) > 0
	if includeActive && excludeActive {
		return fmt.Errorf("include and exclude flags are mutually exclusive")
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid --log-level: %s", cfg.LogLevel)
	}

	return nil
}

func defaultStateDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".mbox-reply-parser", "state"), nil
}
