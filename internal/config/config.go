// Package config parses the line-oriented directive file described in
// spec.md §6. Like the teacher's cmd/main.go — which hand-rolls
// loadConfig/applyEnvOverrides against a typed Config struct instead of
// reaching for a config library — this package is a small, explicit
// directive dispatcher; neither the teacher nor the rest of the
// retrieval pack's server-shaped repos import a config library for this
// concern, so none is introduced here either (see SPEC_FULL.md).
package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// SaveRule is a (seconds, changes) snapshot trigger (spec.md glossary).
type SaveRule struct {
	Seconds int
	Changes int
}

// SlaveOf names the master this server should replicate from, if any.
type SlaveOf struct {
	Host string
	Port int
}

// Config holds every directive spec.md §6 recognizes.
type Config struct {
	Bind          string
	Port          int
	Timeout       int // maxidletime, seconds
	Databases     int
	Dir           string
	LogLevel      string
	LogFile       string
	DaemonizeFlag bool
	GlueOutputBuf bool
	SaveRules     []SaveRule
	Replica       *SlaveOf

	// SPEC_FULL.md domain-stack additions: neither has a counterpart in
	// the original spec.md directive set, so both are optional and
	// disabled by an empty value.
	AdminBind  string // HTTP address for /health, /metrics, /admin/ws; empty disables it
	EventBusURL string // NATS URL for the mutation audit bus; empty disables it
}

// Default returns the server's built-in configuration, used when no
// config file is given on the command line.
func Default() *Config {
	return &Config{
		Port:      6379,
		Timeout:   0,
		Databases: 16,
		Dir:       ".",
		LogLevel:  "notice",
		LogFile:   "stdout",
		SaveRules: []SaveRule{
			{Seconds: 3600, Changes: 1},
			{Seconds: 300, Changes: 100},
			{Seconds: 60, Changes: 10000},
		},
		AdminBind: ":9121",
	}
}

// DumpPath returns the path of the snapshot file within Dir; it is
// relative whenever Dir is (as with the default ".").
func (c *Config) DumpPath() string {
	return filepath.Join(c.Dir, "dump.rdb")
}

// Load reads a directive file on top of Default(), returning a
// line-numbered error on any invalid directive or argument count
// (spec.md §6).
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	cfg := Default()
	sawSave := false

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		directive := strings.ToLower(fields[0])
		args := fields[1:]

		if err := apply(cfg, directive, args, &sawSave); err != nil {
			return nil, fmt.Errorf("config: line %d: %w", lineNo, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return cfg, nil
}

func apply(cfg *Config, directive string, args []string, sawSave *bool) error {
	switch directive {
	case "timeout":
		n, err := expectInt(directive, args, 1)
		if err != nil {
			return err
		}
		cfg.Timeout = n[0]
	case "port":
		n, err := expectInt(directive, args, 1)
		if err != nil {
			return err
		}
		cfg.Port = n[0]
	case "bind":
		if len(args) != 1 {
			return fmt.Errorf("%s requires 1 argument", directive)
		}
		cfg.Bind = args[0]
	case "save":
		n, err := expectInt(directive, args, 2)
		if err != nil {
			return err
		}
		if !*sawSave {
			cfg.SaveRules = nil
			*sawSave = true
		}
		cfg.SaveRules = append(cfg.SaveRules, SaveRule{Seconds: n[0], Changes: n[1]})
	case "dir":
		if len(args) != 1 {
			return fmt.Errorf("%s requires 1 argument", directive)
		}
		cfg.Dir = args[0]
	case "loglevel":
		if len(args) != 1 || !oneOf(args[0], "debug", "notice", "warning") {
			return fmt.Errorf("%s must be one of debug|notice|warning", directive)
		}
		cfg.LogLevel = args[0]
	case "logfile":
		if len(args) != 1 {
			return fmt.Errorf("%s requires 1 argument", directive)
		}
		cfg.LogFile = args[0]
	case "databases":
		n, err := expectInt(directive, args, 1)
		if err != nil {
			return err
		}
		if n[0] < 1 {
			return fmt.Errorf("databases must be >= 1")
		}
		cfg.Databases = n[0]
	case "slaveof":
		if len(args) != 2 {
			return fmt.Errorf("%s requires 2 arguments", directive)
		}
		port, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("%s: invalid port %q", directive, args[1])
		}
		cfg.Replica = &SlaveOf{Host: args[0], Port: port}
	case "glueoutputbuf":
		b, err := expectBool(directive, args)
		if err != nil {
			return err
		}
		cfg.GlueOutputBuf = b
	case "daemonize":
		b, err := expectBool(directive, args)
		if err != nil {
			return err
		}
		cfg.DaemonizeFlag = b
	case "adminbind":
		if len(args) != 1 {
			return fmt.Errorf("%s requires 1 argument", directive)
		}
		cfg.AdminBind = args[0]
	case "eventbusurl":
		if len(args) != 1 {
			return fmt.Errorf("%s requires 1 argument", directive)
		}
		cfg.EventBusURL = args[0]
	default:
		return fmt.Errorf("unknown directive %q", directive)
	}
	return nil
}

func expectInt(directive string, args []string, count int) ([]int, error) {
	if len(args) != count {
		return nil, fmt.Errorf("%s requires %d argument(s)", directive, count)
	}
	out := make([]int, count)
	for i, a := range args {
		n, err := strconv.Atoi(a)
		if err != nil {
			return nil, fmt.Errorf("%s: invalid integer %q", directive, a)
		}
		out[i] = n
	}
	return out, nil
}

func expectBool(directive string, args []string) (bool, error) {
	if len(args) != 1 || !oneOf(args[0], "yes", "no") {
		return false, fmt.Errorf("%s must be yes|no", directive)
	}
	return args[0] == "yes", nil
}

func oneOf(s string, options ...string) bool {
	for _, o := range options {
		if s == o {
			return true
		}
	}
	return false
}
