// ABOUTME: CLI command surface for the deadrop message store
// ABOUTME: Parses arguments, calls the store, and renders human-readable output

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"github.com/Packetvision-LLC/deadrop/internal/config"
	"github.com/Packetvision-LLC/deadrop/internal/store"
)

// errUsage marks argument errors that should render usage and exit 2.
var errUsage = errors.New("usage error")

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "send":
		err = cmdSend(args)
	case "inbox":
		err = cmdInbox(args)
	case "drain":
		err = cmdDrain(args)
	case "schedule":
		err = cmdSchedule(args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(2)
	}

	if err != nil {
		if errors.Is(err, errUsage) || errors.Is(err, store.ErrInvalidInput) {
			color.Red("Error: %v", err)
			os.Exit(2)
		}
		color.Red("Error: %v", err)
		os.Exit(1)
	}
}

func printUsage() {
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	cyan.Println("deadrop - durable message drops between agents")
	fmt.Println()
	fmt.Println("Usage: deadrop <command> [flags] [args]")
	fmt.Println()
	yellow.Println("Commands:")
	fmt.Println("  send --from A --to B [--subject S] <body...>   Deposit a message")
	fmt.Println("  inbox <agent> [--unread]                       List an inbox, newest first")
	fmt.Println("  drain <agent>                                  Fetch unread messages and mark them read")
	fmt.Println("  schedule <agent> [--interval 5m]               Print cron/systemd snippets for periodic drains")
	fmt.Println()
	yellow.Println("Global flags:")
	fmt.Println("  --db <path>       Message store file (default: ~/.deadrop/deadrop.db)")
	fmt.Println("  --config <path>   Config file (default: ~/.config/deadrop/config.yaml)")
	fmt.Println()
	yellow.Println("Environment:")
	fmt.Println("  DEADROP_DB        Message store file (overridden by --db)")
	fmt.Println("  DEADROP_CONFIG    Config file (overridden by --config)")
}

// newFlagSet creates a subcommand flag set carrying the global flags.
func newFlagSet(name string) (*pflag.FlagSet, *string, *string) {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	dbPath := fs.String("db", "", "message store file")
	configPath := fs.String("config", "", "config file")
	return fs, dbPath, configPath
}

// loadConfig reads configuration and installs the process logger. A
// missing file at the default location falls back to defaults; a
// missing file named explicitly is an error.
func loadConfig(configFlag string) (*config.Config, error) {
	cfgPath := configFlag
	if cfgPath == "" {
		cfgPath = config.DefaultConfigPath()
	}

	cfg := config.Default()
	if _, err := os.Stat(cfgPath); err == nil {
		loaded, err := config.Load(cfgPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else if configFlag != "" {
		return nil, fmt.Errorf("reading config file %s: %w", configFlag, err)
	}

	slog.SetDefault(newLogger(cfg.Logging))
	return cfg, nil
}

// resolveDBPath picks the store file: --db flag, then DEADROP_DB, then
// the config file, then the fixed default (already in cfg).
func resolveDBPath(dbFlag string, cfg *config.Config) string {
	if dbFlag != "" {
		return dbFlag
	}
	if env := os.Getenv("DEADROP_DB"); env != "" {
		return env
	}
	return cfg.Database.Path
}

// setup loads configuration, installs the logger, and opens the store.
func setup(dbFlag, configFlag string) (*store.SQLiteStore, *config.Config, error) {
	cfg, err := loadConfig(configFlag)
	if err != nil {
		return nil, nil, err
	}

	s, err := store.NewSQLiteStore(resolveDBPath(dbFlag, cfg))
	if err != nil {
		return nil, nil, err
	}
	return s, cfg, nil
}

// newLogger builds the process logger from config. Logs go to stderr;
// stdout carries only command output. Every invocation gets a short
// operation id so interleaved runs can be told apart in shared logs.
func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	opID := uuid.New().String()[:8]
	return slog.New(handler).With("op", opID)
}

func cmdSend(args []string) error {
	fs, dbPath, configPath := newFlagSet("send")
	from := fs.String("from", "", "sending agent")
	to := fs.String("to", "", "receiving agent")
	subject := fs.String("subject", "", "optional subject")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	body := strings.Join(fs.Args(), " ")
	if body == "" {
		return fmt.Errorf("%w: send requires a message body", errUsage)
	}

	s, _, err := setup(*dbPath, *configPath)
	if err != nil {
		return err
	}
	defer s.Close()

	var subj *string
	if fs.Changed("subject") {
		subj = subject
	}

	id, err := s.Deposit(context.Background(), *from, *to, subj, body)
	if err != nil {
		return err
	}

	fmt.Printf("Message %d deposited for %s\n", id, *to)
	return nil
}

func cmdInbox(args []string) error {
	fs, dbPath, configPath := newFlagSet("inbox")
	unreadOnly := fs.Bool("unread", false, "only unread messages")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("%w: inbox requires exactly one agent name", errUsage)
	}
	agent := fs.Arg(0)

	s, _, err := setup(*dbPath, *configPath)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := context.Background()
	messages, err := s.ListInbox(ctx, agent, *unreadOnly)
	if err != nil {
		return err
	}
	unread, err := s.CountUnread(ctx, agent)
	if err != nil {
		return err
	}

	if len(messages) == 0 {
		fmt.Printf("Inbox for %s is empty\n", agent)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tFROM\tSUBJECT\tAGE")
	for _, m := range messages {
		status := "unread"
		if m.Read() {
			status = "read"
		}
		subject := "-"
		if m.Subject != nil && *m.Subject != "" {
			subject = *m.Subject
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", m.ID, status, m.From, subject, humanAge(m.CreatedAt))
	}
	w.Flush()

	fmt.Printf("\n%d message(s), %d unread\n", len(messages), unread)
	return nil
}

func cmdDrain(args []string) error {
	fs, dbPath, configPath := newFlagSet("drain")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("%w: drain requires exactly one agent name", errUsage)
	}
	agent := fs.Arg(0)

	s, _, err := setup(*dbPath, *configPath)
	if err != nil {
		return err
	}
	defer s.Close()

	messages, err := s.DrainUnread(context.Background(), agent)
	if err != nil {
		return err
	}

	if len(messages) == 0 {
		fmt.Printf("No new messages for %s\n", agent)
		return nil
	}

	bold := color.New(color.Bold)
	for i, m := range messages {
		if i > 0 {
			fmt.Println()
		}
		if m.Subject != nil {
			bold.Printf("[%d] %s: %s\n", m.ID, m.From, *m.Subject)
		} else {
			bold.Printf("[%d] %s\n", m.ID, m.From)
		}
		fmt.Printf("    sent %s\n", humanAge(m.CreatedAt))
		fmt.Println(indent(m.Body, "    "))
	}
	fmt.Printf("\n%d message(s) marked read\n", len(messages))
	return nil
}

func cmdSchedule(args []string) error {
	fs, dbPath, configPath := newFlagSet("schedule")
	interval := fs.Duration("interval", 0, "drain period (default from config, 5m)")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("%w: schedule requires exactly one agent name", errUsage)
	}
	agent := fs.Arg(0)

	// Pure text generation: load config only, never open (and thereby
	// create) the store file.
	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	period := cfg.Schedule.Interval
	if *interval > 0 {
		period = *interval
	}

	binPath, err := os.Executable()
	if err != nil {
		binPath = "deadrop"
	}

	// Cron and systemd run with a minimal environment, so any store or
	// config override in effect now (flag or env) is baked into the
	// generated command line.
	dbOverride := *dbPath
	if dbOverride == "" {
		dbOverride = os.Getenv("DEADROP_DB")
	}
	configOverride := *configPath
	if configOverride == "" {
		configOverride = os.Getenv("DEADROP_CONFIG")
	}
	drainCmd := drainCommand(binPath, agent, dbOverride, configOverride)

	yellow := color.New(color.FgYellow)
	yellow.Println("# crontab entry (crontab -e):")
	fmt.Println(cronSnippet(drainCmd, period))
	fmt.Println()
	yellow.Printf("# systemd units (~/.config/systemd/user/deadrop-drain-%s.{service,timer}):\n", agent)
	fmt.Println(systemdSnippet(drainCmd, agent, period))
	return nil
}

// humanAge renders how long ago t was, coarsely.
func humanAge(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

func indent(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = prefix + line
	}
	return strings.Join(lines, "\n")
}
