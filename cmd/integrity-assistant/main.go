// Command integrity-assistant captures on-screen text and typing context
// and answers questions about it through the Integrity backend.
//
// Usage:
//
//	integrity-assistant login -email user@example.com   # sign in, store the session
//	integrity-assistant logout                          # revoke and clear the session
//	integrity-assistant quota                           # show today's query usage
//	integrity-assistant run                             # capture and answer stdin queries
//	integrity-assistant run -replay script.jsonl        # feed keystrokes from a script
package main

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"golang.org/x/term"

	"github.com/integritydesk/integrity-assistant/integrity/auth"
	"github.com/integritydesk/integrity-assistant/integrity/config"
	"github.com/integritydesk/integrity-assistant/integrity/keylog"
	"github.com/integritydesk/integrity-assistant/integrity/logging"
	"github.com/integritydesk/integrity-assistant/integrity/runtime"
	"github.com/integritydesk/integrity-assistant/integrity/state"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to integrity.yaml (default: working dir, then the state dir)")
		envFile    = flag.String("env", "", "path to a .env file loaded before configuration")
	)
	flag.Usage = usage
	flag.Parse()

	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil {
			fmt.Fprintf(os.Stderr, "load %s: %v\n", *envFile, err)
			os.Exit(1)
		}
	} else {
		// A .env next to the binary is optional.
		_ = godotenv.Load()
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "configuration:", err)
		os.Exit(1)
	}
	log := logging.New(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, log, cfg, flag.Args()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, log zerolog.Logger, cfg *config.Config, args []string) error {
	if len(args) == 0 {
		flag.Usage()
		return errors.New("missing command")
	}
	switch args[0] {
	case "login":
		return runLogin(ctx, log, cfg, args[1:])
	case "logout":
		return runLogout(ctx, log, cfg)
	case "quota":
		return runQuota(ctx, log, cfg)
	case "run":
		return runAssistant(ctx, log, cfg, args[1:])
	default:
		flag.Usage()
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func runLogin(ctx context.Context, log zerolog.Logger, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	email := fs.String("email", "", "account email (prompted when omitted)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	db := openStateDB(log, cfg)
	if db != nil {
		defer db.Close()
	} else {
		log.Warn().Msg("session will not outlive this process")
	}
	mgr, err := runtime.NewFactory(cfg, db, log).CreateAuthManager()
	if err != nil {
		return err
	}

	reader := bufio.NewReader(os.Stdin)
	addr := strings.TrimSpace(*email)
	if addr == "" {
		fmt.Print("email: ")
		line, err := reader.ReadString('\n')
		if err != nil {
			return err
		}
		addr = strings.TrimSpace(line)
	}
	password, err := readPassword(reader)
	if err != nil {
		return err
	}

	if _, err := mgr.Login(ctx, addr, password); err != nil {
		return err
	}
	fmt.Printf("logged in as %s\n", addr)
	return nil
}

func runLogout(ctx context.Context, log zerolog.Logger, cfg *config.Config) error {
	db := openStateDB(log, cfg)
	if db != nil {
		defer db.Close()
	}
	mgr, err := runtime.NewFactory(cfg, db, log).CreateAuthManager()
	if err != nil {
		return err
	}
	if err := mgr.Logout(ctx); err != nil {
		if errors.Is(err, auth.ErrNotAuthenticated) {
			fmt.Println("not logged in")
			return nil
		}
		return err
	}
	fmt.Println("logged out")
	return nil
}

func runQuota(ctx context.Context, log zerolog.Logger, cfg *config.Config) error {
	db := openStateDB(log, cfg)
	if db != nil {
		defer db.Close()
	}
	factory := runtime.NewFactory(cfg, db, log)
	mgr, err := factory.CreateAuthManager()
	if err != nil {
		return err
	}
	api, err := factory.CreateAPIClient(mgr)
	if err != nil {
		return err
	}
	q, err := api.Quota(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("daily queries: %d/%d used\n", q.Used, q.Limit)
	return nil
}

func runAssistant(ctx context.Context, log zerolog.Logger, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	replayPath := fs.String("replay", "", "JSONL keystroke script fed to the aggregator")
	if err := fs.Parse(args); err != nil {
		return err
	}

	db := openStateDB(log, cfg)
	if db != nil {
		defer db.Close()
	}

	source, err := keySource(log, *replayPath)
	if err != nil {
		return err
	}

	rt, err := runtime.NewFactory(cfg, db, log).CreateRuntime(source)
	if err != nil {
		return err
	}
	if err := rt.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := rt.Stop(); err != nil {
			log.Warn().Err(err).Msg("shutdown incomplete")
		}
	}()

	config.Watch(log, rt.ApplyConfig)

	fmt.Println("integrity-assistant ready. Type a question and press Enter; /status shows counters; Ctrl+C quits.")

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		fmt.Print("> ")
		select {
		case <-ctx.Done():
			fmt.Println()
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			query := strings.TrimSpace(line)
			switch {
			case query == "":
				continue
			case query == "/status":
				printStatus(rt)
				continue
			}
			answer, err := rt.SubmitQuery(ctx, query)
			if err != nil {
				fmt.Fprintln(os.Stderr, "error:", err)
				continue
			}
			fmt.Println(answer)
		}
	}
}

func printStatus(rt *runtime.Runtime) {
	screens, keystrokes := rt.BufferedCounts()
	m := rt.Metrics()
	fmt.Printf("buffers: %d screen, %d keystroke | cycles: %d (%d with text, %d empty, %d failed) | p95 %s\n",
		screens, keystrokes, m.Cycles, m.Entries, m.EmptyFrames, m.CaptureErrors, m.CycleLatency.P95)
}

// openStateDB opens the local database, or returns nil so the assistant
// runs without session and journal persistence.
func openStateDB(log zerolog.Logger, cfg *config.Config) *sql.DB {
	db, err := state.Open(cfg.Database.DSN, cfg.Database.Type, log)
	if err != nil {
		log.Warn().Err(err).Msg("state database unavailable, continuing without persistence")
		return nil
	}
	return db
}

// keySource selects the keystroke pipeline input. System-wide key hooks
// need a platform integration this build does not carry, so input is
// either replayed from a script or absent.
func keySource(log zerolog.Logger, replayPath string) (keylog.EventSource, error) {
	if replayPath == "" {
		return keylog.NopSource{}, nil
	}
	f, err := os.Open(replayPath)
	if err != nil {
		return nil, fmt.Errorf("open replay script: %w", err)
	}
	defer f.Close()
	src, err := keylog.NewReplaySource(f, log)
	if err != nil {
		return nil, fmt.Errorf("parse replay script: %w", err)
	}
	return src, nil
}

// readPassword reads without echo when stdin is a terminal.
func readPassword(reader *bufio.Reader) (string, error) {
	fmt.Print("password: ")
	if term.IsTerminal(int(os.Stdin.Fd())) {
		defer fmt.Println()
		raw, err := term.ReadPassword(int(os.Stdin.Fd()))
		if err != nil {
			return "", err
		}
		return string(raw), nil
	}
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), `integrity-assistant captures screen text and typing context and answers
questions about it.

Usage:

  integrity-assistant [flags] <command> [command flags]

Commands:

  login    sign in and store the session (-email user@example.com)
  logout   revoke and clear the stored session
  quota    show today's query usage
  run      start capture and answer queries from stdin (-replay script.jsonl)

Flags:

`)
	flag.PrintDefaults()
}
