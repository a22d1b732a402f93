// Command accessctl manages the door access server from a terminal.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"text/tabwriter"

	"github.com/esp32-access-manager/backend/internal/client"
)

type env struct {
	ctrl  *client.Controller
	api   *client.Client
	log   *slog.Logger
	out   io.Writer
}

type command struct {
	usage string
	run   func(ctx context.Context, e *env, args []string) error
}

// commands is filled in init because the handlers print their own usage.
var commands map[string]command

func init() {
	commands = map[string]command{
		"login":            {"login [-guest] <username> <password>", cmdLogin},
		"logout":           {"logout", cmdLogout},
		"whoami":           {"whoami", cmdWhoami},
		"register":         {"register <username> <password> <full name> [email]", cmdRegister},
		"codes":            {"codes", cmdCodes},
		"create-code":      {"create-code [-type otp|static] [-ttl 10m] <6 digits>", cmdCreateCode},
		"delete-code":      {"delete-code <code>", cmdDeleteCode},
		"delete-all-codes": {"delete-all-codes", cmdDeleteAllCodes},
		"cards":            {"cards", cmdCards},
		"enroll":           {"enroll [card id]", cmdEnroll},
		"disenroll":        {"disenroll <card id>", cmdDisenroll},
		"delete-all-cards": {"delete-all-cards", cmdDeleteAllCards},
		"unlock":           {"unlock <code or card id>", cmdUnlock},
		"logs":             {"logs [-page n] [-limit n] [-sort col] [-order asc|desc] [-filter col=value]", cmdLogs},
		"watch":            {"watch", cmdWatch},
	}
}

func main() {
	fs := flag.NewFlagSet("accessctl", flag.ExitOnError)
	server := fs.String("server", envOr("ACCESSCTL_SERVER", "http://localhost:3000/api"), "API base URL")
	sessionPath := fs.String("session", defaultSessionPath(), "session file")
	debug := fs.Bool("v", false, "log requests")
	fs.Usage = func() { usage(fs) }
	_ = fs.Parse(os.Args[1:])

	if fs.NArg() == 0 {
		usage(fs)
		os.Exit(2)
	}
	cmd, ok := commands[fs.Arg(0)]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", fs.Arg(0))
		usage(fs)
		os.Exit(2)
	}

	level := slog.LevelWarn
	if *debug {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	api := client.New(*server, log)
	e := &env{
		ctrl:  client.NewController(api, client.FileStore{Path: *sessionPath}, log),
		api:   api,
		log:   log,
		out:   os.Stdout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := cmd.run(ctx, e, fs.Args()[1:])
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", describe(err))
		os.Exit(1)
	}
}

func usage(fs *flag.FlagSet) {
	fmt.Fprintln(os.Stderr, "usage: accessctl [flags] <command> [args]")
	fmt.Fprintln(os.Stderr, "\ncommands:")
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintln(os.Stderr, "  "+commands[name].usage)
	}
	fmt.Fprintln(os.Stderr, "\nflags:")
	fs.PrintDefaults()
}

func describe(err error) string {
	var apiErr *client.APIError
	switch {
	case errors.As(err, &apiErr) && apiErr.Message != "":
		return apiErr.Message
	case errors.Is(err, client.ErrTransientNetwork):
		return "server unreachable, try again: " + err.Error()
	case errors.Is(err, client.ErrNoSession):
		return "not signed in, run accessctl login"
	}
	return err.Error()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func defaultSessionPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "accessctl", "session.json")
}

func table(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}
