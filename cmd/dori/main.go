package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
	_ "time/tzdata" // IANA zones for scheduler.timezone

	"github.com/doorap/dori/internal/agent"
	"github.com/doorap/dori/internal/scheduler"
	"github.com/doorap/dori/internal/tools"
	"github.com/doorap/dori/internal/version"
)

const usage = `Usage: dori <command> [flags]

Commands:
  ask      answer one question and exit
  serve    run the HTTP/websocket server and scheduled digests
  digest   run one configured digest now
  tools    print the tool catalog
  version  print version information
`

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return flag.ErrHelp
	}
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "ask":
		return runAsk(rest, stdout, stderr)
	case "serve":
		return runServe(rest, stderr)
	case "digest":
		return runDigest(rest, stdout, stderr)
	case "tools":
		return printTools(stdout)
	case "version", "-version", "--version":
		fmt.Fprintln(stdout, version.Get())
		return nil
	case "help", "-h", "--help":
		fmt.Fprint(stdout, usage)
		return nil
	default:
		fmt.Fprint(stderr, usage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runAsk(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("ask", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to config file")
	rawContext := fs.String("context", "", `caller context as JSON, e.g. {"currentUser":"Jane","company":"Leith Lettings"}`)
	if err := fs.Parse(args); err != nil {
		return err
	}
	question := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if question == "" {
		return errors.New("ask: a question is required")
	}
	cc, err := parseCallerContext(*rawContext)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(ctx, *configPath, stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	fmt.Fprintln(stdout, a.agent.Invoke(ctx, question, cc))
	return nil
}

func runServe(args []string, stderr io.Writer) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to config file")
	addr := fs.String("addr", "", "listen address (overrides server.addr)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(ctx, *configPath, stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	if *addr != "" {
		a.cfg.Server.Addr = *addr
	}
	return a.serve(ctx)
}

func runDigest(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("digest", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to config file")
	list := fs.Bool("list", false, "list configured digests")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(ctx, *configPath, stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	sched, err := a.newScheduler()
	if err != nil {
		return err
	}
	sched.Start(a.digestJobs())
	defer func() { _ = sched.Stop(context.Background()) }()

	if *list {
		printDigests(stdout, sched)
		return nil
	}
	if fs.NArg() != 1 {
		return errors.New("digest: exactly one digest name is required")
	}
	answer, err := sched.RunNow(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, answer)
	return nil
}

// printDigests writes one tab-separated line per digest: name, schedule,
// next run (or "paused") and question.
func printDigests(w io.Writer, sched *scheduler.Scheduler) {
	for _, j := range sched.ListJobs() {
		next := "paused"
		if t, ok := sched.NextRun(j.Name); ok {
			next = t.Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", j.Name, j.Schedule, next, j.Question)
	}
}

func printTools(w io.Writer) error {
	type toolInfo struct {
		Name        string         `json:"name"`
		Description string         `json:"description"`
		Parameters  map[string]any `json:"parameters"`
	}
	var out []toolInfo
	for _, d := range tools.Default().List() {
		out = append(out, toolInfo{Name: d.Name, Description: d.Description, Parameters: d.Parameters.JSONSchema()})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func parseCallerContext(raw string) (agent.CallerContext, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var cc agent.CallerContext
	if err := json.Unmarshal([]byte(raw), &cc); err != nil {
		return nil, fmt.Errorf("parsing -context: %w", err)
	}
	return cc, nil
}
