// Copyright 2026 © The Gaffer Authors
// SPDX-License-Identifier: Apache-2.0

// Command gaffer runs the team assistant engine from a terminal: one-shot
// commands, an interactive chat loop, and introspection helpers.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/gafferhq/gaffer/pkg/actions"
	"github.com/gafferhq/gaffer/pkg/capability"
	"github.com/gafferhq/gaffer/pkg/config"
	"github.com/gafferhq/gaffer/pkg/dispatch"
	"github.com/gafferhq/gaffer/pkg/ident"
	"github.com/gafferhq/gaffer/pkg/interpret"
	"github.com/gafferhq/gaffer/pkg/llm"
	"github.com/gafferhq/gaffer/pkg/llm/anthropic"
	"github.com/gafferhq/gaffer/pkg/llm/openai"
	"github.com/gafferhq/gaffer/pkg/role"
	"github.com/gafferhq/gaffer/pkg/telemetry"
)

const version = "0.1.0"

type globalFlags struct {
	ConfigPath string
	RolesPath  string
	Role       string
	JSON       bool
	Help       bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	global, args, err := parseGlobalFlags(os.Args[1:])
	if err != nil {
		fatal(err)
	}
	if global.Help || len(args) == 0 {
		printUsage()
		return
	}

	switch cmd := args[0]; cmd {
	case "ask":
		runAsk(ctx, global, args[1:])
	case "chat":
		runChat(ctx, global)
	case "capabilities":
		runCapabilities(global)
	case "help":
		printUsage()
	case "version":
		fmt.Printf("gaffer %s\n", version)
	default:
		fatal(fmt.Errorf("unknown command %q", cmd))
	}
}

func parseGlobalFlags(args []string) (globalFlags, []string, error) {
	var global globalFlags
	fs := flag.NewFlagSet("gaffer", flag.ContinueOnError)
	fs.StringVar(&global.ConfigPath, "config", "", "path to YAML config file")
	fs.StringVar(&global.RolesPath, "roles", "", "path to a role declaration YAML file, overrides config roles")
	fs.StringVar(&global.Role, "role", "manager", "requester role")
	fs.BoolVar(&global.JSON, "json", false, "print responses as JSON")
	fs.BoolVar(&global.Help, "help", false, "show usage")
	if err := fs.Parse(args); err != nil {
		return global, nil, err
	}
	return global, fs.Args(), nil
}

// engine bundles the wired components behind the CLI commands.
type engine struct {
	cfg         *config.Config
	pipeline    *interpret.Pipeline
	coordinator *dispatch.Coordinator
	registry    *capability.Registry
	resolver    *role.Resolver
	shutdown    telemetry.ShutdownFunc
	closeStore  func() error
}

func buildEngine(ctx context.Context, global globalFlags) (*engine, error) {
	cfg, err := config.Load(global.ConfigPath)
	if err != nil {
		return nil, err
	}

	shutdown, err := telemetry.InitWithConfig("gaffer", version, telemetry.Config{
		Exporter:     cfg.Telemetry.Exporter,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: cfg.Telemetry.OTLPInsecure,
	})
	if err != nil {
		return nil, err
	}
	telemetry.ConfigureSlog(os.Stderr, cfg.Log.Level, cfg.Log.Format)

	metrics, err := telemetry.NewEngineMetrics(ctx)
	if err != nil {
		return nil, err
	}

	var (
		ns         ident.Namespace
		abbrevs    ident.AbbrevStore
		closeStore = func() error { return nil }
	)
	switch cfg.Identifier.Store {
	case "sqlite":
		store, err := ident.OpenSQLiteStore(cfg.Identifier.SQLitePath)
		if err != nil {
			return nil, err
		}
		ns, abbrevs, closeStore = store, store, store.Close
	default:
		store := ident.NewMemoryStore()
		ns, abbrevs = store, store
	}

	generator, err := ident.New(ident.Config{
		TeamName:        cfg.Identifier.Team,
		TeamCode:        cfg.Identifier.TeamCode,
		CodeWidth:       cfg.Identifier.CodeWidth,
		Separator:       cfg.Identifier.Separator,
		NumericAttempts: cfg.Identifier.NumericAttempts,
		RandomAttempts:  cfg.Identifier.RandomAttempts,
	}, ns, abbrevs, metrics)
	if err != nil {
		return nil, err
	}

	svc := actions.NewService(generator, &actions.SlogNotifier{})
	registry, err := capability.Discover(svc.Capabilities()...)
	if err != nil {
		return nil, err
	}
	decls := role.DeclarationsFromConfig(cfg.Roles)
	if global.RolesPath != "" {
		if decls, err = role.LoadDeclarations(global.RolesPath); err != nil {
			return nil, err
		}
	}
	resolver, err := role.Resolve(decls, registry)
	if err != nil {
		return nil, err
	}
	svc.Bind(registry, resolver)

	pipeline := interpret.NewPipeline(
		interpret.NewPrimary(buildProvider(cfg.LLM), cfg.LLM.Model),
		interpret.NewFallback(),
		interpret.WithThreshold(cfg.Interpreter.ConfidenceThreshold),
		interpret.WithTimeout(cfg.Interpreter.Timeout),
		interpret.WithMetrics(metrics),
	)
	coordinator := dispatch.New(registry, resolver,
		dispatch.WithTimeout(cfg.Dispatch.Timeout),
		dispatch.WithMetrics(metrics),
	)

	return &engine{
		cfg:         cfg,
		pipeline:    pipeline,
		coordinator: coordinator,
		registry:    registry,
		resolver:    resolver,
		shutdown:    shutdown,
		closeStore:  closeStore,
	}, nil
}

func (e *engine) close(ctx context.Context) {
	if err := e.closeStore(); err != nil {
		fmt.Fprintf(os.Stderr, "store close: %v\n", err)
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := e.shutdown(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "telemetry shutdown: %v\n", err)
	}
}

func buildProvider(cfg config.LLMConfig) llm.Provider {
	switch cfg.Provider {
	case "openai":
		var opts []openai.Option
		if cfg.APIKey != "" {
			opts = append(opts, openai.WithAPIKey(cfg.APIKey))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		return openai.New(opts...)
	case "anthropic":
		var opts []anthropic.Option
		if cfg.APIKey != "" {
			opts = append(opts, anthropic.WithAPIKey(cfg.APIKey))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
		}
		return anthropic.New(opts...)
	case "mock":
		return &llm.MockProvider{}
	default:
		return llm.NewOllama(cfg.BaseURL)
	}
}

// handle interprets one line of input and dispatches the result.
func (e *engine) handle(ctx context.Context, requesterRole, conversation, text string) (*dispatch.Response, error) {
	names, err := e.resolver.CapabilitiesFor(requesterRole)
	if err != nil {
		// Unconfigured roles still get a readable refusal from dispatch.
		names = nil
	}

	in, err := e.pipeline.Interpret(ctx, interpret.Request{
		Text:         text,
		Role:         requesterRole,
		Conversation: conversation,
		Manifest:     e.registry.Manifest(names),
	})
	if err != nil {
		return nil, err
	}

	return e.coordinator.Dispatch(ctx, dispatch.Request{
		Role:         requesterRole,
		Conversation: conversation,
		Intent:       in,
	})
}

func runAsk(ctx context.Context, global globalFlags, args []string) {
	if len(args) == 0 {
		fatal(fmt.Errorf("ask requires the command text as an argument"))
	}
	e, err := buildEngine(ctx, global)
	if err != nil {
		fatal(err)
	}
	defer e.close(context.Background())

	resp, err := e.handle(ctx, global.Role, uuid.NewString(), strings.Join(args, " "))
	if err != nil {
		fatal(err)
	}
	printResponse(global, resp)
}

func runChat(ctx context.Context, global globalFlags) {
	e, err := buildEngine(ctx, global)
	if err != nil {
		fatal(err)
	}
	defer e.close(context.Background())

	conversation := uuid.NewString()
	fmt.Printf("gaffer %s, role %s. Type a command, or exit to leave.\n", version, global.Role)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			break
		}

		resp, err := e.handle(ctx, global.Role, conversation, line)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}
		printResponse(global, resp)
		if ctx.Err() != nil {
			break
		}
	}
}

func runCapabilities(global globalFlags) {
	e, err := buildEngine(context.Background(), global)
	if err != nil {
		fatal(err)
	}
	defer e.close(context.Background())

	names, err := e.resolver.CapabilitiesFor(global.Role)
	if err != nil {
		fatal(err)
	}
	fmt.Println(e.registry.Manifest(names))
}

func printResponse(global globalFlags, resp *dispatch.Response) {
	if global.JSON {
		out, err := json.MarshalIndent(resp, "", "  ")
		if err != nil {
			fatal(err)
		}
		fmt.Println(string(out))
		return
	}
	fmt.Println(resp.Message)
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "gaffer: %v\n", err)
	os.Exit(1)
}

func printUsage() {
	writeUsage(os.Stdout)
}

func writeUsage(w io.Writer) {
	fmt.Fprint(w, `Usage: gaffer [flags] <command>

Commands:
  ask <text>     interpret and execute one command
  chat           interactive command loop
  capabilities   print the capabilities available to the role
  version        print the version
  help           show this help

Flags:
  -config path   YAML config file
  -roles path    role declaration YAML file, overrides config roles
  -role name     requester role (default manager)
  -json          print responses as JSON
`)
}
