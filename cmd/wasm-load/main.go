package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/wippyai/wasm-loader/bridge"
	"github.com/wippyai/wasm-loader/config"
	"github.com/wippyai/wasm-loader/engine"
	"github.com/wippyai/wasm-loader/fetch"
	"github.com/wippyai/wasm-loader/integrity"
	"github.com/wippyai/wasm-loader/loader"
	"github.com/wippyai/wasm-loader/metadata"
	"github.com/wippyai/wasm-loader/namespace"
	"github.com/wippyai/wasm-loader/ready"
	"github.com/wippyai/wasm-loader/shim"
	"github.com/wippyai/wasm-loader/source"
)

func main() {
	var (
		src          = flag.String("src", "", "Module source: path, URL, or owner/repo")
		moduleID     = flag.String("id", "", "Module id (generated when empty)")
		funcName     = flag.String("func", "", "Function to call (optional)")
		argsStr      = flag.String("args", "", "Call arguments (comma-separated)")
		integrityRef = flag.String("integrity", "", "Expected digest (<alg>-<base64>)")
		shimVersion  = flag.String("shim", "", "Runtime shim version pin")
		isolation    = flag.String("isolation", "", "Isolation strategy: diff or virtual")
		timeout      = flag.Duration("timeout", 0, "Readiness timeout")
		cfgPath      = flag.String("config", "", "YAML configuration file")
		noCache      = flag.Bool("no-cache", false, "Bypass the acquisition cache")
		list         = flag.Bool("list", false, "List module functions and exit")
		interactive  = flag.Bool("i", false, "Interactive mode with TUI")
		verbose      = flag.Bool("v", false, "Verbose logging")
	)
	flag.Parse()

	if *src == "" {
		fmt.Fprintln(os.Stderr, "Usage: wasm-load -src <path|url|owner/repo> [-func name] [-args a,b,...]")
		fmt.Fprintln(os.Stderr, "       wasm-load -src <path|url|owner/repo> -list")
		fmt.Fprintln(os.Stderr, "       wasm-load -src <path|url|owner/repo> -i  (interactive mode)")
		os.Exit(1)
	}

	if *verbose {
		log, err := zap.NewDevelopment()
		if err == nil {
			applyLogger(log)
		}
	}

	cfg := loader.Config{}
	if *cfgPath != "" {
		fileCfg, err := config.LoadFile(*cfgPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		cfg = loader.FromFile(fileCfg)
	}

	opts := loader.Options{
		ID:           *moduleID,
		Integrity:    *integrityRef,
		ShimVersion:  *shimVersion,
		ReadyTimeout: *timeout,
		NoCache:      *noCache,
	}
	if *isolation != "" {
		strategy, err := namespace.ParseStrategy(*isolation)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		opts.Isolation = strategy
	}

	if *interactive {
		if !term.IsTerminal(int(os.Stdout.Fd())) {
			fmt.Fprintln(os.Stderr, "Error: interactive mode needs a terminal")
			os.Exit(1)
		}
		if err := runInteractive(cfg, *src, opts); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(cfg, *src, opts, *funcName, *argsStr, *list); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// applyLogger wires one logger through every package
func applyLogger(log *zap.Logger) {
	source.SetLogger(log.Named("source"))
	fetch.SetLogger(log.Named("fetch"))
	integrity.SetLogger(log.Named("integrity"))
	metadata.SetLogger(log.Named("metadata"))
	shim.SetLogger(log.Named("shim"))
	engine.SetLogger(log.Named("engine"))
	ready.SetLogger(log.Named("ready"))
	bridge.SetLogger(log.Named("bridge"))
	loader.SetLogger(log.Named("loader"))
}

func run(cfg loader.Config, src string, opts loader.Options, funcName, argsStr string, listOnly bool) error {
	ctx := context.Background()

	l, err := loader.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer l.Close(ctx)

	start := time.Now()
	b, err := l.Load(ctx, src, opts)
	if err != nil {
		return err
	}

	fmt.Printf("Module: %s (%s)\n", b.ID(), src)
	fmt.Printf("Loaded in %s\n", time.Since(start).Round(time.Millisecond))

	funcs := b.Functions()
	fmt.Printf("\nFunctions:\n")
	for _, name := range funcs {
		fmt.Printf("  %s\n", formatFunction(b, name))
	}

	if listOnly {
		return nil
	}

	if funcName == "" {
		if len(funcs) == 1 {
			funcName = funcs[0]
		} else {
			fmt.Printf("\nNo function specified. Use -func to pick one.\n")
			return nil
		}
	}

	args := parseArgs(argsStr)
	fmt.Printf("\nCalling %s(%s)...\n", funcName, argsStr)
	result, err := b.Call(ctx, funcName, args...)
	if err != nil {
		return err
	}
	fmt.Printf("Result: %v\n", result)
	return nil
}

// formatFunction renders one function line, with parameter names and
// types when the descriptor declares them.
func formatFunction(b *bridge.Bridge, name string) string {
	fd, ok := b.Describe(name)
	if !ok || len(fd.Parameters) == 0 && fd.ReturnType == "" {
		return name + "(...)"
	}
	var params []string
	for _, p := range fd.Parameters {
		params = append(params, p.Name+": "+p.Type)
	}
	out := name + "(" + strings.Join(params, ", ") + ")"
	if fd.ReturnType != "" {
		out += " -> " + fd.ReturnType
	}
	return out
}

// parseArgs splits a comma-separated argument list, inferring bool,
// integer, and float values and leaving the rest as strings.
func parseArgs(argsStr string) []any {
	if argsStr == "" {
		return nil
	}
	parts := strings.Split(argsStr, ",")
	args := make([]any, len(parts))
	for i, part := range parts {
		args[i] = parseArg(strings.TrimSpace(part))
	}
	return args
}

func parseArg(s string) any {
	if s == "true" || s == "false" {
		return s == "true"
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}
