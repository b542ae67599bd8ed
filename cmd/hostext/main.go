package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/wippyai/wasm-hostext/bridge"
	"github.com/wippyai/wasm-hostext/config"
	"github.com/wippyai/wasm-hostext/demo"
	"github.com/wippyai/wasm-hostext/errors"
	"github.com/wippyai/wasm-hostext/host"
	"github.com/wippyai/wasm-hostext/lifecycle"
	"github.com/wippyai/wasm-hostext/namespace"
	"github.com/wippyai/wasm-hostext/registry"
)

type argList []string

func (a *argList) String() string     { return strings.Join(*a, " ") }
func (a *argList) Set(v string) error { *a = append(*a, v); return nil }

type options struct {
	configFile  string
	wasmFile    string
	funcName    string
	args        argList
	list        bool
	verbose     bool
	interactive bool
}

func main() {
	var o options
	flag.StringVar(&o.configFile, "config", "", "Path to HCL config file (optional)")
	flag.StringVar(&o.wasmFile, "wasm", "", "Guest module importing the namespace (optional)")
	flag.StringVar(&o.funcName, "func", "", "Guest export, or namespace function without -wasm")
	flag.Var(&o.args, "arg", "Argument as an HCL expression (repeatable)")
	flag.BoolVar(&o.list, "list", false, "List namespace functions and exit")
	flag.BoolVar(&o.verbose, "v", false, "Verbose logging")
	flag.BoolVar(&o.interactive, "i", false, "Interactive mode with TUI")
	flag.Parse()

	if err := run(o); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(o options) error {
	ctx := context.Background()

	if o.verbose {
		logger, err := zap.NewDevelopment()
		if err != nil {
			return fmt.Errorf("logger: %w", err)
		}
		defer func() { _ = logger.Sync() }()
		setLoggers(logger)
	}

	cfg := config.Default()
	if o.configFile != "" {
		var err error
		if cfg, err = config.Load(o.configFile); err != nil {
			return err
		}
	}

	hc := cfg.Host()
	hc.Name = "hostext"
	hc.Stdout = os.Stdout
	hc.Stderr = os.Stderr
	h, err := host.New(ctx, hc)
	if err != nil {
		return fmt.Errorf("create host: %w", err)
	}
	defer h.Close(ctx)

	ctrls, err := loadExtensions(h, cfg, o.verbose)
	if err != nil {
		return err
	}

	startErr := h.Start(ctx)
	for _, c := range ctrls {
		printController(c)
	}
	ns, ok := h.Namespace(cfg.Namespace)
	if !ok || ns.Len() == 0 {
		if startErr != nil {
			return startErr
		}
		return fmt.Errorf("namespace %q is empty", cfg.Namespace)
	}
	if startErr != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", startErr)
	}

	fmt.Printf("\nNamespace %q:\n", ns.Name())
	for _, f := range ns.Exports() {
		fmt.Printf("  %s\n", f.Signature())
	}

	if o.list {
		return nil
	}

	if o.interactive {
		if !term.IsTerminal(int(os.Stdout.Fd())) {
			return fmt.Errorf("interactive mode needs a terminal")
		}
		return runInteractive(ns)
	}

	if o.wasmFile != "" {
		return callGuest(ctx, h, o)
	}
	if o.funcName != "" {
		return callNative(ctx, ns, o)
	}
	return nil
}

// extensions maps config block names to their entry sets.
var extensions = map[string]func(names ...string) ([]registry.Entry, error){
	"demo": demo.Select,
}

func loadExtensions(h *host.Host, cfg *config.Config, verbose bool) ([]*lifecycle.Controller, error) {
	var ctrls []*lifecycle.Controller
	for _, ext := range cfg.Extensions {
		sel, ok := extensions[ext.Name]
		if !ok {
			return nil, errors.NotFound(errors.PhaseConfig, "extension", ext.Name)
		}
		entries, err := sel(ext.Entries...)
		if err != nil {
			return nil, err
		}

		opts := []lifecycle.Option{
			lifecycle.WithNamespace(cfg.Namespace),
			lifecycle.WithPolicy(cfg.Policy()),
			lifecycle.WithModuleName(ext.Name),
		}
		if verbose {
			name := ext.Name
			opts = append(opts, lifecycle.WithObserver(func(tr lifecycle.Transition) {
				fmt.Fprintf(os.Stderr, "%s: %s -> %s\n", name, tr.From, tr.To)
			}))
		}

		c := lifecycle.New(lifecycle.Env{
			Interpreter: h.Interpreter(),
			Resolver:    h,
		}, registry.New(entries...), opts...)

		h.Subscribe(host.EventInterpreterInitialized, c.OnInterpreterInitialized)
		if err := h.Load(c); err != nil {
			return nil, err
		}
		ctrls = append(ctrls, c)
	}
	return ctrls, nil
}

func printController(c *lifecycle.Controller) {
	fmt.Printf("Extension: %s\n", c.Name())
	fmt.Printf("State: %s (%s, policy %s)\n", c.State(), c.PinState(), c.Policy())
	if c.Pinned() {
		pin := c.Pin()
		kind := "shared object"
		if pin.Static {
			kind = "static"
		}
		fmt.Printf("Pinned: %s (%s)\n", pin.Path, kind)
	}
	if r := c.Report(); r != nil {
		fmt.Printf("Installed: %s\n", strings.Join(r.Installed, ", "))
		for _, f := range r.Failed {
			fmt.Printf("Failed: %v\n", f)
		}
	}
	if err := c.Err(); err != nil {
		fmt.Printf("Error: %v\n", err)
	}
}

func callGuest(ctx context.Context, h *host.Host, o options) error {
	data, err := os.ReadFile(o.wasmFile)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	fmt.Printf("\nInstantiating %s...\n", o.wasmFile)
	mod, err := h.Instantiate(ctx, "guest", data)
	if err != nil {
		return err
	}

	name := o.funcName
	if name == "" {
		for _, candidate := range []string{"run", "main", "_start"} {
			if mod.ExportedFunction(candidate) != nil {
				name = candidate
				break
			}
		}
		if name == "" {
			fmt.Printf("No function specified and no common entry point found.\n")
			fmt.Printf("Use -func to specify a function to call.\n")
			return nil
		}
	}

	fn := mod.ExportedFunction(name)
	if fn == nil {
		return errors.NotFound(errors.PhaseHost, "export", name)
	}
	sig, err := host.CoreSignature(fn.Definition())
	if err != nil {
		return err
	}
	args, err := config.ParseArgs(o.args, sig.Params)
	if err != nil {
		return err
	}

	fmt.Printf("Calling %s(%s)...\n", name, strings.Join(o.args, ", "))
	out, err := h.Invoke(ctx, mod, name, sig, args...)
	if err != nil {
		return fmt.Errorf("call %s: %w", name, err)
	}
	fmt.Printf("Result: %s\n", formatResults(out))
	return nil
}

func callNative(ctx context.Context, ns *namespace.Namespace, o options) error {
	f, ok := ns.Func(o.funcName)
	if !ok {
		return errors.NotFound(errors.PhaseHost, "function", ns.Name()+"."+o.funcName)
	}
	args, err := config.ParseArgs(o.args, f.Params)
	if err != nil {
		return err
	}

	fmt.Printf("\nCalling %s...\n", f.Signature())
	out, err := ns.Invoke(ctx, f.Name, args...)
	if err != nil {
		return fmt.Errorf("call %s: %w", f.Name, err)
	}
	fmt.Printf("Result: %s\n", formatResults(out))
	return nil
}

func formatResults(out []any) string {
	switch len(out) {
	case 0:
		return "()"
	case 1:
		return fmt.Sprintf("%v", out[0])
	}
	parts := make([]string, len(out))
	for i, v := range out {
		parts[i] = fmt.Sprintf("%v", v)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

func setLoggers(l *zap.Logger) {
	bridge.SetLogger(l)
	namespace.SetLogger(l)
	registry.SetLogger(l)
	lifecycle.SetLogger(l)
	host.SetLogger(l)
}
