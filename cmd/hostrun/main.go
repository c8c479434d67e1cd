// Command hostrun loads a wasm module under an interface schema and
// calls its exports from the command line.
//
//	hostrun -wasm mod.wasm -wit api.wit -func add -args 1,2
//	hostrun -wasm mod.wasm -wit api.wit -list
//	hostrun -wasm mod.wasm -wit api.wit -i   (interactive mode)
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/term"

	"github.com/wasmlab/component-host/host"
	"github.com/wasmlab/component-host/schema"
)

func main() {
	var (
		wasmFile    = flag.String("wasm", "", "Path to wasm module")
		witFile     = flag.String("wit", "", "Path to WIT-style schema file")
		funcName    = flag.String("func", "", "Function to call")
		argsStr     = flag.String("args", "", "Arguments (comma-separated)")
		configFile  = flag.String("config", "", "Host config YAML (optional)")
		list        = flag.Bool("list", false, "List schema functions and exit")
		interactive = flag.Bool("i", false, "Interactive mode with TUI")
	)
	flag.Parse()

	if *wasmFile == "" || *witFile == "" {
		fmt.Fprintln(os.Stderr, "Usage: hostrun -wasm <file.wasm> -wit <api.wit> [-func name -args a,b,c]")
		fmt.Fprintln(os.Stderr, "       hostrun -wasm <file.wasm> -wit <api.wit> -list")
		fmt.Fprintln(os.Stderr, "       hostrun -wasm <file.wasm> -wit <api.wit> -i  (interactive mode)")
		os.Exit(1)
	}

	if *interactive {
		if err := runInteractive(*wasmFile, *witFile, *configFile); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(*wasmFile, *witFile, *configFile, *funcName, *argsStr, *list); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadRuntime(ctx context.Context, wasmFile, witFile, configFile string) (*host.Runtime, *host.Module, error) {
	wasm, err := os.ReadFile(wasmFile)
	if err != nil {
		return nil, nil, fmt.Errorf("read module: %w", err)
	}
	witText, err := os.ReadFile(witFile)
	if err != nil {
		return nil, nil, fmt.Errorf("read schema: %w", err)
	}

	cfg := host.DefaultConfig()
	if configFile != "" {
		cfg, err = host.LoadConfig(configFile)
		if err != nil {
			return nil, nil, err
		}
	}

	rt, err := host.New(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	mod, err := rt.LoadWIT(ctx, wasm, string(witText))
	if err != nil {
		rt.Close(ctx)
		return nil, nil, err
	}
	return rt, mod, nil
}

func run(wasmFile, witFile, configFile, funcName, argsStr string, listOnly bool) error {
	ctx := context.Background()

	rt, mod, err := loadRuntime(ctx, wasmFile, witFile, configFile)
	if err != nil {
		return err
	}
	defer rt.Close(ctx)

	styled := term.IsTerminal(int(os.Stdout.Fd()))
	fmt.Printf("Module: %s (%s)\n", wasmFile, mod.Hash()[:12])
	fmt.Printf("Functions:\n")
	for _, sig := range mod.Interface().Funcs {
		fmt.Printf("  %s\n", formatSignature(&sig, styled))
	}

	if listOnly {
		return nil
	}
	if funcName == "" {
		fmt.Println("\nUse -func to call a function.")
		return nil
	}

	sig, ok := mod.Interface().Function(funcName)
	if !ok {
		return fmt.Errorf("function %q not in schema", funcName)
	}

	var rawArgs []string
	if argsStr != "" {
		rawArgs = strings.Split(argsStr, ",")
	}
	if len(rawArgs) != len(sig.Params) {
		return fmt.Errorf("%s takes %d arguments, got %d", funcName, len(sig.Params), len(rawArgs))
	}
	args := make([]any, len(rawArgs))
	for i, raw := range rawArgs {
		v, err := convertArg(raw, &sig.Params[i])
		if err != nil {
			return fmt.Errorf("argument %d: %w", i+1, err)
		}
		args[i] = v
	}

	result, err := rt.Invoke(ctx, mod, funcName, args...)
	if err != nil {
		return err
	}
	fmt.Printf("Result: %v\n", result)
	return nil
}

func formatSignature(sig *schema.Signature, styled bool) string {
	var params []string
	for i := range sig.Params {
		t := schema.TypeString(&sig.Params[i])
		if styled {
			t = typeStyle.Render(t)
		}
		params = append(params, t)
	}
	var results []string
	for i := range sig.Results {
		t := schema.TypeString(&sig.Results[i])
		if styled {
			t = typeStyle.Render(t)
		}
		results = append(results, t)
	}
	name := sig.Name
	if styled {
		name = funcStyle.Render(name)
	}
	out := name + "(" + strings.Join(params, ", ") + ")"
	switch len(results) {
	case 0:
	case 1:
		out += " -> " + results[0]
	default:
		out += " -> (" + strings.Join(results, ", ") + ")"
	}
	return out
}

// convertArg parses a CLI string into the host value a schema type
// expects. Compound types take no CLI form; the interactive mode and
// library API cover those.
func convertArg(value string, t *schema.TypeDesc) (any, error) {
	value = strings.TrimSpace(value)
	switch t.Kind {
	case schema.KindBool:
		return value == "true" || value == "1", nil
	case schema.KindS32:
		v, err := strconv.ParseInt(value, 10, 32)
		return int32(v), err
	case schema.KindS64:
		return strconv.ParseInt(value, 10, 64)
	case schema.KindU32:
		v, err := strconv.ParseUint(value, 10, 32)
		return uint32(v), err
	case schema.KindU64:
		return strconv.ParseUint(value, 10, 64)
	case schema.KindF32:
		v, err := strconv.ParseFloat(value, 32)
		return float32(v), err
	case schema.KindF64:
		return strconv.ParseFloat(value, 64)
	case schema.KindString:
		return value, nil
	case schema.KindBytes:
		return []byte(value), nil
	}
	return nil, fmt.Errorf("type %s has no command-line form", schema.TypeString(t))
}
