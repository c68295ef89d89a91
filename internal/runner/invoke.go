package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dop251/goja"
)

// Invoker reconstructs callables and runs them.
type Invoker struct {
	registry *Registry
	logger   *slog.Logger
}

// NewInvoker creates an Invoker resolving Go functions from registry.
func NewInvoker(registry *Registry, logger *slog.Logger) *Invoker {
	return &Invoker{registry: registry, logger: logger.With("component", "runner")}
}

// Invoke calls c with inputPath and outputPath.
func (iv *Invoker) Invoke(ctx context.Context, c Callable, inputPath, outputPath string) error {
	if err := c.Validate(); err != nil {
		return err
	}
	iv.logger.Debug("invoke", "callable", c.String(), "input", inputPath, "output", outputPath)

	switch c.Kind {
	case KindFunc:
		fn, err := iv.registry.Get(c.Name)
		if err != nil {
			return err
		}
		if err := fn(ctx, inputPath, outputPath); err != nil {
			return fmt.Errorf("func %s: %w", c.Name, err)
		}
		return nil
	case KindScript:
		return iv.runScript(ctx, c.Source, inputPath, outputPath)
	}
	return fmt.Errorf("unknown callable kind %q", c.Kind)
}

// Run is the execute-side entrypoint: it loads <uid>.func from dir, feeds
// it the input file's basename under dir and writes <uid>.output in dir.
func (iv *Invoker) Run(ctx context.Context, dir, uid, inputFile string) error {
	c, err := ReadFile(filepath.Join(dir, uid+".func"))
	if err != nil {
		return err
	}
	input := filepath.Join(dir, filepath.Base(inputFile))
	output := filepath.Join(dir, uid+".output")
	return iv.Invoke(ctx, c, input, output)
}

// runScript evaluates source to a function value and calls it with the two
// paths. The host exposes readFile, writeFile and log. A non-undefined
// return value is written to the output file when the script did not
// create it itself.
func (iv *Invoker) runScript(ctx context.Context, source, inputPath, outputPath string) error {
	vm := goja.New()
	if err := iv.installHost(vm); err != nil {
		return err
	}

	stop := context.AfterFunc(ctx, func() {
		vm.Interrupt(ctx.Err())
	})
	defer stop()

	val, err := vm.RunString("(" + source + "\n)")
	if err != nil {
		return scriptError(err)
	}
	fn, ok := goja.AssertFunction(val)
	if !ok {
		return errors.New("script does not evaluate to a function")
	}

	res, err := fn(goja.Undefined(), vm.ToValue(inputPath), vm.ToValue(outputPath))
	if err != nil {
		return scriptError(err)
	}
	if goja.IsUndefined(res) || goja.IsNull(res) {
		return nil
	}
	if _, err := os.Stat(outputPath); err == nil {
		return nil
	}
	if err := os.WriteFile(outputPath, []byte(res.String()), 0o644); err != nil {
		return fmt.Errorf("write script result: %w", err)
	}
	return nil
}

func (iv *Invoker) installHost(vm *goja.Runtime) error {
	readFile := func(call goja.FunctionCall) goja.Value {
		data, err := os.ReadFile(call.Argument(0).String())
		if err != nil {
			panic(vm.NewGoError(err))
		}
		return vm.ToValue(string(data))
	}
	writeFile := func(call goja.FunctionCall) goja.Value {
		if err := os.WriteFile(call.Argument(0).String(), []byte(call.Argument(1).String()), 0o644); err != nil {
			panic(vm.NewGoError(err))
		}
		return goja.Undefined()
	}
	logFn := func(call goja.FunctionCall) goja.Value {
		args := make([]any, 0, len(call.Arguments))
		for _, a := range call.Arguments {
			args = append(args, a.Export())
		}
		iv.logger.Info("script", "args", args)
		return goja.Undefined()
	}

	for name, fn := range map[string]func(goja.FunctionCall) goja.Value{
		"readFile":  readFile,
		"writeFile": writeFile,
		"log":       logFn,
	} {
		if err := vm.Set(name, fn); err != nil {
			return fmt.Errorf("set %s: %w", name, err)
		}
	}
	return nil
}

func scriptError(err error) error {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		if cause, ok := interrupted.Value().(error); ok {
			return fmt.Errorf("script interrupted: %w", cause)
		}
		return fmt.Errorf("script interrupted: %v", interrupted.Value())
	}
	return fmt.Errorf("JavaScript error: %w", err)
}
