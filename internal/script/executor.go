// Package script runs user-authored framing and transform scripts in an
// isolated JavaScript runtime with a per-call timeout.
package script

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dop251/goja"
	"github.com/rs/zerolog"
)

// DefaultTimeout bounds a script call when the caller passes zero
const DefaultTimeout = 2 * time.Second

var ErrTimeout = errors.New("script: execution timed out")

// ScriptError is a compile error or an exception thrown by the script
type ScriptError struct {
	Err error
}

func (e *ScriptError) Error() string {
	return fmt.Sprintf("script: %v", e.Err)
}

func (e *ScriptError) Unwrap() error {
	return e.Err
}

// Executor runs source with env exposed as globals and returns the script's result.
type Executor interface {
	Execute(ctx context.Context, source string, env map[string]any, timeout time.Duration) (any, error)
}

// Sandbox is a goja-backed Executor. Every call gets a fresh runtime;
// compiled programs are cached by source.
type Sandbox struct {
	log      zerolog.Logger
	programs sync.Map // map[string]*goja.Program
}

// NewSandbox creates a sandbox that routes console.log to log at debug level
func NewSandbox(log zerolog.Logger) *Sandbox {
	return &Sandbox{log: log.With().Str("component", "script").Logger()}
}

// Execute implements Executor
func (s *Sandbox) Execute(ctx context.Context, source string, env map[string]any, timeout time.Duration) (result any, err error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	prog, err := s.compile(source)
	if err != nil {
		return nil, err
	}

	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	if err := s.installGlobals(vm, env); err != nil {
		return nil, &ScriptError{Err: err}
	}

	timer := time.AfterFunc(timeout, func() { vm.Interrupt(ErrTimeout) })
	defer timer.Stop()
	stop := context.AfterFunc(ctx, func() { vm.Interrupt(ctx.Err()) })
	defer stop()

	defer func() {
		if r := recover(); r != nil {
			result, err = nil, &ScriptError{Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	v, err := vm.RunProgram(prog)
	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			if cause, ok := interrupted.Value().(error); ok {
				if errors.Is(cause, ErrTimeout) {
					return nil, fmt.Errorf("%w after %s", ErrTimeout, timeout)
				}
				return nil, cause
			}
		}
		return nil, &ScriptError{Err: err}
	}
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, nil
	}
	return exportValue(v.Export()), nil
}

// compile compiles source as a script whose value is its last expression.
// Source that only compiles as a function body, because it uses a top-level
// return, is wrapped in one.
func (s *Sandbox) compile(source string) (*goja.Program, error) {
	if p, ok := s.programs.Load(source); ok {
		return p.(*goja.Program), nil
	}
	prog, err := goja.Compile("user-script", source, false)
	if err != nil {
		wrapped, werr := goja.Compile("user-script", "(function() {\n"+source+"\n})()", false)
		if werr != nil {
			return nil, &ScriptError{Err: err}
		}
		prog = wrapped
	}
	s.programs.Store(source, prog)
	return prog, nil
}

func (s *Sandbox) installGlobals(vm *goja.Runtime, env map[string]any) error {
	console := vm.NewObject()
	logFn := func(call goja.FunctionCall) goja.Value {
		args := make([]any, 0, len(call.Arguments))
		for _, a := range call.Arguments {
			args = append(args, a.Export())
		}
		s.log.Debug().Interface("args", args).Msg("console.log")
		return goja.Undefined()
	}
	if err := console.Set("log", logFn); err != nil {
		return err
	}
	if err := vm.Set("console", console); err != nil {
		return err
	}
	for name, v := range env {
		if err := vm.Set(name, toJS(vm, v)); err != nil {
			return fmt.Errorf("set %s: %w", name, err)
		}
	}
	return nil
}

// toJS converts Go values into native JS arrays and objects so scripts can
// use the regular Array and Object methods on them.
func toJS(vm *goja.Runtime, v any) goja.Value {
	switch t := v.(type) {
	case nil:
		return goja.Null()
	case []byte:
		items := make([]any, len(t))
		for i, b := range t {
			items[i] = int64(b)
		}
		return vm.NewArray(items...)
	case []any:
		items := make([]any, len(t))
		for i, item := range t {
			items[i] = toJS(vm, item)
		}
		return vm.NewArray(items...)
	case []map[string]any:
		items := make([]any, len(t))
		for i, item := range t {
			items[i] = toJS(vm, item)
		}
		return vm.NewArray(items...)
	case map[string]any:
		obj := vm.NewObject()
		for k, item := range t {
			_ = obj.Set(k, toJS(vm, item))
		}
		return obj
	case time.Time:
		return vm.ToValue(t.UnixMilli())
	}
	return vm.ToValue(v)
}

// exportValue unwraps goja-specific export types into plain Go values
func exportValue(v any) any {
	switch t := v.(type) {
	case goja.ArrayBuffer:
		return append([]byte(nil), t.Bytes()...)
	case []any:
		for i := range t {
			t[i] = exportValue(t[i])
		}
		return t
	case map[string]any:
		for k := range t {
			t[k] = exportValue(t[k])
		}
		return t
	}
	return v
}
