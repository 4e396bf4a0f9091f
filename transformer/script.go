package transformer

import (
	"context"
	"errors"
	"fmt"

	"github.com/amp-labs/workflow-core/merge"
	"github.com/amp-labs/workflow-core/rules"
	"github.com/dop251/goja"
)

var ErrScriptInterrupted = errors.New("script interrupted")

// scriptTransformer runs an ECMAScript function body with the input bound to
// `input`. The body's return value is the output.
//
//	mapping: "return { name: input.entity.name.toUpperCase() };"
type scriptTransformer struct {
	program *goja.Program
}

func newScript(mapping any) (*scriptTransformer, error) {
	src, ok := mapping.(string)
	if !ok || src == "" {
		return nil, fmt.Errorf("%w: script mapping must be a non-empty string", ErrInvalidMapping)
	}

	program, err := goja.Compile("transformer", fmt.Sprintf("(function(input) {\n%s\n})(input);\n", src), true)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidMapping, err)
	}

	return &scriptTransformer{program: program}, nil
}

func (t *scriptTransformer) Kind() Kind {
	return KindScript
}

// Transform runs the program on a fresh runtime, since a goja.Runtime is not
// safe for concurrent use. Cancelling ctx interrupts the script.
func (t *scriptTransformer) Transform(ctx context.Context, input any) (result any, err error) {
	data, err := rules.Normalize(input)
	if err != nil {
		return nil, err
	}

	// The runtime wraps maps by reference; scripts must not reach the caller's data.
	data = merge.Clone(data)

	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))

	if err := vm.Set("input", data); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		<-runCtx.Done()
		vm.Interrupt(ErrScriptInterrupted)
	}()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("script panicked: %v", r)
		}
	}()

	value, err := vm.RunProgram(t.program)
	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			return nil, fmt.Errorf("%w: %w", ErrScriptInterrupted, ctx.Err())
		}

		return nil, err
	}

	if value == nil || goja.IsUndefined(value) || goja.IsNull(value) {
		return nil, nil //nolint:nilnil
	}

	// Round-trip through JSON so callers only ever see generic values.
	return rules.Normalize(value.Export())
}
