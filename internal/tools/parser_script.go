package tools

import (
	"errors"
	"fmt"
	"time"

	"github.com/dop251/goja"
)

const defaultScriptLimit = time.Second

var ErrScriptParse = errors.New("tools: script parser")

// ScriptParser runs a JavaScript parse(stdout) function. An object result
// becomes the structured fields; any other value is stored under "result".
type ScriptParser struct {
	Source string
	Limit  time.Duration
}

func (p ScriptParser) Parse(stdout []byte) (Output, error) {
	if p.Source == "" {
		return Output{}, fmt.Errorf("%w: missing source", ErrScriptParse)
	}
	limit := p.Limit
	if limit <= 0 {
		limit = defaultScriptLimit
	}

	vm := goja.New()
	timer := time.AfterFunc(limit, func() {
		vm.Interrupt("timeout")
	})
	defer timer.Stop()

	if _, err := vm.RunString(p.Source); err != nil {
		return Output{}, fmt.Errorf("%w: load: %v", ErrScriptParse, err)
	}
	parse, ok := goja.AssertFunction(vm.Get("parse"))
	if !ok {
		return Output{}, fmt.Errorf("%w: parse is not a function", ErrScriptParse)
	}
	value, err := parse(goja.Undefined(), vm.ToValue(string(stdout)))
	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			return Output{}, fmt.Errorf("%w: exceeded %s", ErrScriptParse, limit)
		}
		return Output{}, fmt.Errorf("%w: %v", ErrScriptParse, err)
	}

	out := Output{Raw: string(stdout)}
	if value == nil || goja.IsUndefined(value) || goja.IsNull(value) {
		return out, nil
	}
	switch exported := value.Export().(type) {
	case map[string]any:
		out.Fields = exported
	default:
		out.Fields = map[string]any{"result": exported}
	}
	return out, nil
}
