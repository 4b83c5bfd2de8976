package catalog

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/scanctl/internal/tools"
	"github.com/google/uuid"
)

var (
	ErrToolExists        = errors.New("catalog: tool already registered")
	ErrInvalidDefinition = errors.New("catalog: invalid tool definition")
	ErrUnknownTool       = errors.New("catalog: unknown tool")
	ErrUnknownParser     = errors.New("catalog: unknown parser")
	ErrInvalidTarget     = errors.New("catalog: invalid target")
)

const (
	ParserRaw    = "raw"
	ParserLines  = "lines"
	ParserJSON   = "json"
	ParserScript = "script"
	ParserHTML   = "html"
)

// Placeholders expanded in each argv element by Build.
const (
	TargetPlaceholder    = "{target}"
	ContainerPlaceholder = "{container}"
)

// Definition describes how to build a tool.
type Definition struct {
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Command     []string      `json:"command"`
	Timeout     time.Duration `json:"timeout"`
	Parser      string        `json:"parser"`
	Script      string        `json:"-"`
	BaseURL     string        `json:"base_url,omitempty"`
	Container   bool          `json:"container"`
}

// Options carries the runtime defaults applied by Build.
type Options struct {
	DefaultTimeout time.Duration
	Sandbox        tools.Sandbox
}

// Registry stores tool definitions by name.
type Registry struct {
	opts Options

	mu    sync.RWMutex
	items map[string]Definition
}

func NewRegistry(opts Options) *Registry {
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = tools.DefaultTimeout
	}
	if opts.Sandbox == nil {
		opts.Sandbox = tools.NewDockerSandbox("")
	}
	return &Registry{opts: opts, items: make(map[string]Definition)}
}

// ValidateDefinition checks the name format, command and parser kind.
func ValidateDefinition(def Definition) error {
	name := strings.TrimSpace(def.Name)
	if !isValidName(name) {
		return fmt.Errorf("%w: invalid name %q", ErrInvalidDefinition, def.Name)
	}
	if len(def.Command) == 0 || strings.TrimSpace(def.Command[0]) == "" {
		return fmt.Errorf("%w: %s: command is required", ErrInvalidDefinition, name)
	}
	if def.Timeout < 0 {
		return fmt.Errorf("%w: %s: negative timeout", ErrInvalidDefinition, name)
	}
	switch parserKind(def.Parser) {
	case ParserRaw, ParserLines, ParserJSON, ParserHTML:
	case ParserScript:
		if strings.TrimSpace(def.Script) == "" {
			return fmt.Errorf("%w: %s: script parser needs a script", ErrInvalidDefinition, name)
		}
	default:
		return fmt.Errorf("%w: %s: %q", ErrUnknownParser, name, def.Parser)
	}
	return nil
}

func (r *Registry) Register(def Definition) error {
	if err := ValidateDefinition(def); err != nil {
		return err
	}
	def.Name = strings.TrimSpace(def.Name)
	def.Parser = parserKind(def.Parser)
	def.Command = append([]string(nil), def.Command...)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[def.Name]; ok {
		return fmt.Errorf("%w: %s", ErrToolExists, def.Name)
	}
	r.items[def.Name] = def
	return nil
}

func (r *Registry) Resolve(name string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.items[strings.TrimSpace(name)]
	return def, ok
}

// List returns definitions ordered by name.
func (r *Registry) List() []Definition {
	r.mu.RLock()
	list := make([]Definition, 0, len(r.items))
	for _, def := range r.items {
		list = append(list, def)
	}
	r.mu.RUnlock()
	sort.Slice(list, func(i, j int) bool {
		return list[i].Name < list[j].Name
	})
	return list
}

// Build returns a fresh, unstarted tool for target. Container-backed tools
// get a unique container name, exposed to the command as {container}.
// Targets starting with "-" are refused so they cannot become tool flags.
func (r *Registry) Build(name, target string) (*tools.Tool, error) {
	def, ok := r.Resolve(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	target = strings.TrimSpace(target)
	if strings.HasPrefix(target, "-") {
		return nil, fmt.Errorf("%w: %q looks like an option", ErrInvalidTarget, target)
	}
	parser, err := newParser(def)
	if err != nil {
		return nil, err
	}

	container := ""
	if def.Container {
		container = def.Name + "-" + uuid.NewString()[:8]
	}
	replacer := strings.NewReplacer(
		TargetPlaceholder, target,
		ContainerPlaceholder, container,
	)
	argv := make([]string, len(def.Command))
	for i, arg := range def.Command {
		argv[i] = replacer.Replace(arg)
	}

	timeout := def.Timeout
	if timeout <= 0 {
		timeout = r.opts.DefaultTimeout
	}
	spec := tools.Spec{
		Name:    def.Name,
		Command: argv,
		Timeout: timeout,
		Parser:  parser,
	}
	if container != "" {
		spec.Container = container
		spec.Sandbox = r.opts.Sandbox
	}
	return tools.New(spec), nil
}

func newParser(def Definition) (tools.Parser, error) {
	switch parserKind(def.Parser) {
	case ParserRaw:
		return tools.RawParser{}, nil
	case ParserLines:
		return tools.LinesParser{}, nil
	case ParserJSON:
		return tools.JSONParser{}, nil
	case ParserScript:
		return tools.ScriptParser{Source: def.Script}, nil
	case ParserHTML:
		return tools.HTMLParser{BaseURL: def.BaseURL}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownParser, def.Parser)
	}
}

func parserKind(kind string) string {
	kind = strings.ToLower(strings.TrimSpace(kind))
	if kind == "" {
		return ParserRaw
	}
	return kind
}

func isValidName(name string) bool {
	if name == "" {
		return false
	}
	lastSep := false
	for i := 0; i < len(name); i++ {
		c := name[i]
		isLower := c >= 'a' && c <= 'z'
		isDigit := c >= '0' && c <= '9'
		isSep := c == '.' || c == '-' || c == '_'
		if !(isLower || isDigit || isSep) {
			return false
		}
		if (i == 0 || i == len(name)-1) && isSep {
			return false
		}
		if isSep && lastSep {
			return false
		}
		lastSep = isSep
	}
	return true
}
