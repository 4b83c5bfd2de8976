package catalog

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/scanctl/internal/testutil/testlog"
	"github.com/danmuck/scanctl/internal/tools"
)

type nopSandbox struct{}

func (nopSandbox) Stop(context.Context, string) error   { return nil }
func (nopSandbox) Remove(context.Context, string) error { return nil }

func TestRegisterValidatesDefinitions(t *testing.T) {
	testlog.Start(t)
	reg := NewRegistry(Options{})

	cases := []struct {
		def  Definition
		want error
	}{
		{Definition{Name: "Bad Name", Command: []string{"true"}}, ErrInvalidDefinition},
		{Definition{Name: "-lead", Command: []string{"true"}}, ErrInvalidDefinition},
		{Definition{Name: "a..b", Command: []string{"true"}}, ErrInvalidDefinition},
		{Definition{Name: "empty"}, ErrInvalidDefinition},
		{Definition{Name: "neg", Command: []string{"true"}, Timeout: -time.Second}, ErrInvalidDefinition},
		{Definition{Name: "noscript", Command: []string{"true"}, Parser: ParserScript}, ErrInvalidDefinition},
		{Definition{Name: "xml", Command: []string{"true"}, Parser: "xml"}, ErrUnknownParser},
	}
	for _, tc := range cases {
		if err := reg.Register(tc.def); !errors.Is(err, tc.want) {
			t.Fatalf("%q: expected %v, got %v", tc.def.Name, tc.want, err)
		}
	}

	if err := reg.Register(Definition{Name: "nmap", Command: []string{"nmap"}}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.Register(Definition{Name: "nmap", Command: []string{"nmap"}}); !errors.Is(err, ErrToolExists) {
		t.Fatalf("expected ErrToolExists, got %v", err)
	}
	def, ok := reg.Resolve("nmap")
	if !ok || def.Parser != ParserRaw {
		t.Fatalf("unexpected resolve: %+v %v", def, ok)
	}
}

func TestListIsSortedByName(t *testing.T) {
	testlog.Start(t)
	reg := NewRegistry(Options{})
	for _, name := range []string{"whatweb", "amass", "nmap"} {
		if err := reg.Register(Definition{Name: name, Command: []string{name}}); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}
	var names []string
	for _, def := range reg.List() {
		names = append(names, def.Name)
	}
	if !reflect.DeepEqual(names, []string{"amass", "nmap", "whatweb"}) {
		t.Fatalf("unexpected order: %v", names)
	}
}

func TestBuildExpandsPlaceholders(t *testing.T) {
	testlog.Start(t)
	reg := NewRegistry(Options{DefaultTimeout: 42 * time.Second, Sandbox: nopSandbox{}})
	if err := reg.Register(Definition{
		Name:      "nmap",
		Command:   []string{"docker", "run", "--name", "{container}", "scanner", "-sV", "{target}"},
		Parser:    ParserLines,
		Container: true,
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	tool, err := reg.Build("nmap", " example.org ")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if tool.Timeout() != 42*time.Second {
		t.Fatalf("unexpected timeout: %s", tool.Timeout())
	}
	container := tool.Container()
	if !strings.HasPrefix(container, "nmap-") || len(container) != len("nmap-")+8 {
		t.Fatalf("unexpected container name: %q", container)
	}
	argv := tool.Command()
	if argv[3] != container || argv[6] != "example.org" {
		t.Fatalf("placeholders not expanded: %q", argv)
	}
	if tool.State() != tools.StateNotStarted {
		t.Fatalf("expected fresh tool, got %s", tool.State())
	}

	other, err := reg.Build("nmap", "example.org")
	if err != nil {
		t.Fatalf("second build: %v", err)
	}
	if other == tool || other.Container() == container {
		t.Fatalf("expected a distinct tool and container per build")
	}

	if _, err := reg.Build("missing", "x"); !errors.Is(err, ErrUnknownTool) {
		t.Fatalf("expected ErrUnknownTool, got %v", err)
	}
}

func TestBuildHostToolHasNoContainer(t *testing.T) {
	testlog.Start(t)
	reg := NewRegistry(Options{})
	if err := reg.Register(DefaultDefinitions()[0]); err != nil {
		t.Fatalf("register: %v", err)
	}
	tool, err := reg.Build("dummytool", "")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if tool.Container() != "" || tool.Timeout() != 10*time.Second {
		t.Fatalf("unexpected tool: container=%q timeout=%s", tool.Container(), tool.Timeout())
	}
	if !reflect.DeepEqual(tool.Command(), []string{"echo", "dummy tool output"}) {
		t.Fatalf("unexpected argv: %q", tool.Command())
	}
}

func TestBuildRejectsOptionLikeTargets(t *testing.T) {
	testlog.Start(t)
	reg := NewRegistry(Options{})
	if err := reg.Register(Definition{Name: "nmap", Command: []string{"nmap", "-sV", "{target}"}}); err != nil {
		t.Fatalf("register: %v", err)
	}
	for _, target := range []string{"-oN /tmp/x", " --script=evil", "-"} {
		if _, err := reg.Build("nmap", target); !errors.Is(err, ErrInvalidTarget) {
			t.Fatalf("%q: expected ErrInvalidTarget, got %v", target, err)
		}
	}
	tool, err := reg.Build("nmap", "scan-me.example.org")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if argv := tool.Command(); argv[2] != "scan-me.example.org" {
		t.Fatalf("unexpected argv: %q", argv)
	}
}
