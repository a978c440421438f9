package execcontext

import (
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"

	"github.com/kballard/go-shellquote"
)

// Context describes how a command is wrapped before it reaches the remote
// shell: environment variables and an ordered stack of prefix layers, the
// outermost first. A Context is immutable. The With* helpers return a child
// and leave their parent untouched, so leaving a scope means going back to
// using the parent.
type Context interface {
	Envs() map[string]string
	Layers() [][]string
}

// New returns a Context with the given envs and, when prependCmd is not
// empty, a single prefix layer.
func New(envs map[string]string, prependCmd []string) Context {
	c := &context{envs: maps.Clone(envs)}
	if len(prependCmd) > 0 {
		c.layers = [][]string{slices.Clone(prependCmd)}
	}
	return c
}

// Background is the empty Context.
func Background() Context {
	return &context{}
}

type context struct {
	envs   map[string]string
	layers [][]string
}

// Envs implements Context.
func (c *context) Envs() map[string]string {
	out := make(map[string]string, len(c.envs))
	maps.Copy(out, c.envs)
	return out
}

// Layers implements Context.
func (c *context) Layers() [][]string {
	out := make([][]string, 0, len(c.layers))
	for _, l := range c.layers {
		out = append(out, slices.Clone(l))
	}
	return out
}

// WithLayer returns a child of parent wrapped by one more prefix layer.
func WithLayer(parent Context, prefix ...string) Context {
	if parent == nil {
		parent = Background()
	}
	return &context{
		envs:   parent.Envs(),
		layers: append(parent.Layers(), slices.Clone(prefix)),
	}
}

// WithSudo returns a child of parent running commands through sudo.
func WithSudo(parent Context) Context {
	return WithLayer(parent, "sudo")
}

// WithContainer returns a child of parent running commands inside the named
// container through the given runtime ("docker" or "podman"). An empty user
// keeps the container default.
func WithContainer(parent Context, runtime, name, user string) Context {
	prefix := []string{runtime, "exec"}
	if user != "" {
		prefix = append(prefix, "-u", user)
	}
	return WithLayer(parent, append(prefix, name)...)
}

// WithEnv returns a child of parent with an additional environment variable.
func WithEnv(parent Context, key, value string) Context {
	if parent == nil {
		parent = Background()
	}
	envs := parent.Envs()
	envs[key] = value
	return &context{envs: envs, layers: parent.Layers()}
}

// FormatCmd renders cmd as a single line for a remote shell.
//
// Without any layer the command is returned as is. Otherwise every layer is
// emitted outermost first and the command is handed over as one opaque
// argument of "sh -c", so shell metacharacters keep their meaning inside the
// innermost scope only.
func FormatCmd(ctx Context, cmd string) string {
	if ctx == nil {
		ctx = Background()
	}

	var b strings.Builder

	envs := ctx.Envs()
	keys := make([]string, 0, len(envs))
	for k := range envs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%s ", k, shellquote.Join(envs[k]))
	}

	layers := ctx.Layers()
	if len(layers) == 0 {
		b.WriteString(cmd)
		return strings.TrimSpace(b.String())
	}

	for _, l := range layers {
		b.WriteString(shellquote.Join(l...))
		b.WriteByte(' ')
	}
	b.WriteString(shellquote.Join("sh", "-c", cmd))

	return b.String()
}
