/*
Copyright 2024 Alexandre Mahdhaoui

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package runnerfake provides an in-memory ssh.Runner. It records every
// command, answers from registered responses and can emulate crudini, cat
// and printf redirections against in-memory files.
package runnerfake

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/alexandremahdhaoui/whitebox/internal/util/ssh"
	"github.com/alexandremahdhaoui/whitebox/pkg/execcontext"
	"github.com/kballard/go-shellquote"
	"gopkg.in/ini.v1"
)

var _ ssh.Runner = &Fake{}

// Call is one recorded invocation of Run.
type Call struct {
	Ctx  execcontext.Context
	Cmd  string
	Line string
}

// Response is returned for commands containing Match.
type Response struct {
	Match  string
	Stdout string
	Stderr string
	// ExitStatus, when non-zero, makes Run return a *ssh.RemoteExecutionError.
	ExitStatus int
	// Err, when set, is returned as is.
	Err error
}

type Fake struct {
	Host string

	mu        sync.Mutex
	calls     []Call
	responses []Response
	files     map[string]*ini.File
	raw       map[string]string
}

func New(host string) *Fake {
	return &Fake{
		Host:  host,
		files: make(map[string]*ini.File),
		raw:   make(map[string]string),
	}
}

// On registers a response. Responses are matched in registration order and
// take precedence over emulated commands.
func (f *Fake) On(r Response) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses = append(f.responses, r)
	return f
}

// WithINI enables crudini and cat emulation for path.
func (f *Fake) WithINI(path, content string) *Fake {
	file, err := ini.Load([]byte(content))
	if err != nil {
		panic(fmt.Sprintf("runnerfake: invalid ini for %s: %v", path, err))
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[path] = file
	return f
}

// WithFile makes "cat path" return content.
func (f *Fake) WithFile(path, content string) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.raw[path] = content
	return f
}

// File returns the content of a file written or registered with WithFile.
func (f *Fake) File(path string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	content, ok := f.raw[path]
	return content, ok
}

// Option returns the current value of an emulated INI option.
func (f *Fake) Option(path, section, key string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	file, ok := f.files[path]
	if !ok {
		return "", false
	}
	sec, err := file.GetSection(section)
	if err != nil || !sec.HasKey(key) {
		return "", false
	}
	return sec.Key(key).String(), true
}

// Calls returns every recorded call.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// Commands returns every recorded command, unwrapped.
func (f *Fake) Commands() []string {
	calls := f.Calls()
	out := make([]string, 0, len(calls))
	for _, c := range calls {
		out = append(out, c.Cmd)
	}
	return out
}

// Count returns how many recorded commands contain substr.
func (f *Fake) Count(substr string) int {
	n := 0
	for _, c := range f.Commands() {
		if strings.Contains(c, substr) {
			n++
		}
	}
	return n
}

// Run implements ssh.Runner.
func (f *Fake) Run(ctx context.Context, ectx execcontext.Context, cmd string) (string, string, error) {
	if err := ctx.Err(); err != nil {
		return "", "", err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, Call{Ctx: ectx, Cmd: cmd, Line: execcontext.FormatCmd(ectx, cmd)})

	for _, r := range f.responses {
		if strings.Contains(cmd, r.Match) {
			return f.result(cmd, r.Stdout, r.Stderr, r.ExitStatus, r.Err)
		}
	}

	if words, err := shellquote.Split(cmd); err == nil && len(words) > 0 {
		if stdout, stderr, status, ok := f.emulate(words); ok {
			return f.result(cmd, stdout, stderr, status, nil)
		}
	}

	return "", "", nil
}

func (f *Fake) result(cmd, stdout, stderr string, status int, err error) (string, string, error) {
	if err != nil {
		return stdout, stderr, err
	}
	if status != 0 {
		return stdout, stderr, &ssh.RemoteExecutionError{
			Host:       f.Host,
			Command:    cmd,
			ExitStatus: status,
			Stdout:     stdout,
			Stderr:     stderr,
		}
	}
	return stdout, stderr, nil
}

func (f *Fake) emulate(words []string) (stdout, stderr string, status int, ok bool) {
	switch words[0] {
	case "cat":
		if len(words) != 2 {
			return "", "", 0, false
		}
		if content, found := f.raw[words[1]]; found {
			return content, "", 0, true
		}
		file, found := f.files[words[1]]
		if !found {
			return "", "", 0, false
		}
		var buf bytes.Buffer
		if _, err := file.WriteTo(&buf); err != nil {
			return "", err.Error(), 1, true
		}
		return buf.String(), "", 0, true

	case "printf":
		// printf %s content > path
		if len(words) != 5 || words[1] != "%s" || words[3] != ">" {
			return "", "", 0, false
		}
		f.raw[words[4]] = words[2]
		return "", "", 0, true

	case "crudini":
		if len(words) < 5 {
			return "", "", 0, false
		}
		op, path, section, key := words[1], words[2], words[3], words[4]
		file, found := f.files[path]
		if !found {
			return "", "", 0, false
		}

		switch op {
		case "--get":
			sec, err := file.GetSection(section)
			if err != nil {
				return "", "Section not found: " + section + "\n", 1, true
			}
			if !sec.HasKey(key) {
				return "", "Parameter not found: " + key + "\n", 1, true
			}
			return sec.Key(key).String() + "\n", "", 0, true

		case "--set":
			value := ""
			if len(words) > 5 {
				value = words[5]
			}
			file.Section(section).Key(key).SetValue(value)
			return "", "", 0, true

		case "--del":
			if sec, err := file.GetSection(section); err == nil {
				sec.DeleteKey(key)
			}
			return "", "", 0, true
		}
	}

	return "", "", 0, false
}
