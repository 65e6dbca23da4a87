// Package dummy provides a scripted completion backend for local runs and tests.
package dummy

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

type action struct {
	kind string
	arg  string
}

// parseScript reads a comma-separated action list:
// ok[:text], err[:class], sleep:<ms>, msg:<text>, msgb64:<base64>, echo.
func parseScript(script string) ([]action, error) {
	if strings.TrimSpace(script) == "" {
		return []action{{kind: "ok"}}, nil
	}
	parts := strings.Split(script, ",")
	actions := make([]action, 0, len(parts))
	for _, p := range parts {
		token := strings.TrimSpace(p)
		if token == "" {
			continue
		}
		kind, arg, _ := strings.Cut(token, ":")
		switch kind {
		case "ok", "err", "sleep", "msg", "msgb64", "echo":
			actions = append(actions, action{kind: kind, arg: arg})
		default:
			return nil, fmt.Errorf("invalid dummy action: %s", token)
		}
	}
	if len(actions) == 0 {
		actions = append(actions, action{kind: "ok"})
	}
	return actions, nil
}

type scriptRunner struct {
	actions []action
	index   int
}

func newRunner(script string) (*scriptRunner, error) {
	actions, err := parseScript(script)
	if err != nil {
		return nil, err
	}
	return &scriptRunner{actions: actions}, nil
}

// next returns the next action; the last one repeats forever.
func (r *scriptRunner) next() action {
	if len(r.actions) == 0 {
		return action{kind: "ok"}
	}
	if r.index >= len(r.actions) {
		return r.actions[len(r.actions)-1]
	}
	a := r.actions[r.index]
	r.index++
	return a
}

// Call records one Complete invocation.
type Call struct {
	Model  string
	Prompt string
}

// Provider replays a script of canned replies and errors.
type Provider struct {
	mu     sync.Mutex
	script *scriptRunner
	calls  []Call
}

func NewProvider(script string) (*Provider, error) {
	runner, err := newRunner(script)
	if err != nil {
		return nil, err
	}
	return &Provider{script: runner}, nil
}

// Calls returns a copy of every call received so far.
func (p *Provider) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Call, len(p.calls))
	copy(out, p.calls)
	return out
}

func (p *Provider) Complete(ctx context.Context, modelID, prompt string) (string, error) {
	p.mu.Lock()
	p.calls = append(p.calls, Call{Model: modelID, Prompt: prompt})
	a := p.script.next()
	p.mu.Unlock()

	switch a.kind {
	case "err":
		return "", fmt.Errorf("dummy provider error class=%s", emptyAs(a.arg, "provider_api"))
	case "sleep":
		ms, _ := strconv.Atoi(a.arg)
		if ms > 0 {
			t := time.NewTimer(time.Duration(ms) * time.Millisecond)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-t.C:
			}
		}
		return "dummy-after-sleep", nil
	case "msg":
		return a.arg, nil
	case "msgb64":
		raw, err := base64.StdEncoding.DecodeString(a.arg)
		if err != nil {
			return "", fmt.Errorf("dummy provider msgb64 decode failed: %w", err)
		}
		return string(raw), nil
	case "echo":
		return prompt, nil
	default:
		return emptyAs(a.arg, "dummy-ok"), nil
	}
}

func emptyAs(v string, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
