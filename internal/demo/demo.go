// Package demo provides the example component that the CLI serves and the
// scenario harness drives. Every function goes through the host, so all of
// its nondeterminism is recorded.
package demo

import (
	"context"
	"fmt"
	"maps"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/durable/internal/engine"
	"github.com/roach88/durable/internal/hostcall"
)

// Name is the component name recorded in create entries.
const Name = "demo"

// Component returns a fresh copy of the demo component.
func Component() *engine.Component {
	return &engine.Component{
		Name:    Name,
		Version: 1,
		Functions: map[string]engine.Function{
			"roll":       Roll,
			"token":      Token,
			"deposit":    Deposit,
			"balance":    Balance,
			"wait":       Wait,
			"stamp":      Stamp,
			"stamp_uuid": StampUUID,
			"stamp_late": StampLate,
		},
	}
}

// Components lists every component this binary can run.
func Components() []*engine.Component {
	return []*engine.Component{Component()}
}

// Replace returns a copy of c whose function name runs the implementation
// registered as with. It models deploying changed code under a running
// worker.
func Replace(c *engine.Component, name, with string) (*engine.Component, error) {
	fn, ok := c.Functions[with]
	if !ok {
		return nil, fmt.Errorf("component %s has no function %q", c.Name, with)
	}
	if _, ok := c.Functions[name]; !ok {
		return nil, fmt.Errorf("component %s has no function %q", c.Name, name)
	}
	out := &engine.Component{Name: c.Name, Version: c.Version + 1, Functions: maps.Clone(c.Functions)}
	out.Functions[name] = fn
	return out, nil
}

// Roll draws a die face.
func Roll(ctx context.Context, h *hostcall.Host, _ []byte) ([]byte, error) {
	n, err := h.Rand(ctx)
	if err != nil {
		return nil, err
	}
	return []byte(strconv.FormatUint(n%6+1, 10)), nil
}

// Token returns a fresh UUID.
func Token(ctx context.Context, h *hostcall.Host, _ []byte) ([]byte, error) {
	id, err := h.NewUUID(ctx)
	if err != nil {
		return nil, err
	}
	return []byte(id.String()), nil
}

// Deposit adds to an account kept in the kv store. Args are "account:amount".
func Deposit(ctx context.Context, h *hostcall.Host, args []byte) ([]byte, error) {
	account, raw, ok := strings.Cut(string(args), ":")
	if !ok || account == "" {
		return nil, fmt.Errorf("deposit: want account:amount, got %q", args)
	}
	amount, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("deposit: amount: %w", err)
	}
	current, err := balance(ctx, h, account)
	if err != nil {
		return nil, err
	}
	total := current + amount
	if err := h.Put(ctx, account, strconv.FormatInt(total, 10)); err != nil {
		return nil, err
	}
	return []byte(strconv.FormatInt(total, 10)), nil
}

// Balance reads an account. Unknown accounts hold zero.
func Balance(ctx context.Context, h *hostcall.Host, args []byte) ([]byte, error) {
	total, err := balance(ctx, h, string(args))
	if err != nil {
		return nil, err
	}
	return []byte(strconv.FormatInt(total, 10)), nil
}

func balance(ctx context.Context, h *hostcall.Host, account string) (int64, error) {
	v, found, err := h.Get(ctx, account)
	if err != nil || !found {
		return 0, err
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("account %s holds %q: %w", account, v, err)
	}
	return n, nil
}

// Wait sleeps for the duration in args and returns the time it woke up.
func Wait(ctx context.Context, h *hostcall.Host, args []byte) ([]byte, error) {
	d, err := time.ParseDuration(string(args))
	if err != nil {
		return nil, fmt.Errorf("wait: %w", err)
	}
	if err := h.Sleep(ctx, d); err != nil {
		return nil, err
	}
	now, err := h.Now(ctx)
	if err != nil {
		return nil, err
	}
	return []byte(now.Format(time.RFC3339)), nil
}

// Stamp reads the clock, then draws a number.
func Stamp(ctx context.Context, h *hostcall.Host, _ []byte) ([]byte, error) {
	now, err := h.Now(ctx)
	if err != nil {
		return nil, err
	}
	n, err := h.Rand(ctx)
	if err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf("%s %d", now.Format(time.RFC3339), n)), nil
}

// StampLate is Stamp with its two host calls swapped: it draws first and
// reads the clock second.
func StampLate(ctx context.Context, h *hostcall.Host, _ []byte) ([]byte, error) {
	n, err := h.Rand(ctx)
	if err != nil {
		return nil, err
	}
	now, err := h.Now(ctx)
	if err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf("%s %d", now.Format(time.RFC3339), n)), nil
}

// StampUUID reads the clock, then draws a UUID.
func StampUUID(ctx context.Context, h *hostcall.Host, _ []byte) ([]byte, error) {
	now, err := h.Now(ctx)
	if err != nil {
		return nil, err
	}
	id, err := h.NewUUID(ctx)
	if err != nil {
		return nil, err
	}
	return []byte(now.Format(time.RFC3339) + " " + id.String()), nil
}
