package actor

import (
	"context"
	"fmt"

	"github.com/actorkit/actorkit/pkg/models"
)

type exitSettings struct {
	exitCode      int
	statusMessage string
}

// ExitOption adjusts how Exit or Fail finishes the run
type ExitOption func(*exitSettings)

// WithExitCode overrides the exit code
func WithExitCode(code int) ExitOption {
	return func(s *exitSettings) { s.exitCode = code }
}

// WithStatusMessage sets the terminal status message
func WithStatusMessage(message string) ExitOption {
	return func(s *exitSettings) { s.statusMessage = message }
}

// WithError uses the error text as the terminal status message
func WithError(err error) ExitOption {
	return func(s *exitSettings) {
		if err != nil {
			s.statusMessage = err.Error()
			if s.exitCode == models.ExitCodeSuccess {
				s.exitCode = models.ExitCodeFailure
			}
		}
	}
}

type statusSettings struct {
	terminal bool
}

// StatusOption adjusts SetStatusMessage
type StatusOption func(*statusSettings)

// Terminal marks the status message as final
func Terminal() StatusOption {
	return func(s *statusSettings) { s.terminal = true }
}

// RunFunc is the body of an actor run
type RunFunc func(ctx context.Context, a *Actor) error

// Main wraps the whole actor lifecycle around fn: Init, then fn, then
// Exit on success or Fail on error or panic. It returns the process
// exit code so callers can pass it straight to os.Exit.
func Main(ctx context.Context, fn RunFunc) int {
	return MainWithConfig(ctx, ConfigFromEnv(), fn)
}

// MainWithConfig is Main with explicit configuration
func MainWithConfig(ctx context.Context, cfg Config, fn RunFunc) int {
	a := New(cfg)
	if err := a.Init(ctx); err != nil {
		a.log.Error("Actor initialization failed", map[string]interface{}{"error": err.Error()})
		return models.ExitCodeFailure
	}

	err := runBody(ctx, a, fn)
	if err != nil {
		if failErr := a.Fail(ctx, WithError(err)); failErr != nil {
			a.log.Error("Failed to report failure", map[string]interface{}{"error": failErr.Error()})
		}
		return a.ExitCode()
	}

	if a.requireRunning() == nil {
		if exitErr := a.Exit(ctx); exitErr != nil {
			a.log.Error("Failed to report exit", map[string]interface{}{"error": exitErr.Error()})
		}
	}
	return a.ExitCode()
}

func runBody(ctx context.Context, a *Actor, fn RunFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("actor panicked: %v", r)
		}
	}()
	return fn(ctx, a)
}
