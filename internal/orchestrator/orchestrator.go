// Package orchestrator ties provider selection, intent classification and
// history persistence together for one text transformation at a time.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/esnunes/quickllm/internal/config"
	"github.com/esnunes/quickllm/internal/db"
	"github.com/esnunes/quickllm/internal/intent"
	"github.com/esnunes/quickllm/internal/provider"
)

// State is the processing lifecycle signal surfaced to the shell.
type State string

const (
	StateReady      State = "ready"
	StateProcessing State = "processing"
	StateSuccess    State = "success"
	StateError      State = "error"
)

// Status carries a state plus a human-readable message, for rendering only.
type Status struct {
	State   State  `json:"state"`
	Message string `json:"message"`
}

// ErrBusy is returned when Process is called while another transformation is
// in flight. The call is a no-op: nothing is queued, no state changes.
var ErrBusy = errors.New("a text transformation is already in progress")

// ErrEmptyInput is returned for blank input, before any state transition.
var ErrEmptyInput = &provider.Error{Kind: provider.KindValidation, Message: "no text to process"}

const (
	guardIdle int32 = iota
	guardProcessing
)

type Orchestrator struct {
	cfg       *config.Store
	providers provider.Registry
	queries   *db.Queries
	logger    *zap.Logger
	notify    func(Status)

	sessionID string
	guard     atomic.Int32
}

// New builds an orchestrator. notify may be nil; it is invoked synchronously
// with each status transition, so callers should return quickly.
func New(cfg *config.Store, providers provider.Registry, queries *db.Queries, logger *zap.Logger, notify func(Status)) *Orchestrator {
	if notify == nil {
		notify = func(Status) {}
	}
	return &Orchestrator{
		cfg:       cfg,
		providers: providers,
		queries:   queries,
		logger:    logger,
		notify:    notify,
	}
}

// StartSession opens the session row that groups this run's requests and
// events. Safe to skip in tests; persistence stays best-effort without it.
func (o *Orchestrator) StartSession() error {
	id, err := o.queries.CreateSession(o.cfg.Provider(), o.cfg.CurrentModel())
	if err != nil {
		return fmt.Errorf("starting session: %w", err)
	}
	o.sessionID = id
	o.logger.Info("session started",
		zap.String("session", id),
		zap.String("provider", o.cfg.Provider()),
		zap.String("model", o.cfg.CurrentModel()))
	return nil
}

// EndSession stamps the session end time at graceful shutdown.
func (o *Orchestrator) EndSession() {
	if o.sessionID == "" {
		return
	}
	if err := o.queries.EndSession(o.sessionID); err != nil {
		o.logger.Warn("failed to end session", zap.String("session", o.sessionID), zap.Error(err))
	}
}

func (o *Orchestrator) SessionID() string { return o.sessionID }

// ResolveMode returns the effective mode for the input: the stored mode as-is
// with full confidence, or the classifier's pick when the stored mode is the
// auto sentinel.
func (o *Orchestrator) ResolveMode(text string) intent.Result {
	mode := o.cfg.CurrentMode()
	if mode != config.ModeAuto {
		return intent.Result{Mode: mode, Confidence: 1.0, Reason: "user specified mode"}
	}
	res := intent.Classify(text)
	o.logger.Debug("intent classified",
		zap.String("mode", res.Mode),
		zap.Float64("confidence", res.Confidence),
		zap.String("reason", res.Reason))
	return res
}

// Process runs one text transformation end to end: resolve mode and
// provider, log the request lifecycle, call the backend, persist the result.
// At most one call is active at a time; a call arriving while one is in
// flight returns ErrBusy without side effects. Persistence failures are
// logged and swallowed; only the provider call decides success or failure.
func (o *Orchestrator) Process(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyInput
	}

	if !o.guard.CompareAndSwap(guardIdle, guardProcessing) {
		return "", ErrBusy
	}
	defer o.guard.Store(guardIdle)

	o.notify(Status{State: StateProcessing, Message: "Processing text..."})

	o.logClipboard("copy", text, nil, "shortcut")

	res := o.ResolveMode(text)
	mode := res.Mode
	prompt := o.cfg.SystemPrompt(mode)
	providerName := o.cfg.Provider()
	model := o.cfg.ModelFor(providerName)

	client, err := o.providers.Get(providerName)
	if err != nil {
		o.notify(Status{State: StateError, Message: err.Error()})
		return "", err
	}

	requestID := o.logRequestStart(providerName, model, mode, text)
	start := time.Now()

	output, err := client.Transform(ctx, text, prompt, model)
	elapsed := time.Since(start)

	if err != nil {
		o.logRequestError(requestID, err, elapsed)
		o.logger.Info("transformation failed",
			zap.String("provider", providerName),
			zap.String("mode", mode),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
		o.notify(Status{State: StateError, Message: "Error processing text"})
		return "", err
	}

	o.logRequestSuccess(requestID, output, elapsed)
	o.recordHistory(mode, text, output, providerName, model, elapsed)
	o.logClipboard("paste", output, &mode, "automatic")

	o.logger.Info("transformation succeeded",
		zap.String("provider", providerName),
		zap.String("mode", mode),
		zap.Duration("elapsed", elapsed))
	o.notify(Status{State: StateSuccess, Message: "Text processed successfully!"})
	return output, nil
}

// Busy reports whether a transformation is in flight.
func (o *Orchestrator) Busy() bool {
	return o.guard.Load() == guardProcessing
}

// SetMode stores the current mode, including the auto sentinel.
func (o *Orchestrator) SetMode(mode string) error {
	if mode != config.ModeAuto {
		if _, ok := o.cfg.Mode(mode); !ok {
			return fmt.Errorf("unknown mode %q", mode)
		}
	}
	return o.cfg.SetCurrentMode(mode)
}

// TestConnection runs the named provider's connection test; an empty name
// tests the active provider.
func (o *Orchestrator) TestConnection(ctx context.Context, providerName string) provider.TestResult {
	if providerName == "" {
		providerName = o.cfg.Provider()
	}
	client, err := o.providers.Get(providerName)
	if err != nil {
		return provider.TestResult{Success: false, Message: err.Error()}
	}
	return client.TestConnection(ctx)
}

// Best-effort persistence. Failures here must never abort the in-flight
// transformation, so every helper logs at Warn and returns nothing.

func (o *Orchestrator) logRequestStart(providerName, model, mode, text string) int64 {
	if o.sessionID == "" {
		return 0
	}
	id, err := o.queries.CreateRequest(o.sessionID, providerName, model, mode, text)
	if err != nil {
		o.logger.Warn("failed to log request", zap.Error(err))
		return 0
	}
	if err := o.queries.IncrementSessionRequests(o.sessionID); err != nil {
		o.logger.Warn("failed to update session request count", zap.Error(err))
	}
	return id
}

func (o *Orchestrator) logRequestSuccess(requestID int64, output string, elapsed time.Duration) {
	if requestID == 0 {
		return
	}
	if err := o.queries.CompleteRequest(requestID, output, elapsed); err != nil {
		o.logger.Warn("failed to update request", zap.Int64("request", requestID), zap.Error(err))
	}
}

func (o *Orchestrator) logRequestError(requestID int64, cause error, elapsed time.Duration) {
	if requestID == 0 {
		return
	}
	if err := o.queries.FailRequest(requestID, cause.Error(), elapsed); err != nil {
		o.logger.Warn("failed to update request", zap.Int64("request", requestID), zap.Error(err))
	}
}

func (o *Orchestrator) recordHistory(mode, original, processed, providerName, model string, elapsed time.Duration) {
	hc := o.cfg.History()
	if !hc.Enabled || o.sessionID == "" {
		return
	}
	if err := o.queries.AddHistory(o.sessionID, mode, original, processed, providerName, model, elapsed); err != nil {
		o.logger.Warn("failed to add history entry", zap.Error(err))
		return
	}
	if err := o.queries.PruneHistory(hc.MaxItems); err != nil {
		o.logger.Warn("failed to prune history", zap.Error(err))
	}
}

func (o *Orchestrator) logClipboard(op, content string, mode *string, source string) {
	if o.sessionID == "" {
		return
	}
	if err := o.queries.LogClipboard(o.sessionID, op, content, mode, source); err != nil {
		o.logger.Warn("failed to log clipboard operation", zap.Error(err))
	}
}
