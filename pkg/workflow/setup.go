package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/declanlscott/printdesk-sub004/pkg/events"
	"github.com/declanlscott/printdesk-sub004/pkg/realtime"
)

// Actions are the external effects the setup flow performs. Both dispatch
// actions return the dispatch id the flow should correlate on.
type Actions interface {
	// DispatchInfra enqueues the tenant's infrastructure provisioning.
	DispatchInfra(ctx context.Context, tenantID string) (string, error)

	// Healthcheck probes the freshly provisioned services.
	Healthcheck(ctx context.Context, tenantID string) (bool, error)

	// DispatchSync enqueues the initial data synchronization.
	DispatchSync(ctx context.Context, tenantID string) (string, error)

	// Activate flips the tenant to active.
	Activate(ctx context.Context, tenantID string) error
}

// Subscriber is the slice of the realtime client the flow needs.
type Subscriber interface {
	Subscribe(ctx context.Context, id, channel string, handler realtime.EventHandler, onError realtime.ErrorHandler) error
	Unsubscribe(id string) error
}

// DefaultHealthPollDelay is the pause between healthcheck attempts while
// the tenant's services come up.
const DefaultHealthPollDelay = 3 * time.Second

// SetupConfig configures a Setup flow.
type SetupConfig struct {
	TenantID  string
	Actions   Actions
	Transport Subscriber

	// HealthPollDelay defaults to DefaultHealthPollDelay.
	HealthPollDelay time.Duration

	Logger *slog.Logger
}

// ErrNotFailed is returned by Back when the flow is not in StateFailure.
var ErrNotFailed = errors.New("workflow: flow has not failed")

// Setup is one tenant's provisioning flow. A Setup instance is owned by a
// single goroutine driving Run; State and Context are safe to read from
// others.
type Setup struct {
	actions   Actions
	transport Subscriber
	pollDelay time.Duration
	logger    *slog.Logger

	mu    sync.Mutex
	state State
	sctx  Context
}

// NewSetup builds a flow in StateRegister.
func NewSetup(cfg SetupConfig) (*Setup, error) {
	if cfg.TenantID == "" {
		return nil, errors.New("workflow: TenantID is required")
	}
	if cfg.Actions == nil {
		return nil, errors.New("workflow: Actions is required")
	}
	if cfg.Transport == nil {
		return nil, errors.New("workflow: Transport is required")
	}
	delay := cfg.HealthPollDelay
	if delay <= 0 {
		delay = DefaultHealthPollDelay
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Setup{
		actions:   cfg.Actions,
		transport: cfg.Transport,
		pollDelay: delay,
		logger:    logger.With("tenantId", cfg.TenantID),
		state:     StateRegister,
		sctx:      Context{TenantID: cfg.TenantID},
	}, nil
}

// State returns the current state.
func (s *Setup) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Context returns a copy of the machine's context.
func (s *Setup) Context() Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sctx
}

func (s *Setup) setState(next State) {
	s.mu.Lock()
	prev := s.state
	s.state = next
	s.mu.Unlock()
	s.logger.Info("setup state changed", "from", string(prev), "to", string(next))
}

// fail moves the machine to StateFailure, recording the stage that broke.
func (s *Setup) fail(status State, cause error) *FailureError {
	s.mu.Lock()
	s.state = StateFailure
	s.sctx.FailureStatus = status
	s.mu.Unlock()
	s.logger.Error("setup flow failed", "status", string(status), "error", cause)
	return &FailureError{Status: status, Cause: cause}
}

// Back resets a failed flow so the whole thing can be retried with
// corrected input. The old dispatch id is discarded; the retry issues a
// fresh dispatch.
func (s *Setup) Back() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateFailure {
		return ErrNotFailed
	}
	s.state = StateRegister
	s.sctx = Context{TenantID: s.sctx.TenantID}
	return nil
}

// Run drives the flow until StateComplete or StateFailure. It returns nil
// on completion, a *FailureError when the flow fails, and ctx.Err when
// cancelled. The machine stays in its final state afterwards, so a failed
// flow can be inspected and reset with Back.
func (s *Setup) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		switch state := s.State(); state {
		case StateRegister:
			dispatchID, err := s.actions.DispatchInfra(ctx, s.sctx.TenantID)
			if err != nil {
				return s.fail(StateRegister, err)
			}
			s.mu.Lock()
			s.sctx.DispatchID = dispatchID
			s.mu.Unlock()
			s.setState(StateWaitForInfra)

		case StateWaitForInfra, StateWaitForSync:
			next, err := s.await(ctx, state)
			if err != nil {
				return err
			}
			s.setState(next)

		case StateHealthcheck:
			healthy, err := s.actions.Healthcheck(ctx, s.sctx.TenantID)
			if err != nil {
				return s.fail(StateHealthcheck, err)
			}
			s.mu.Lock()
			s.sctx.Healthy = healthy
			s.mu.Unlock()
			s.setState(StateDetermineHealth)

		case StateDetermineHealth:
			if s.Context().Healthy {
				s.setState(StateInitialize)
			} else {
				s.setState(StateWaitForGoodHealth)
			}

		case StateWaitForGoodHealth:
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.pollDelay):
			}
			s.setState(StateHealthcheck)

		case StateInitialize:
			dispatchID, err := s.actions.DispatchSync(ctx, s.sctx.TenantID)
			if err != nil {
				return s.fail(StateInitialize, err)
			}
			s.mu.Lock()
			s.sctx.DispatchID = dispatchID
			s.mu.Unlock()
			s.setState(StateWaitForSync)

		case StateActivate:
			if err := s.actions.Activate(ctx, s.sctx.TenantID); err != nil {
				return s.fail(StateActivate, err)
			}
			s.setState(StateComplete)

		case StateComplete:
			s.logger.Info("setup flow completed")
			return nil

		case StateFailure:
			s.mu.Lock()
			status := s.sctx.FailureStatus
			s.mu.Unlock()
			return &FailureError{Status: status}

		default:
			return &NonExhaustiveStateError{State: state}
		}
	}
}

// await holds the flow in a wait state: subscribe to the dispatch's event
// channel, apply each correlated result, and return the successor state.
// The subscription never outlives the state that opened it, so at most one
// is live per flow at any time.
func (s *Setup) await(ctx context.Context, wait State) (State, error) {
	dispatchID := s.Context().DispatchID
	channel := realtime.ChannelFor(realtime.ChannelEvents, dispatchID)
	subID := uuid.NewString()

	results := make(chan events.Result, 16)
	subErrs := make(chan []realtime.MessageError, 1)

	err := s.transport.Subscribe(ctx, subID, channel,
		func(msg *realtime.Message) {
			ev, err := msg.DataEvent()
			if err != nil {
				s.logger.Warn("dropping undecodable event", "channel", channel, "error", err)
				return
			}
			res, ok := ev.(events.Result)
			if !ok {
				return
			}
			select {
			case results <- res:
			default:
				s.logger.Warn("result buffer full, dropping event", "channel", channel)
			}
		},
		func(errs []realtime.MessageError) {
			select {
			case subErrs <- errs:
			default:
			}
		})
	if err != nil {
		return StateFailure, s.fail(wait, err)
	}
	defer func() {
		if err := s.transport.Unsubscribe(subID); err != nil {
			s.logger.Warn("unsubscribe failed", "channel", channel, "error", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return wait, ctx.Err()

		case errs := <-subErrs:
			return StateFailure, s.fail(wait, fmt.Errorf("workflow: subscription on %s failed: %v", channel, errs))

		case res := <-results:
			next, transitioned, err := ApplyResult(wait, dispatchID, res)
			if err != nil {
				return wait, err
			}
			if !transitioned {
				s.logger.Info("staying in wait state",
					"state", string(wait),
					"dispatchId", res.Correlation(),
					"success", res.Succeeded(),
					"terminal", res.Terminal())
				continue
			}
			if next == StateFailure {
				return StateFailure, s.fail(wait, fmt.Errorf("workflow: dispatch %s failed terminally", dispatchID))
			}
			return next, nil
		}
	}
}
