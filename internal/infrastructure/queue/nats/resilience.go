package nats

import (
	"context"
	"errors"

	"github.com/nats-io/nats.go"

	"github.com/sgolovin/community-docs/internal/core/domain"
	"github.com/sgolovin/community-docs/internal/infrastructure/resilience"
)

func classifyNATSError(err error) resilience.Outcome {
	if err == nil {
		return resilience.Outcome{}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return resilience.Outcome{Retry: false, CountAsFailure: false}
	}
	if resilience.CircuitOpen(err) {
		return resilience.Outcome{Retry: true, CountAsFailure: true}
	}
	if errors.Is(err, nats.ErrNoServers) ||
		errors.Is(err, nats.ErrTimeout) ||
		errors.Is(err, nats.ErrConnectionClosed) ||
		errors.Is(err, nats.ErrDisconnected) {
		return resilience.Outcome{Retry: true, CountAsFailure: true}
	}

	return resilience.Outcome{Retry: false, CountAsFailure: true}
}

func wrapTemporaryIfNeeded(err error) error {
	if err == nil {
		return nil
	}
	if domain.IsKind(err, domain.ErrTemporary) {
		return err
	}
	if classifyNATSError(err).Retry || resilience.CircuitOpen(err) {
		return domain.WrapError(domain.ErrTemporary, "nats.publish", err)
	}
	return err
}
