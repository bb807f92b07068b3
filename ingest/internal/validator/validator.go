package validator

import (
	"context"
	"fmt"

	"github.com/telhawk-systems/trackstack/common/models"
)

// Validator checks one event.
type Validator interface {
	Validate(ctx context.Context, event *models.Event) []error
}

// Chain applies a list of validators and collects every problem.
type Chain struct {
	validators []Validator
}

// NewChain constructs a validator chain.
func NewChain(validators ...Validator) *Chain {
	return &Chain{validators: validators}
}

// Default is the chain the gateway runs on every collect request.
func Default() *Chain {
	return NewChain(RequiredFields{}, FieldLimits{
		MaxIDLength:   128,
		MaxTypeLength: 64,
	})
}

// Validate runs every validator against event.
func (c *Chain) Validate(ctx context.Context, event *models.Event) []error {
	if c == nil {
		return nil
	}
	var errs []error
	for _, v := range c.validators {
		errs = append(errs, v.Validate(ctx, event)...)
	}
	return errs
}

// ValidateBatch validates every event and returns one detail line per problem,
// prefixed with the event's index in the request.
func (c *Chain) ValidateBatch(ctx context.Context, events []models.Event) []string {
	var details []string
	for i := range events {
		for _, err := range c.Validate(ctx, &events[i]) {
			details = append(details, fmt.Sprintf("event[%d]: %v", i, err))
		}
	}
	return details
}

// RequiredFields ensures event_id, event_type and an identity are present.
type RequiredFields struct{}

func (RequiredFields) Validate(ctx context.Context, event *models.Event) []error {
	return event.Validate()
}

// FieldLimits bounds the length of key fields.
type FieldLimits struct {
	MaxIDLength   int
	MaxTypeLength int
}

func (l FieldLimits) Validate(ctx context.Context, event *models.Event) []error {
	var errs []error
	if l.MaxIDLength > 0 {
		for _, f := range []struct{ name, value string }{
			{"event_id", event.EventID},
			{"user_id", event.UserID},
			{"session_id", event.SessionID},
		} {
			if len(f.value) > l.MaxIDLength {
				errs = append(errs, fmt.Errorf("%s exceeds %d characters", f.name, l.MaxIDLength))
			}
		}
	}
	if l.MaxTypeLength > 0 && len(event.EventType) > l.MaxTypeLength {
		errs = append(errs, fmt.Errorf("event_type exceeds %d characters", l.MaxTypeLength))
	}
	return errs
}
