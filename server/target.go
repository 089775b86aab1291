package server

import (
	"context"
	"fmt"

	"github.com/achilleasa/kson/envelope"
	"github.com/achilleasa/kson/outcome"
)

// Target is an object exposed by the server at a mount path.
//
// Describe returns the envelope served for a plain GET of the mount path;
// self is the path the target is mounted at. Invoke runs the named action
// with the arguments carried by a Request envelope. Targets are invoked
// concurrently and must synchronize any state they hold.
type Target interface {
	Describe(self string) envelope.Variant
	Invoke(ctx context.Context, action string, args map[string]interface{}) outcome.Result
}

// ActionFunc implements an action. Returning outcome.Deferred makes the
// server answer with a Future that clients poll until the action returns a
// Ready or Failed result.
type ActionFunc func(ctx context.Context, args map[string]interface{}) outcome.Result

// Action pairs an action handler with the argument specification that is
// advertised to clients.
type Action struct {
	Args    map[string]interface{}
	Handler ActionFunc
}

// Service is a Target exposing a set of named actions and links to related
// resources.
type Service struct {
	// Links maps relation names to URLs.
	Links map[string]string

	// Actions maps action names to their implementation.
	Actions map[string]Action
}

// Describe implements Target.
func (s *Service) Describe(self string) envelope.Variant {
	return envelope.NewService(self, s.Links, actionSpecs(s.Actions))
}

// Invoke implements Target.
func (s *Service) Invoke(ctx context.Context, action string, args map[string]interface{}) outcome.Result {
	return invokeAction(ctx, s.Actions, action, args)
}

func actionSpecs(actions map[string]Action) map[string]map[string]interface{} {
	specs := make(map[string]map[string]interface{}, len(actions))
	for name, action := range actions {
		specs[name] = action.Args
	}
	return specs
}

func invokeAction(ctx context.Context, actions map[string]Action, name string, args map[string]interface{}) outcome.Result {
	action, exists := actions[name]
	if !exists || action.Handler == nil {
		return outcome.Failed(fmt.Errorf("%w: %q", ErrActionNotFound, name))
	}
	return action.Handler(ctx, args)
}
