package dispatch

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/outofforest/logger"
	"github.com/outofforest/zacp/features"
	"github.com/outofforest/zacp/wire"
)

// Reply messages produced by the dispatcher itself.
const (
	MessageUnknownCommand = "Command not known !"
	MessageFeatureExists  = "Feature already exists."
)

//go:generate mockgen -destination=mocks/mock_handler.go -package=mocks . Handler

// Handler handles one action.
type Handler interface {
	Handle(ctx context.Context, rc *RequestContext) *wire.Reply
}

// HandlerFunc adapts function to Handler.
type HandlerFunc func(ctx context.Context, rc *RequestContext) *wire.Reply

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, rc *RequestContext) *wire.Reply {
	return f(ctx, rc)
}

// RequestContext carries everything a handler may use for the duration of one dispatch.
type RequestContext struct {
	Request    *wire.Request
	Descriptor Descriptor

	// Features is the parsed feature tree of the request, if the action carries one.
	Features wire.FeatureTree

	// Snapshot is a private copy of the live context taken before the handler was called.
	Snapshot *features.Context

	// Edit is the private copy edit actions must apply their changes to.
	Edit *features.Edit
}

// Dispatcher maps actions to handlers and enforces dispatch policy.
type Dispatcher struct {
	store *features.Store

	mu       sync.RWMutex
	handlers map[Action]Handler
}

// New creates dispatcher operating on the store.
func New(store *features.Store) *Dispatcher {
	return &Dispatcher{
		store:    store,
		handlers: map[Action]Handler{},
	}
}

// Register registers handler of the action.
func (d *Dispatcher) Register(name string, h Handler) error {
	desc, ok := Lookup(name)
	if !ok {
		return errors.Errorf("action %q is not known", name)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.handlers[desc.Action]; exists {
		return errors.Errorf("handler for action %q already registered", name)
	}
	d.handlers[desc.Action] = h
	return nil
}

// RegisterFunc registers function as handler of the action.
func (d *Dispatcher) RegisterFunc(name string, f HandlerFunc) error {
	return d.Register(name, f)
}

// Dispatch validates request, calls the handler and commits its edit on success.
func (d *Dispatcher) Dispatch(ctx context.Context, req *wire.Request) *wire.Reply {
	reply := d.dispatch(ctx, req)
	reply.Action = req.Action
	return reply
}

func (d *Dispatcher) dispatch(ctx context.Context, req *wire.Request) *wire.Reply {
	log := logger.Get(ctx).With(zap.String("action", req.Action), zap.String("requestID", req.ID))

	desc, ok := Lookup(req.Action)
	if !ok {
		return wire.NewReply(wire.ResultUnknownCommand, MessageUnknownCommand)
	}

	d.mu.RLock()
	h, ok := d.handlers[desc.Action]
	d.mu.RUnlock()
	if !ok {
		return wire.NewReply(wire.ResultUnsupported, "Command %q is not supported.", req.Action)
	}

	for _, attr := range desc.RequiredAttrs {
		if _, ok := req.Attr(attr); !ok {
			return wire.NewReply(wire.ResultBadRequest, "%q is a required attribute for %s.", attr, req.Action)
		}
	}

	rc := &RequestContext{
		Request:    req,
		Descriptor: desc,
	}

	if desc.Features {
		tree, err := wire.ParseFeatureTree(req.Elements())
		if err != nil {
			return wire.NewReply(wire.ResultBadRequest, "%s", err.Error())
		}
		rc.Features = tree
	}

	if d.store != nil {
		rc.Snapshot = d.store.Snapshot()
		if reply := checkTarget(rc); reply != nil {
			return reply
		}
		if desc.Edit {
			rc.Edit = d.store.Begin()
		}
	}

	reply := call(ctx, h, rc)
	if reply == nil {
		log.Error("Handler returned no reply")
		return wire.NewReply(wire.ResultInternal, "Handler of %q returned no reply.", req.Action)
	}

	if rc.Edit != nil {
		if !reply.OK() {
			return reply
		}
		if err := d.store.Commit(rc.Edit); err != nil {
			if errors.Is(err, features.ErrConflict) {
				log.Warn("Edit conflicted with concurrent change", zap.Error(err))
				return wire.NewReply(wire.ResultConflict, "Feature context changed while %q was in progress.",
					req.Action)
			}
			log.Error("Committing edit failed", zap.Error(err))
			return wire.NewReply(wire.ResultInternal, "Committing %q failed: %s", req.Action, err)
		}
	}

	return reply
}

func checkTarget(rc *RequestContext) *wire.Reply {
	desc := rc.Descriptor
	if desc.Target == TargetDontCare {
		return nil
	}

	if rc.Features.FeatureCount() == 0 {
		return wire.NewReply(wire.ResultBadRequest, "No feature specified for %s.", desc.Name)
	}

	for _, fsSpec := range rc.Features.FeatureSets {
		for _, spec := range fsSpec.Features {
			exists := rc.Snapshot.Find(fsSpec, spec) != nil
			switch {
			case desc.Target == TargetMust && !exists:
				id := features.UniqueID(spec.Name, spec.Strand, spec.Start, spec.End)
				return wire.NewReply(desc.MissingTarget,
					"Feature \"%s\" with id \"%s\" could not be found in featureset \"%s\"",
					spec.Name, id, fsSpec.Name)
			case desc.Target == TargetMustNot && exists:
				id := features.UniqueID(spec.Name, spec.Strand, spec.Start, spec.End)
				return wire.NewReply(wire.ResultFailed, "Failed to draw feature '%s' [%s]. %s",
					spec.Name, id, MessageFeatureExists)
			}
		}
	}
	return nil
}

func call(ctx context.Context, h Handler, rc *RequestContext) (reply *wire.Reply) {
	defer func() {
		if r := recover(); r != nil {
			logger.Get(ctx).Error("Handler panicked", zap.String("action", rc.Request.Action),
				zap.String("panic", fmt.Sprint(r)))
			reply = wire.NewReply(wire.ResultInternal, "Handler of %q failed.", rc.Request.Action)
		}
	}()

	return h.Handle(ctx, rc)
}
