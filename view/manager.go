package view

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/outofforest/logger"
	"github.com/outofforest/zacp/dispatch"
	"github.com/outofforest/zacp/features"
	"github.com/outofforest/zacp/wire"
)

// AttrViewID is the request attribute selecting the view.
const AttrViewID = "view_id"

// ErrViewNotFound is returned if view does not exist.
var ErrViewNotFound = errors.New("view not found")

// Actions served by the manager itself, whatever view is selected.
var appActions = map[dispatch.Action]bool{
	dispatch.ActionPing:      true,
	dispatch.ActionShutdown:  true,
	dispatch.ActionNewView:   true,
	dispatch.ActionAddToView: true,
	dispatch.ActionCloseView: true,
}

// Info describes a view.
type Info struct {
	ID       string
	Window   uint64
	Sequence wire.SequenceSpec
}

type viewEntry struct {
	info       Info
	store      *features.Store
	dispatcher *dispatch.Dispatcher
}

// Manager routes requests to views by view_id. Each view owns its feature store.
// Requests without view_id go to the default view.
type Manager struct {
	view *View
	app  *dispatch.Dispatcher

	mu          sync.Mutex
	views       map[uint64]*viewEntry
	windows     map[uint64]int
	defaultView uint64
	lastView    uint64
	lastWindow  uint64
}

// NewManager creates manager without views.
func NewManager(hooks Hooks) (*Manager, error) {
	m := &Manager{
		view:    New(hooks),
		app:     dispatch.New(nil),
		views:   map[uint64]*viewEntry{},
		windows: map[uint64]int{},
	}

	handlers := map[string]dispatch.HandlerFunc{
		"ping":        m.view.ping,
		"shutdown":    m.view.shutdown,
		"new_view":    m.newView,
		"add_to_view": m.addToView,
		"close_view":  m.closeView,
	}
	for name, h := range handlers {
		if err := m.app.RegisterFunc(name, h); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// NewView creates view of the sequence in a new window.
func (m *Manager) NewView(seq wire.SequenceSpec) (Info, error) {
	if seq.Name == "" || seq.Start < 1 || seq.Start > seq.End {
		return Info{}, errors.Errorf("invalid sequence %q (%d, %d)", seq.Name, seq.Start, seq.End)
	}
	return m.create(seq, 0)
}

// Close closes the view. Window is closed together with its last view.
func (m *Manager) Close(id string) (Info, error) {
	viewID, ok := parseViewID(id)
	if !ok {
		return Info{}, errors.Wrapf(ErrViewNotFound, "view %q", id)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.views[viewID]
	if e == nil {
		return Info{}, errors.Wrapf(ErrViewNotFound, "view %q", id)
	}
	delete(m.views, viewID)

	m.windows[e.info.Window]--
	if m.windows[e.info.Window] == 0 {
		delete(m.windows, e.info.Window)
	}

	if m.defaultView == viewID {
		m.defaultView = 0
		for v := range m.views {
			if m.defaultView == 0 || v < m.defaultView {
				m.defaultView = v
			}
		}
	}
	return e.info, nil
}

// Views returns existing views ordered by creation.
func (m *Manager) Views() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]uint64, 0, len(m.views))
	for id := range m.views {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	infos := make([]Info, 0, len(ids))
	for _, id := range ids {
		infos = append(infos, m.views[id].info)
	}
	return infos
}

// Default returns the default view.
func (m *Manager) Default() (Info, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.views[m.defaultView]
	if e == nil {
		return Info{}, false
	}
	return e.info, true
}

// Store returns feature store of the view.
func (m *Manager) Store(id string) (*features.Store, bool) {
	viewID, ok := parseViewID(id)
	if !ok {
		return nil, false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.views[viewID]
	if e == nil {
		return nil, false
	}
	return e.store, true
}

// Dispatch routes request to the view it selects and dispatches it there.
func (m *Manager) Dispatch(ctx context.Context, req *wire.Request) *wire.Reply {
	e, reply := m.route(req)
	if reply != nil {
		reply.Action = req.Action
		return reply
	}
	if e == nil {
		return m.app.Dispatch(ctx, req)
	}
	return e.dispatcher.Dispatch(logger.With(ctx, zap.String("view", e.info.ID)), req)
}

func (m *Manager) route(req *wire.Request) (*viewEntry, *wire.Reply) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var e *viewEntry
	if id, ok := req.Attr(AttrViewID); ok {
		viewID, ok := parseViewID(id)
		if !ok {
			return nil, wire.NewReply(wire.ResultBadRequest, "Bad view_id !")
		}
		if e = m.views[viewID]; e == nil {
			return nil, wire.NewReply(wire.ResultBadRequest, "view id %s not found.", id)
		}
	}

	desc, ok := dispatch.Lookup(req.Action)
	if !ok || appActions[desc.Action] {
		return nil, nil
	}

	if e == nil {
		if e = m.views[m.defaultView]; e == nil {
			return nil, wire.NewReply(wire.ResultFailed, "No view to process %s, create one using new_view.",
				req.Action)
		}
	}
	return e, nil
}

func (m *Manager) create(seq wire.SequenceSpec, window uint64) (Info, error) {
	store := features.NewStore(features.NewContext(seq.Name, seq.Start, seq.End))
	d := dispatch.New(store)
	if err := m.view.Register(d); err != nil {
		return Info{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.windows[window]; !exists {
		m.lastWindow++
		window = m.lastWindow
	}
	m.lastView++
	info := Info{
		ID:       formatViewID(m.lastView),
		Window:   window,
		Sequence: seq,
	}
	m.views[m.lastView] = &viewEntry{
		info:       info,
		store:      store,
		dispatcher: d,
	}
	m.windows[window]++
	if m.views[m.defaultView] == nil {
		m.defaultView = m.lastView
	}
	return info, nil
}

func (m *Manager) window(id string) (uint64, bool) {
	viewID, ok := parseViewID(id)
	if !ok {
		return 0, false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.views[viewID]
	if e == nil {
		return 0, false
	}
	return e.info.Window, true
}

func (m *Manager) newView(ctx context.Context, rc *dispatch.RequestContext) *wire.Reply {
	seq, err := wire.ParseSequence(rc.Request.Elements())
	if err != nil {
		return wire.NewReply(wire.ResultBadRequest, "%s", err.Error())
	}
	return m.viewCreated(ctx, seq, 0)
}

func (m *Manager) addToView(ctx context.Context, rc *dispatch.RequestContext) *wire.Reply {
	seq, err := wire.ParseSequence(rc.Request.Elements())
	if err != nil {
		return wire.NewReply(wire.ResultBadRequest, "%s", err.Error())
	}

	id, _ := rc.Request.Attr(AttrViewID)
	window, ok := m.window(id)
	if !ok {
		logger.Get(ctx).Warn("View to add to not found, new window is created", zap.String("view", id))
	}
	return m.viewCreated(ctx, seq, window)
}

func (m *Manager) viewCreated(ctx context.Context, seq wire.SequenceSpec, window uint64) *wire.Reply {
	info, err := m.create(seq, window)
	if err != nil {
		return wire.NewReply(wire.ResultFailed, "Creating view of %q failed: %s", seq.Name, err)
	}

	logger.Get(ctx).Info("View created", zap.String("view", info.ID), zap.Uint64("window", info.Window),
		zap.String("sequence", seq.Name), zap.Int("start", seq.Start), zap.Int("end", seq.End))

	return wire.NewReply(wire.ResultOK, "View created ok !").
		Add(wire.NewElement(wire.ElementView, AttrViewID, info.ID))
}

func (m *Manager) closeView(ctx context.Context, rc *dispatch.RequestContext) *wire.Reply {
	id, _ := rc.Request.Attr(AttrViewID)
	info, err := m.Close(id)
	if err != nil {
		return wire.NewReply(wire.ResultFailed, "Could not find view %s so cannot close it.", id)
	}

	logger.Get(ctx).Info("View closed", zap.String("view", info.ID), zap.Uint64("window", info.Window))
	return wire.NewReply(wire.ResultOK, "View deleted.")
}

func formatViewID(id uint64) string {
	return "0x" + strconv.FormatUint(id, 16)
}

func parseViewID(id string) (uint64, bool) {
	hex, ok := strings.CutPrefix(id, "0x")
	if !ok {
		return 0, false
	}
	viewID, err := strconv.ParseUint(hex, 16, 64)
	if err != nil || viewID == 0 {
		return 0, false
	}
	return viewID, true
}
