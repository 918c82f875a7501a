package zacp

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/outofforest/logger"
	"github.com/outofforest/parallel"
	"github.com/outofforest/zacp/journal"
	"github.com/outofforest/zacp/transport"
	"github.com/outofforest/zacp/wire"
)

// Actions handled by the session itself.
const (
	ActionHandshake = "handshake"
	ActionGoodbye   = "goodbye"
)

const (
	connectRetryInterval = 10 * time.Millisecond
	replyRetryInterval   = 5 * time.Millisecond
)

// Direction is the direction of a request slot.
type Direction int

// Directions.
const (
	DirectionSelfToPeer Direction = iota
	DirectionPeerToSelf
)

func (d Direction) String() string {
	if d == DirectionSelfToPeer {
		return "self_to_peer"
	}
	return "peer_to_self"
}

// Dispatcher produces replies to application commands.
type Dispatcher interface {
	Dispatch(ctx context.Context, req *wire.Request) *wire.Reply
}

// Recorder records the traffic.
type Recorder interface {
	Record(direction journal.Direction, frame transport.Frame) error
}

// Hooks are notified about peer lifecycle. They are called outside of session lock.
type Hooks struct {
	OnHandshake func(peer wire.PeerIdentity)
	OnGoodbye   func(peer wire.PeerIdentity, exit bool)
}

// Option configures session.
type Option func(s *Session)

// WithRecorder records all the frames.
func WithRecorder(recorder Recorder) Option {
	return func(s *Session) {
		s.recorder = recorder
	}
}

// WithHooks sets hooks.
func WithHooks(hooks Hooks) Option {
	return func(s *Session) {
		s.hooks = hooks
	}
}

// Stats are the counters of the session.
type Stats struct {
	RequestsSent     uint64
	RepliesReceived  uint64
	StrayReplies     uint64
	Timeouts         uint64
	Retries          uint64
	RequestsReceived uint64
	RepliesSent      uint64
	Duplicates       uint64
	BadMessages      uint64
}

type outboundSlot struct {
	seq     uint64
	request *wire.Request
	frame   transport.Frame
	pending *Pending
	retries int
	timer   *time.Timer
}

func (s *outboundSlot) stop() {
	if s.timer != nil {
		s.timer.Stop()
	}
}

type inboundSlot struct {
	seq     uint64
	request *wire.Request
}

type answeredRequest struct {
	peerID string
	id     string
	frame  transport.Frame
}

func (a answeredRequest) matches(req *wire.Request) bool {
	return req.ID != "" && a.id == req.ID && a.peerID == req.PeerID
}

// Session is the protocol engine connecting this process with a single peer.
type Session struct {
	config     Config
	atoms      transport.Atoms
	transport  transport.Transport
	dispatcher Dispatcher
	recorder   Recorder
	hooks      Hooks
	self       wire.PeerIdentity
	work       chan *inboundSlot

	mu       sync.Mutex
	log      *zap.Logger
	sm       *stateMachine
	running  bool
	closed   bool
	cancel   context.CancelFunc
	peer     wire.PeerIdentity
	nextID   uint64
	slotSeq  uint64
	outbound *outboundSlot
	inbound  *inboundSlot
	answered answeredRequest
	stats    Stats
}

// NewSession creates session and allocates its own identity.
func NewSession(config Config, tr transport.Transport, dispatcher Dispatcher, opts ...Option) (*Session, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	self, err := selfIdentity(config.AppID)
	if err != nil {
		return nil, errors.Wrap(err, "allocating session identity")
	}

	s := &Session{
		config:     config,
		atoms:      config.Atoms(),
		transport:  tr,
		dispatcher: dispatcher,
		self:       self,
		work:       make(chan *inboundSlot, 1),
		log:        zap.NewNop(),
		sm:         newStateMachine(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.sm.Transition(StateSelfInitDone); err != nil {
		return nil, err
	}
	return s, nil
}

// Self returns own identity.
func (s *Session) Self() wire.PeerIdentity {
	return s.self
}

// Peer returns identity of the peer, if handshake has been done.
func (s *Session) Peer() (wire.PeerIdentity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.peer, !s.peer.IsZero()
}

// State returns state of the session.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.sm.State()
}

// Stats returns counters of the session.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.stats
}

// Busy tells if the slot of the direction is occupied.
func (s *Session) Busy(direction Direction) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if direction == DirectionSelfToPeer {
		return s.outbound != nil
	}
	return s.inbound != nil
}

// Run waits for requests from the peer until ctx is canceled, transport fails or session is shut down.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.WithStack(ErrSessionClosed)
	}
	if err := s.sm.Transition(StateAwaitingHandshake); err != nil {
		s.mu.Unlock()
		return err
	}
	s.running = true
	s.cancel = cancel
	s.log = logger.Get(ctx).With(zap.String("self", s.self.UniqueID))
	s.mu.Unlock()

	err := parallel.Run(ctx, func(ctx context.Context, spawn parallel.SpawnFn) error {
		spawn("transport", parallel.Fail, func(ctx context.Context) error {
			return s.transport.Run(ctx, s.receive)
		})
		spawn("handlers", parallel.Fail, func(ctx context.Context) error {
			for {
				select {
				case <-ctx.Done():
					return errors.WithStack(ctx.Err())
				case slot := <-s.work:
					s.handle(ctx, slot)
				}
			}
		})

		return nil
	})

	s.mu.Lock()
	defer s.mu.Unlock()

	s.running = false
	if s.closed {
		return nil
	}
	s.closed = true
	s.teardown()
	return err
}

// Shutdown cancels outstanding requests, forgets the peer and stops the session.
func (s *Session) Shutdown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.teardown()
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Connect sends own handshake and waits for the peer to accept it. Handshake is resent until the peer answers.
func (s *Session) Connect(ctx context.Context) (wire.PeerIdentity, error) {
	for {
		req := wire.NewRequest(ActionHandshake)
		req.Siblings = append(req.Siblings, s.self.Element())

		p, err := s.SendRequest(req)
		if err != nil {
			if !errors.Is(err, ErrPeerUnreachable) && !errors.Is(err, ErrNotRunning) && !errors.Is(err, ErrSlotBusy) {
				return wire.PeerIdentity{}, err
			}
			select {
			case <-ctx.Done():
				return wire.PeerIdentity{}, errors.WithStack(ctx.Err())
			case <-time.After(connectRetryInterval):
			}
			continue
		}

		reply, err := p.Wait(ctx)
		switch {
		case err == nil:
		case errors.Is(err, ErrTimeoutExceeded):
			logger.Get(ctx).Warn("Handshake not answered, retrying")
			continue
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			s.Cancel(p)
			return wire.PeerIdentity{}, err
		default:
			return wire.PeerIdentity{}, err
		}
		if !reply.OK() {
			return wire.PeerIdentity{}, errors.Wrapf(ErrHandshakeRejected, "%s: %s", reply.Result, reply.Message)
		}

		peer, _ := s.Peer()
		return peer, nil
	}
}

// SendRequest sends request to the peer. It never blocks. Request id is assigned here.
func (s *Session) SendRequest(req *wire.Request) (*Pending, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.closed:
		return nil, errors.WithStack(ErrSessionClosed)
	case !s.running:
		return nil, errors.WithStack(ErrNotRunning)
	case !isHandshake(req.Action) && s.sm.State() != StateHandshakeComplete:
		return nil, errors.Wrapf(ErrHandshakeRequired, "action %q", req.Action)
	case s.outbound != nil:
		return nil, errors.Wrapf(ErrSlotBusy, "request %s %q outstanding", s.outbound.request.ID,
			s.outbound.request.Action)
	}

	s.nextID++
	req.ID = requestID(s.nextID)
	req.PeerID = s.self.UniqueID
	if req.Version == "" {
		req.Version = s.config.Version
	}

	payload, err := wire.EncodeRequest(req)
	if err != nil {
		return nil, err
	}

	frame := transport.Frame{Atom: s.atoms.Request, Payload: payload}
	if err := s.send(frame); err != nil {
		if errors.Is(err, transport.ErrSendPending) {
			return nil, errors.Wrap(ErrSlotBusy, err.Error())
		}
		return nil, err
	}

	s.slotSeq++
	slot := &outboundSlot{
		seq:     s.slotSeq,
		request: req,
		frame:   frame,
		pending: newPending(req),
	}
	s.outbound = slot
	s.stats.RequestsSent++
	s.armTimer(slot)

	return slot.pending, nil
}

// Cancel tears down the outstanding request. It returns false if request is not outstanding anymore.
func (s *Session) Cancel(p *Pending) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.outbound == nil || s.outbound.pending != p {
		return false
	}
	s.cancelOutbound()
	return true
}

func (s *Session) armTimer(slot *outboundSlot) {
	if !s.config.timeoutEnabled() {
		return
	}

	seq := slot.seq
	slot.timer = time.AfterFunc(s.config.Timeout, func() {
		s.onTimeout(seq)
	})
}

func (s *Session) onTimeout(seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot := s.outbound
	if slot == nil || slot.seq != seq {
		return
	}

	log := s.log.With(zap.String("requestID", slot.request.ID), zap.String("action", slot.request.Action))

	if slot.retries < s.config.MaxRetries {
		slot.retries++
		s.stats.Retries++

		err := s.send(slot.frame)
		if err == nil || errors.Is(err, transport.ErrSendPending) {
			log.Warn("Request timed out, resending", zap.Int("retry", slot.retries))
			s.armTimer(slot)
			return
		}

		s.outbound = nil
		log.Error("Resending request failed", zap.Error(err))
		slot.pending.resolve(nil, err)
		return
	}

	s.outbound = nil
	s.stats.Timeouts++
	log.Warn("Request timed out", zap.Duration("timeout", s.config.Timeout), zap.Int("retries", slot.retries))
	slot.pending.resolve(nil, errors.Wrapf(ErrTimeoutExceeded, "request %s %q", slot.request.ID,
		slot.request.Action))
}

func (s *Session) receive(ctx context.Context, frame transport.Frame) error {
	msg, decodeErr := wire.Decode(frame.Payload)

	s.mu.Lock()
	notify := s.process(frame, msg, decodeErr)
	s.mu.Unlock()

	if notify != nil {
		notify()
	}
	return nil
}

func (s *Session) process(frame transport.Frame, msg *wire.Message, decodeErr error) func() {
	s.record(journal.Inbound, frame)

	if s.closed {
		return nil
	}

	if !s.atoms.Has(frame.Atom) {
		s.stats.BadMessages++
		s.log.Warn("Frame on unknown atom dropped", zap.String("atom", string(frame.Atom)))
		return nil
	}

	if decodeErr != nil {
		s.stats.BadMessages++
		s.log.Warn("Malformed message received", zap.String("atom", string(frame.Atom)), zap.Error(decodeErr))

		if frame.Atom == s.atoms.Request {
			reply := wire.NewReply(wire.ResultBadXML, "%s", decodeErr.Error())
			var de *wire.DecodeError
			if errors.As(decodeErr, &de) {
				reply.ID = de.RequestID
			}
			_ = s.sendReply(reply)
		}
		return nil
	}

	switch {
	case msg.Request != nil:
		if frame.Atom != s.atoms.Request {
			s.stats.BadMessages++
			s.log.Warn("Request received on response atom dropped", zap.String("requestID", msg.Request.ID))
			return nil
		}
		return s.onRequest(msg.Request)
	default:
		if frame.Atom != s.atoms.Response {
			s.stats.BadMessages++
			s.log.Warn("Reply received on request atom dropped", zap.String("requestID", msg.Reply.ID))
			return nil
		}
		s.onReply(msg.Reply)
		return nil
	}
}

func (s *Session) onReply(reply *wire.Reply) {
	slot := s.outbound
	if slot == nil || slot.request.ID != reply.ID {
		s.stats.StrayReplies++
		s.log.Warn("Stray reply discarded", zap.String("requestID", reply.ID),
			zap.String("result", reply.Result.String()), zap.String("message", reply.Message))
		return
	}

	slot.stop()
	s.outbound = nil
	s.stats.RepliesReceived++

	if s.config.Debug {
		s.log.Debug("Reply received", zap.String("requestID", reply.ID), zap.String("action", slot.request.Action),
			zap.String("result", reply.Result.String()))
	}

	if isHandshake(slot.request.Action) && reply.OK() {
		s.ownHandshakeAccepted(reply)
	}

	slot.pending.resolve(reply, nil)
}

func (s *Session) ownHandshakeAccepted(reply *wire.Reply) {
	if s.peer.IsZero() {
		if peerEl := reply.Element(wire.ElementPeer); peerEl != nil {
			s.peer.AppID, _ = peerEl.Attr("app_id")
			s.peer.UniqueID, _ = peerEl.Attr("unique_id")
		}
	}
	if s.sm.State() == StateAwaitingHandshake {
		if err := s.sm.Transition(StateHandshakeComplete); err != nil {
			s.log.Error("Completing handshake failed", zap.Error(err))
		}
	}
}

func (s *Session) onRequest(req *wire.Request) func() {
	s.stats.RequestsReceived++

	log := s.log.With(zap.String("requestID", req.ID), zap.String("action", req.Action))

	if in := s.inbound; in != nil {
		if in.request.ID == req.ID && in.request.PeerID == req.PeerID {
			s.stats.Duplicates++
			log.Warn("Duplicate of request in progress dropped")
			return nil
		}

		log.Warn("Request received while another one is in progress", zap.String("inProgress", in.request.ID))
		reply := wire.NewReply(wire.ResultUnavailable, "Request %q is in progress, retry later.", in.request.ID)
		reply.ID = req.ID
		reply.Action = req.Action
		_ = s.sendReply(reply)
		return nil
	}

	if s.answered.matches(req) {
		s.stats.Duplicates++
		log.Warn("Duplicate request answered again")
		if err := s.send(s.answered.frame); err != nil {
			log.Error("Resending reply failed", zap.Error(err))
		}
		return nil
	}

	if s.config.Debug {
		log.Debug("Request received")
	}

	if isHandshake(req.Action) {
		reply, notify := s.handshake(req)
		s.answer(req, reply)
		return notify
	}

	if s.sm.State() != StateHandshakeComplete {
		log.Warn("Request received before handshake rejected")
		s.answer(req, wire.NewReply(wire.ResultBadRequest, "Handshake required before %q.", req.Action))
		return nil
	}

	if req.Action == ActionGoodbye {
		reply, notify := s.goodbye(req)
		s.answer(req, reply)
		return notify
	}

	s.slotSeq++
	slot := &inboundSlot{seq: s.slotSeq, request: req}
	select {
	case s.work <- slot:
		s.inbound = slot
	default:
		log.Error("Handler queue is full")
		s.answer(req, wire.NewReply(wire.ResultInternal, "Request %q could not be queued.", req.ID))
	}
	return nil
}

func (s *Session) handshake(req *wire.Request) (*wire.Reply, func()) {
	attr := func(name string) (string, bool) {
		if peerEl := req.Element(wire.ElementPeer); peerEl != nil {
			if v, ok := peerEl.Attr(name); ok && v != "" {
				return v, true
			}
		}
		v, ok := req.Attr(name)
		return v, ok && v != ""
	}

	appID, ok := attr("app_id")
	if !ok {
		return wire.NewReply(wire.ResultBadRequest, "\"app_id\" is a required attribute for handshake."), nil
	}
	uniqueID, ok := attr("unique_id")
	if !ok {
		return wire.NewReply(wire.ResultBadRequest, "\"unique_id\" is a required attribute for handshake."), nil
	}
	if s.config.PeerAppID != "" && appID != s.config.PeerAppID {
		return wire.NewReply(wire.ResultBadRequest, "Peer application %q is not accepted, expected %q.",
			appID, s.config.PeerAppID), nil
	}

	peer := wire.PeerIdentity{AppID: appID, UniqueID: uniqueID}
	var notify func()
	switch {
	case s.sm.State() == StateHandshakeComplete && !s.peer.IsZero() && s.peer != peer:
		s.log.Warn("Handshake from another peer rejected", zap.String("peer", peer.String()),
			zap.String("boundPeer", s.peer.String()))
		return wire.NewReply(wire.ResultPreconditionFailed, "Already bound to peer %q with id %q.",
			s.peer.AppID, s.peer.UniqueID), nil
	case s.sm.State() == StateHandshakeComplete:
		s.peer = peer
	default:
		if err := s.sm.Transition(StateHandshakeComplete); err != nil {
			s.log.Error("Completing handshake failed", zap.Error(err))
			return wire.NewReply(wire.ResultInternal, "Handshake failed: %s", err), nil
		}
		s.peer = peer
		if s.hooks.OnHandshake != nil {
			notify = func() {
				s.hooks.OnHandshake(peer)
			}
		}
	}

	s.log.Info("Handshake with peer completed", zap.String("peer", peer.String()))
	reply := wire.NewReply(wire.ResultOK, "Handshake successful with peer \"%s\", id \"%s\".",
		peer.AppID, peer.UniqueID)
	reply.Add(s.self.Element())
	return reply, notify
}

func (s *Session) goodbye(req *wire.Request) (*wire.Reply, func()) {
	typ, _ := req.Attr("type")
	exit := typ == "exit"
	peer := s.peer

	s.log.Info("Peer said goodbye", zap.String("peer", peer.String()), zap.Bool("exit", exit))

	s.cancelOutbound()
	s.peer = wire.PeerIdentity{}
	if err := s.sm.Transition(StateAwaitingHandshake); err != nil {
		s.log.Error("Resetting handshake failed", zap.Error(err))
	}

	var notify func()
	if s.hooks.OnGoodbye != nil {
		notify = func() {
			s.hooks.OnGoodbye(peer, exit)
		}
	}
	return wire.NewReply(wire.ResultOK, "goodbye received, goodbye !"), notify
}

// answer sends reply to the request handled without occupying the slot.
func (s *Session) answer(req *wire.Request, reply *wire.Reply) {
	reply.ID = req.ID
	reply.Action = req.Action
	frame, err := s.replyFrame(reply)
	if err != nil {
		s.log.Error("Encoding reply failed", zap.Error(err))
		return
	}
	if err := s.send(frame); err != nil {
		s.log.Error("Sending reply failed", zap.String("requestID", req.ID), zap.Error(err))
		return
	}
	s.stats.RepliesSent++
	s.answered = answeredRequest{peerID: req.PeerID, id: req.ID, frame: frame}
}

func (s *Session) sendReply(reply *wire.Reply) error {
	frame, err := s.replyFrame(reply)
	if err != nil {
		s.log.Error("Encoding reply failed", zap.Error(err))
		return err
	}
	if err := s.send(frame); err != nil {
		s.log.Warn("Sending reply failed", zap.String("requestID", reply.ID), zap.Error(err))
		return err
	}
	s.stats.RepliesSent++
	return nil
}

func (s *Session) replyFrame(reply *wire.Reply) (transport.Frame, error) {
	reply.PeerID = s.self.UniqueID
	if reply.Version == "" {
		reply.Version = s.config.Version
	}
	payload, err := wire.EncodeReply(reply)
	if err != nil {
		return transport.Frame{}, err
	}
	return transport.Frame{Atom: s.atoms.Response, Payload: payload}, nil
}

// handle runs dispatcher and sends reply while the slot still belongs to the request.
func (s *Session) handle(ctx context.Context, slot *inboundSlot) {
	req := slot.request
	log := logger.Get(ctx).With(zap.String("requestID", req.ID), zap.String("action", req.Action))

	reply := s.dispatcher.Dispatch(ctx, req)
	reply.ID = req.ID
	reply.Action = req.Action

	s.mu.Lock()
	frame, err := s.replyFrame(reply)
	s.mu.Unlock()
	if err != nil {
		log.Error("Encoding reply failed", zap.Error(err))
		reply = wire.NewReply(wire.ResultInternal, "Reply could not be encoded.")
		reply.ID = req.ID
		reply.Action = req.Action

		s.mu.Lock()
		frame, err = s.replyFrame(reply)
		s.mu.Unlock()
		if err != nil {
			log.Error("Encoding reply failed", zap.Error(err))
			return
		}
	}

	started := time.Now()
	for {
		s.mu.Lock()
		if s.inbound != slot {
			s.mu.Unlock()
			log.Warn("Reply dropped, request cancelled")
			return
		}

		err := s.send(frame)
		expired := s.config.timeoutEnabled() && time.Since(started) > s.config.Timeout
		if err == nil || !errors.Is(err, transport.ErrSendPending) || expired {
			s.inbound = nil
			if err == nil {
				s.stats.RepliesSent++
				s.answered = answeredRequest{peerID: req.PeerID, id: req.ID, frame: frame}
			}
			s.mu.Unlock()

			if err != nil {
				log.Error("Sending reply failed", zap.Error(err))
			}
			return
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return
		case <-time.After(replyRetryInterval):
		}
	}
}

func (s *Session) send(frame transport.Frame) error {
	if err := s.transport.Send(frame); err != nil {
		return err
	}
	s.record(journal.Outbound, frame)
	if s.config.Debug {
		s.log.Debug("Frame sent", zap.String("atom", string(frame.Atom)), zap.ByteString("payload", frame.Payload))
	}
	return nil
}

func (s *Session) record(direction journal.Direction, frame transport.Frame) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.Record(direction, frame); err != nil {
		s.log.Warn("Recording frame failed", zap.Error(err))
	}
}

func (s *Session) cancelOutbound() {
	slot := s.outbound
	if slot == nil {
		return
	}
	slot.stop()
	s.outbound = nil
	slot.pending.resolve(nil, errors.Wrapf(ErrCancelled, "request %s %q", slot.request.ID, slot.request.Action))
}

func (s *Session) teardown() {
	s.cancelOutbound()
	s.inbound = nil
	s.peer = wire.PeerIdentity{}
	s.answered = answeredRequest{}
	if s.sm.State() != StateUninitialized {
		if err := s.sm.Transition(StateUninitialized); err != nil {
			s.log.Error("Tearing session down failed", zap.Error(err))
		}
	}
}

func isHandshake(action string) bool {
	return strings.EqualFold(action, ActionHandshake)
}
