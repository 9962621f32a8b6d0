package message

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"offrecord/internal/domain"
	"offrecord/internal/services/conversation"
	"offrecord/internal/services/identity"
)

// ErrNotAttached is returned when the service is used before Attach.
var ErrNotAttached = errors.New("message: no conversation manager attached")

// EventKind classifies what Notify reports.
type EventKind int

const (
	// EventMessage carries a message for the user.
	EventMessage EventKind = iota
	// EventNotice describes a change of session state or a protocol event.
	EventNotice
	// EventSMPRequest means the peer is waiting for our SMP secret.
	EventSMPRequest
)

// Event is something the user should see.
type Event struct {
	Kind      EventKind
	Peer      string
	Instance  domain.InstanceTag
	Text      string
	Encrypted bool
	// Question is set on EventSMPRequest when the peer asked one.
	Question string
}

// Config parameterises a Service.
type Config struct {
	Account  string
	Protocol string

	Policy         domain.Policy
	MaxMessageSize int

	// PollInterval paces relay fetches.
	PollInterval time.Duration
	// SendRate bounds posts to the relay per second.
	SendRate float64
	// FetchLimit caps envelopes per fetch; 0 fetches everything queued.
	FetchLimit int

	// Notify receives user-facing events. It runs while the conversation
	// is locked and must not call back into the Service.
	Notify func(Event)
	// KeyGen creates a missing identity; without it the account must be
	// initialised beforehand.
	KeyGen func(account, protocol string) error
}

// Service is the relay adapter for one account.
type Service struct {
	conversation.BaseHandler

	cfg   Config
	relay domain.RelayClient
	ids   *identity.Service
	log   *slog.Logger
	mgr   *conversation.Manager

	fetchLimiter *rate.Limiter
	sendLimiter  *rate.Limiter

	mu       sync.Mutex
	policy   domain.Policy
	maxSize  int
	outbox   []domain.Envelope
	interval time.Duration
	lastPoll time.Time
}

var _ domain.Handler = (*Service)(nil)

// New returns an adapter posting through rc. The caller attaches the
// manager that uses it as handler.
func New(cfg Config, rc domain.RelayClient, ids *identity.Service, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.SendRate <= 0 {
		cfg.SendRate = 4
	}
	return &Service{
		cfg:          cfg,
		relay:        rc,
		ids:          ids,
		log:          log.With("account", cfg.Account),
		fetchLimiter: rate.NewLimiter(rate.Every(cfg.PollInterval), 1),
		sendLimiter:  rate.NewLimiter(rate.Limit(cfg.SendRate), max(1, int(cfg.SendRate))),
		policy:       cfg.Policy,
		maxSize:      cfg.MaxMessageSize,
	}
}

// Attach sets the manager the service drives.
func (s *Service) Attach(m *conversation.Manager) { s.mgr = m }

// SetPolicy replaces the policy for conversations of this account.
func (s *Service) SetPolicy(p domain.Policy) {
	s.mu.Lock()
	s.policy = p
	s.mu.Unlock()
}

// SetMaxMessageSize replaces the fragmentation threshold.
func (s *Service) SetMaxMessageSize(n int) {
	s.mu.Lock()
	s.maxSize = n
	s.mu.Unlock()
}

// ---------- outbound ----------

// Send hands text for peer to the manager and posts whatever it produced.
// When policy demands encryption and no session exists yet, the text is
// held for a resend and a key exchange is started instead.
func (s *Service) Send(ctx context.Context, peer, text string) error {
	if s.mgr == nil {
		return ErrNotAttached
	}
	out, err := s.mgr.Send(s.cfg.Account, s.cfg.Protocol, peer, domain.InstanceBest, text)
	switch {
	case errors.Is(err, domain.ErrEncryptionRequired):
		if err := s.mgr.StartAKE(s.cfg.Account, s.cfg.Protocol, peer); err != nil {
			return err
		}
	case err != nil:
		return err
	case out.Message != "":
		s.queue(peer, out.Message)
	}
	return s.Flush(ctx)
}

// StartAKE asks peer to start a private conversation.
func (s *Service) StartAKE(ctx context.Context, peer string) error {
	if s.mgr == nil {
		return ErrNotAttached
	}
	if err := s.mgr.StartAKE(s.cfg.Account, s.cfg.Protocol, peer); err != nil {
		return err
	}
	return s.Flush(ctx)
}

// EndSession leaves the private conversation with peer.
func (s *Service) EndSession(ctx context.Context, peer string) error {
	if s.mgr == nil {
		return ErrNotAttached
	}
	if err := s.mgr.EndSession(s.cfg.Account, s.cfg.Protocol, peer, domain.InstanceBest); err != nil {
		return err
	}
	return s.Flush(ctx)
}

// Authenticate starts an SMP exchange with peer. question may be empty.
func (s *Service) Authenticate(ctx context.Context, peer, question, secret string) error {
	if s.mgr == nil {
		return ErrNotAttached
	}
	if err := s.mgr.InitiateSMP(s.cfg.Account, s.cfg.Protocol, peer, domain.InstanceBest, question, secret); err != nil {
		return err
	}
	return s.Flush(ctx)
}

// Answer responds to the peer's SMP request.
func (s *Service) Answer(ctx context.Context, peer, secret string) error {
	if s.mgr == nil {
		return ErrNotAttached
	}
	if err := s.mgr.RespondSMP(s.cfg.Account, s.cfg.Protocol, peer, domain.InstanceBest, secret); err != nil {
		return err
	}
	return s.Flush(ctx)
}

// AbortSMP cancels a running SMP exchange with peer.
func (s *Service) AbortSMP(ctx context.Context, peer string) error {
	if s.mgr == nil {
		return ErrNotAttached
	}
	if err := s.mgr.AbortSMP(s.cfg.Account, s.cfg.Protocol, peer, domain.InstanceBest); err != nil {
		return err
	}
	return s.Flush(ctx)
}

func (s *Service) queue(peer, body string) {
	s.mu.Lock()
	s.outbox = append(s.outbox, domain.Envelope{
		From: s.cfg.Account, To: peer, Protocol: s.cfg.Protocol, Body: body,
	})
	s.mu.Unlock()
}

// Pending returns the number of envelopes waiting for Flush.
func (s *Service) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.outbox)
}

// Flush posts queued envelopes in order. On failure the unsent envelopes
// stay queued.
func (s *Service) Flush(ctx context.Context) error {
	s.mu.Lock()
	batch := s.outbox
	s.outbox = nil
	s.mu.Unlock()

	for i, env := range batch {
		err := s.sendLimiter.Wait(ctx)
		if err == nil {
			err = s.relay.Send(ctx, env)
		}
		if err != nil {
			s.mu.Lock()
			s.outbox = append(batch[i:], s.outbox...)
			s.mu.Unlock()
			return fmt.Errorf("message: post to %s: %w", env.To, err)
		}
	}
	return nil
}

// ---------- inbound ----------

// Pump waits for the fetch limiter, processes every envelope queued for the
// account and acknowledges them. It returns how many were processed.
//
// Engine errors for single envelopes are reported through Notify and do not
// stop the batch; only transport failures are returned.
func (s *Service) Pump(ctx context.Context) (int, error) {
	if s.mgr == nil {
		return 0, ErrNotAttached
	}
	if err := s.fetchLimiter.Wait(ctx); err != nil {
		return 0, err
	}
	envs, err := s.relay.Fetch(ctx, s.cfg.Account, s.cfg.FetchLimit)
	if err != nil {
		return 0, fmt.Errorf("message: fetch: %w", err)
	}

	processed := 0
	for _, env := range envs {
		if ctx.Err() != nil {
			break
		}
		processed++
		if env.Protocol != "" && env.Protocol != s.cfg.Protocol {
			s.log.Debug("envelope for other protocol dropped", "from", env.From, "protocol", env.Protocol)
			continue
		}
		s.receive(env)
	}

	if processed > 0 {
		if err := s.relay.Ack(ctx, s.cfg.Account, processed); err != nil {
			return processed, fmt.Errorf("message: ack: %w", err)
		}
	}
	return processed, s.Flush(ctx)
}

func (s *Service) receive(env domain.Envelope) {
	out, err := s.mgr.Receive(s.cfg.Account, s.cfg.Protocol, env.From, env.Body)
	if err != nil {
		s.log.Debug("message not accepted", "from", env.From, "err", err)
		s.notify(Event{Kind: EventNotice, Peer: env.From, Text: err.Error()})
	}
	if out.Kind == conversation.ReceiveInternal || out.Message == "" {
		return
	}
	s.notify(Event{
		Kind: EventMessage, Peer: env.From, Instance: out.Instance,
		Text: out.Message, Encrypted: out.Encrypted,
	})
}

// Tick runs the manager's housekeeping when the interval it requested has
// passed.
func (s *Service) Tick(now time.Time) {
	s.mu.Lock()
	due := s.interval > 0 && now.Sub(s.lastPoll) >= s.interval
	if due {
		s.lastPoll = now
	}
	s.mu.Unlock()
	if due && s.mgr != nil {
		s.mgr.Poll(now)
	}
}

// Run pumps the relay until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	for {
		if _, err := s.Pump(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.log.Warn("relay pump failed", "err", err)
		}
		s.Tick(time.Now())
		if err := s.Flush(ctx); err != nil && ctx.Err() == nil {
			s.log.Warn("relay flush failed", "err", err)
		}
	}
}

func (s *Service) notify(ev Event) {
	if s.cfg.Notify != nil {
		s.cfg.Notify(ev)
		return
	}
	s.log.Info("event", "kind", ev.Kind, "peer", ev.Peer, "text", ev.Text)
}

// ---------- domain.Handler ----------

func (s *Service) Policy(domain.Conversation) domain.Policy {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.policy
}

func (s *Service) CreatePrivateKey(account, protocol string) {
	if s.cfg.KeyGen == nil {
		s.log.Warn("no identity for account", "protocol", protocol)
		return
	}
	if err := s.cfg.KeyGen(account, protocol); err != nil {
		s.log.Error("identity generation failed", "protocol", protocol, "err", err)
	}
}

// LoggedIn is always unsure: the relay has no presence.
func (s *Service) LoggedIn(string, string, string) domain.LoggedInStatus {
	return domain.LoggedInNotSure
}

func (s *Service) InjectMessage(account, protocol, recipient, message string) {
	s.queue(recipient, message)
}

func (s *Service) NewFingerprint(account, protocol, username string, fp domain.Fingerprint) {
	s.notify(Event{Kind: EventNotice, Peer: username,
		Text: fmt.Sprintf("new fingerprint %s; verify it before trusting the conversation", fp)})
}

func (s *Service) WriteFingerprints() {
	if s.ids == nil {
		return
	}
	if err := s.ids.SaveFingerprints(); err != nil {
		s.log.Error("saving fingerprints failed", "err", err)
	}
}

func (s *Service) GoneSecure(conv domain.Conversation) {
	text := "private conversation started"
	if !conv.Trust.Verified() {
		text += " (unverified)"
	}
	s.notify(Event{Kind: EventNotice, Peer: conv.Peer, Instance: conv.TheirInstance, Text: text})
}

func (s *Service) GoneInsecure(conv domain.Conversation) {
	s.notify(Event{Kind: EventNotice, Peer: conv.Peer, Instance: conv.TheirInstance,
		Text: "private conversation lost"})
}

func (s *Service) StillSecure(conv domain.Conversation, _ domain.Initiated) {
	s.notify(Event{Kind: EventNotice, Peer: conv.Peer, Instance: conv.TheirInstance,
		Text: "private conversation refreshed"})
}

func (s *Service) MaxMessageSize(domain.Conversation) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxSize
}

func (s *Service) HandleSMPEvent(ev domain.SMPEvent, conv domain.Conversation, progress int, question string) {
	switch ev {
	case domain.SMPEventAskForSecret, domain.SMPEventAskForAnswer:
		s.notify(Event{Kind: EventSMPRequest, Peer: conv.Peer, Instance: conv.TheirInstance,
			Text: "peer wants to authenticate", Question: question})
	case domain.SMPEventSuccess:
		s.notify(Event{Kind: EventNotice, Peer: conv.Peer, Instance: conv.TheirInstance, Text: "authentication succeeded"})
	case domain.SMPEventFailure, domain.SMPEventCheated, domain.SMPEventError:
		s.notify(Event{Kind: EventNotice, Peer: conv.Peer, Instance: conv.TheirInstance,
			Text: "authentication failed (" + ev.String() + ")"})
	case domain.SMPEventAbort:
		s.notify(Event{Kind: EventNotice, Peer: conv.Peer, Instance: conv.TheirInstance, Text: "authentication aborted"})
	default:
		s.log.Debug("smp progress", "peer", conv.Peer, "event", ev.String(), "progress", progress)
	}
}

func (s *Service) HandleMessageEvent(ev domain.MessageEvent, conv domain.Conversation, message string, err error) {
	switch ev {
	case domain.EventHeartbeatReceived, domain.EventHeartbeatSent:
		s.log.Debug("heartbeat", "peer", conv.Peer, "event", ev.String())
		return
	case domain.EventReceivedUnencrypted:
		s.notify(Event{Kind: EventNotice, Peer: conv.Peer, Instance: conv.TheirInstance,
			Text: "the following message was sent unencrypted"})
		return
	case domain.EventEncryptionRequired:
		s.notify(Event{Kind: EventNotice, Peer: conv.Peer, Text: "message held until the conversation is private"})
		return
	}
	text := ev.String()
	if message != "" {
		text += ": " + message
	} else if err != nil {
		text += ": " + err.Error()
	}
	s.notify(Event{Kind: EventNotice, Peer: conv.Peer, Instance: conv.TheirInstance, Text: text})
}

func (s *Service) TimerControl(interval time.Duration) {
	s.mu.Lock()
	s.interval = interval
	s.mu.Unlock()
}
