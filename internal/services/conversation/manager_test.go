package conversation_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"offrecord/internal/domain"
	"offrecord/internal/services/conversation"
	"offrecord/internal/store"
)

const proto = "xmpp"

type smpCall struct {
	ev       domain.SMPEvent
	progress int
	question string
}

// recorder is a handler that queues injected messages and records callbacks.
type recorder struct {
	conversation.BaseHandler

	policy  domain.Policy
	maxSize int

	outbox       []string
	events       []domain.MessageEvent
	smp          []smpCall
	secure       int
	insecure     int
	still        int
	newFP        int
	writes       int
	timer        []time.Duration
	symmetricKey *[32]byte
	symmetricUse uint32
}

func (r *recorder) Policy(domain.Conversation) domain.Policy { return r.policy }

func (r *recorder) InjectMessage(_, _, _, msg string) { r.outbox = append(r.outbox, msg) }

func (r *recorder) MaxMessageSize(domain.Conversation) int { return r.maxSize }

func (r *recorder) GoneSecure(domain.Conversation) { r.secure++ }

func (r *recorder) GoneInsecure(domain.Conversation) { r.insecure++ }

func (r *recorder) StillSecure(domain.Conversation, domain.Initiated) { r.still++ }

func (r *recorder) NewFingerprint(string, string, string, domain.Fingerprint) { r.newFP++ }

func (r *recorder) WriteFingerprints() { r.writes++ }

func (r *recorder) TimerControl(d time.Duration) { r.timer = append(r.timer, d) }

func (r *recorder) HandleMessageEvent(ev domain.MessageEvent, _ domain.Conversation, _ string, _ error) {
	r.events = append(r.events, ev)
}

func (r *recorder) HandleSMPEvent(ev domain.SMPEvent, _ domain.Conversation, progress int, question string) {
	r.smp = append(r.smp, smpCall{ev, progress, question})
}

func (r *recorder) ReceivedSymmetricKey(_ domain.Conversation, use uint32, _ []byte, key [32]byte) {
	r.symmetricUse, r.symmetricKey = use, &key
}

func (r *recorder) take() []string {
	out := r.outbox
	r.outbox = nil
	return out
}

func (r *recorder) saw(ev domain.MessageEvent) bool {
	for _, e := range r.events {
		if e == ev {
			return true
		}
	}
	return false
}

func (r *recorder) lastSMP() smpCall {
	if len(r.smp) == 0 {
		return smpCall{}
	}
	return r.smp[len(r.smp)-1]
}

type side struct {
	name string
	st   *store.Store
	m    *conversation.Manager
	h    *recorder
}

type testClock struct{ now time.Time }

func (c *testClock) Now() time.Time          { return c.now }
func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newClock() *testClock {
	return &testClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func newSide(t *testing.T, name string, clk *testClock, policy domain.Policy) *side {
	t.Helper()
	st := store.New(store.WithClock(clk.Now))
	_, err := st.GenerateIdentity(name, proto)
	require.NoError(t, err)
	h := &recorder{policy: policy}
	return &side{name: name, st: st, h: h, m: conversation.New(st, h, conversation.WithClock(clk.Now))}
}

func pair(t *testing.T, policy domain.Policy) (*side, *side, *testClock) {
	clk := newClock()
	return newSide(t, "alice", clk, policy), newSide(t, "bob", clk, policy), clk
}

// pump delivers queued messages in both directions until both sides are
// quiet and returns what each side received for display.
func pump(t *testing.T, a, b *side) (toA, toB []conversation.ReceiveOutcome) {
	t.Helper()
	for range 64 {
		fromA, fromB := a.h.take(), b.h.take()
		if len(fromA) == 0 && len(fromB) == 0 {
			return toA, toB
		}
		for _, msg := range fromA {
			out, err := b.m.Receive(b.name, proto, a.name, msg)
			require.NoError(t, err)
			if out.Kind != conversation.ReceiveInternal {
				toB = append(toB, out)
			}
		}
		for _, msg := range fromB {
			out, err := a.m.Receive(a.name, proto, b.name, msg)
			require.NoError(t, err)
			if out.Kind != conversation.ReceiveInternal {
				toA = append(toA, out)
			}
		}
	}
	t.Fatal("conversation did not settle")
	return nil, nil
}

// secure runs a key exchange started by a's query.
func secure(t *testing.T, a, b *side) {
	t.Helper()
	require.NoError(t, a.m.StartAKE(a.name, proto, b.name))
	pump(t, a, b)
	require.Equal(t, 1, a.h.secure)
	require.Equal(t, 1, b.h.secure)
}

func contextOf(t *testing.T, s *side, peer string) domain.Conversation {
	t.Helper()
	for _, c := range s.m.Contexts() {
		if c.Peer == peer && c.TheirInstance.Valid() {
			return c
		}
	}
	t.Fatalf("%s has no instance context for %s", s.name, peer)
	return domain.Conversation{}
}

func TestSend_PlaintextWithoutPolicy(t *testing.T) {
	alice, _, _ := pair(t, domain.PolicyNever)

	out, err := alice.m.Send("alice", proto, "bob", domain.InstanceBest, "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", out.Message)
	assert.False(t, out.Encrypted)
	assert.Empty(t, alice.h.outbox)
}

func TestSend_RequireEncryptionInjectsNothing(t *testing.T) {
	alice, _, _ := pair(t, domain.PolicyAlways)

	out, err := alice.m.Send("alice", proto, "bob", domain.InstanceBest, "secret plans")
	require.ErrorIs(t, err, domain.ErrEncryptionRequired)
	assert.Empty(t, out.Message)
	assert.Empty(t, alice.h.outbox)
	assert.True(t, alice.h.saw(domain.EventEncryptionRequired))
}

func TestSend_InvalidInstanceTag(t *testing.T) {
	alice, _, _ := pair(t, domain.PolicyDefault)

	_, err := alice.m.Send("alice", proto, "bob", domain.InstanceTag(0x42), "hi")
	assert.ErrorIs(t, err, domain.ErrInvalidTag)
}

func TestAKE_QueryThenPrivateMessage(t *testing.T) {
	alice, bob, _ := pair(t, domain.PolicyDefault)
	secure(t, alice, bob)

	out, err := alice.m.Send("alice", proto, "bob", domain.InstanceBest, "hi bob")
	require.NoError(t, err)
	assert.True(t, out.Encrypted)
	assert.Empty(t, out.Message, "engine injects every fragment by default")

	_, toBob := pump(t, alice, bob)
	require.Len(t, toBob, 1)
	assert.Equal(t, conversation.ReceiveDeliver, toBob[0].Kind)
	assert.Equal(t, "hi bob", toBob[0].Message)
	assert.True(t, toBob[0].Encrypted)

	// Each side learned the other's fingerprint once.
	assert.Equal(t, 1, alice.h.newFP)
	assert.Equal(t, 1, bob.h.newFP)
	aliceFP, _ := alice.st.OwnFingerprint("alice", proto)
	e, ok := bob.st.FingerprintFor("bob", proto, "alice")
	require.True(t, ok)
	assert.Equal(t, aliceFP, e.Fingerprint)

	c := contextOf(t, bob, "alice")
	assert.Equal(t, domain.StateEncrypted, c.State)
	assert.Equal(t, aliceFP, c.Fingerprint)
	assert.Equal(t, contextOf(t, alice, "bob").SSID, c.SSID)
}

func TestAKE_WhitespaceTagStartsExchange(t *testing.T) {
	alice, bob, _ := pair(t, domain.PolicyOpportunistic)

	out, err := alice.m.Send("alice", proto, "bob", domain.InstanceBest, "hello")
	require.NoError(t, err)
	require.NotEqual(t, "hello", out.Message)
	require.True(t, strings.HasPrefix(out.Message, "hello"))

	got, err := bob.m.Receive("bob", proto, "alice", out.Message)
	require.NoError(t, err)
	assert.Equal(t, conversation.ReceiveDeliver, got.Kind)
	assert.Equal(t, "hello", got.Message)

	pump(t, alice, bob)
	assert.Equal(t, 1, alice.h.secure)
	assert.Equal(t, 1, bob.h.secure)
}

func TestAKE_SimultaneousStart(t *testing.T) {
	alice, bob, _ := pair(t, domain.PolicyDefault)

	require.NoError(t, alice.m.StartAKE("alice", proto, "bob"))
	require.NoError(t, bob.m.StartAKE("bob", proto, "alice"))
	pump(t, alice, bob)

	assert.Equal(t, 1, alice.h.secure)
	assert.Equal(t, 1, bob.h.secure)
	assert.Zero(t, alice.h.still)
	assert.Zero(t, bob.h.still)
	assert.Equal(t, contextOf(t, alice, "bob").SSID, contextOf(t, bob, "alice").SSID)

	_, err := bob.m.Send("bob", proto, "alice", domain.InstanceBest, "crossed")
	require.NoError(t, err)
	toAlice, _ := pump(t, alice, bob)
	require.Len(t, toAlice, 1)
	assert.Equal(t, "crossed", toAlice[0].Message)
	assert.True(t, toAlice[0].Encrypted)
}

func TestAKE_RefreshReportsStillSecure(t *testing.T) {
	alice, bob, _ := pair(t, domain.PolicyDefault)
	secure(t, alice, bob)

	require.NoError(t, bob.m.StartAKE("bob", proto, "alice"))
	pump(t, alice, bob)
	assert.Equal(t, 1, alice.h.secure)
	assert.Equal(t, 1, alice.h.still)
	assert.Equal(t, 1, bob.h.still)
	assert.Equal(t, 1, alice.h.newFP, "known fingerprint is not announced again")
}

func TestReceive_ReplayIsRejected(t *testing.T) {
	alice, bob, _ := pair(t, domain.PolicyDefault)
	secure(t, alice, bob)

	_, err := alice.m.Send("alice", proto, "bob", domain.InstanceBest, "once")
	require.NoError(t, err)
	msgs := alice.h.take()
	require.Len(t, msgs, 1)

	out, err := bob.m.Receive("bob", proto, "alice", msgs[0])
	require.NoError(t, err)
	assert.Equal(t, "once", out.Message)

	_, err = bob.m.Receive("bob", proto, "alice", msgs[0])
	assert.ErrorIs(t, err, domain.ErrMessageMalformed)
	assert.True(t, bob.h.saw(domain.EventReceivedMalformed))
}

func TestReceive_ReflectedMessageIsDropped(t *testing.T) {
	alice, bob, _ := pair(t, domain.PolicyDefault)
	secure(t, alice, bob)

	_, err := alice.m.Send("alice", proto, "bob", domain.InstanceBest, "mirror")
	require.NoError(t, err)
	msgs := alice.h.take()
	require.Len(t, msgs, 1)

	out, err := alice.m.Receive("alice", proto, "bob", msgs[0])
	require.NoError(t, err)
	assert.Equal(t, conversation.ReceiveInternal, out.Kind)
	assert.True(t, alice.h.saw(domain.EventMessageReflected))
}

func TestReceive_DataOutsidePrivateSession(t *testing.T) {
	alice, bob, clk := pair(t, domain.PolicyDefault)
	secure(t, alice, bob)

	_, err := alice.m.Send("alice", proto, "bob", domain.InstanceBest, "lost")
	require.NoError(t, err)
	msgs := alice.h.take()

	// Same account and instance, but the session state was lost.
	stranger := newSide(t, "bob", clk, domain.PolicyDefault)
	bobTag, ok := bob.st.InstanceTag("bob", proto)
	require.True(t, ok)
	require.NoError(t, stranger.st.SetInstanceTag("bob", proto, bobTag))
	_, err = stranger.m.Receive("bob", proto, "alice", msgs[0])
	assert.ErrorIs(t, err, domain.ErrMessageNotInPrivate)
	assert.True(t, stranger.h.saw(domain.EventReceivedNotInPrivate))
	require.Len(t, stranger.h.outbox, 1)
	assert.True(t, strings.HasPrefix(stranger.h.outbox[0], "?OTR Error:"))
}

func TestReceive_PlaintextDuringPrivateSession(t *testing.T) {
	alice, bob, _ := pair(t, domain.PolicyDefault)
	secure(t, alice, bob)

	out, err := bob.m.Receive("bob", proto, "alice", "in the clear")
	require.NoError(t, err)
	assert.Equal(t, conversation.ReceiveDeliver, out.Kind)
	assert.False(t, out.Encrypted)
	assert.True(t, bob.h.saw(domain.EventReceivedUnencrypted))
}

func TestSend_FragmentsLargeMessages(t *testing.T) {
	alice, bob, _ := pair(t, domain.PolicyDefault)
	alice.h.maxSize, bob.h.maxSize = 180, 180
	secure(t, alice, bob)

	text := strings.Repeat("fragment me ", 60)
	out, err := alice.m.Send("alice", proto, "bob", domain.InstanceBest, text)
	require.NoError(t, err)
	assert.Empty(t, out.Message)
	require.Greater(t, len(alice.h.outbox), 1)
	for _, piece := range alice.h.outbox {
		assert.LessOrEqual(t, len(piece), 180)
	}

	_, toBob := pump(t, alice, bob)
	require.Len(t, toBob, 1)
	assert.Equal(t, text, toBob[0].Message)
}

func TestSend_FragmentPolicyAllButLast(t *testing.T) {
	alice, bob, _ := pair(t, domain.PolicyDefault)
	alice.h.maxSize = 180
	secure(t, alice, bob)

	s := alice.m.Settings()
	s.FragmentPolicy = domain.FragmentSendAllButLast
	alice.m.UpdateSettings(s)

	text := strings.Repeat("x", 400)
	out, err := alice.m.Send("alice", proto, "bob", domain.InstanceBest, text)
	require.NoError(t, err)
	require.NotEmpty(t, out.Message)
	assert.True(t, strings.HasPrefix(out.Message, "?OTR|"))

	for _, piece := range append(alice.h.take(), out.Message) {
		got, err := bob.m.Receive("bob", proto, "alice", piece)
		require.NoError(t, err)
		if got.Kind != conversation.ReceiveInternal {
			assert.Equal(t, text, got.Message)
		}
	}
}

func TestEndSession_PeerSeesFinished(t *testing.T) {
	alice, bob, _ := pair(t, domain.PolicyDefault)
	secure(t, alice, bob)

	require.NoError(t, alice.m.EndSession("alice", proto, "bob", domain.InstanceMaster))
	assert.Equal(t, 1, alice.h.insecure)
	assert.Equal(t, domain.StatePlaintext, contextOf(t, alice, "bob").State)

	pump(t, alice, bob)
	assert.Equal(t, 1, bob.h.insecure)
	assert.Equal(t, domain.StateFinished, contextOf(t, bob, "alice").State)

	_, err := bob.m.Send("bob", proto, "alice", domain.InstanceBest, "still there?")
	assert.ErrorIs(t, err, domain.ErrConnectionEnded)
	assert.True(t, bob.h.saw(domain.EventConnectionEnded))

	require.NoError(t, bob.m.EndSession("bob", proto, "alice", domain.InstanceBest))
	assert.Equal(t, domain.StatePlaintext, contextOf(t, bob, "alice").State)
}

func TestForget_RefusedWhilePrivate(t *testing.T) {
	alice, bob, _ := pair(t, domain.PolicyDefault)
	secure(t, alice, bob)

	assert.ErrorIs(t, alice.m.Forget("alice", proto, "bob"), conversation.ErrStillPrivate)
	require.NoError(t, alice.m.EndSession("alice", proto, "bob", domain.InstanceMaster))
	require.NoError(t, alice.m.Forget("alice", proto, "bob"))
	assert.Empty(t, alice.m.Contexts())
	assert.ErrorIs(t, alice.m.Forget("alice", proto, "bob"), conversation.ErrNoConversation)
}

func TestResend_AfterGoingSecure(t *testing.T) {
	alice, bob, _ := pair(t, domain.PolicyAlways)

	_, err := alice.m.Send("alice", proto, "bob", domain.InstanceBest, "wait for it")
	require.ErrorIs(t, err, domain.ErrEncryptionRequired)

	require.NoError(t, alice.m.StartAKE("alice", proto, "bob"))
	_, toBob := pump(t, alice, bob)
	require.Len(t, toBob, 1)
	assert.Equal(t, "[resent] wait for it", toBob[0].Message)
	assert.True(t, alice.h.saw(domain.EventMessageResent))
}

func TestResend_ExpiredMessageIsDropped(t *testing.T) {
	alice, bob, clk := pair(t, domain.PolicyAlways)

	_, err := alice.m.Send("alice", proto, "bob", domain.InstanceBest, "too late")
	require.ErrorIs(t, err, domain.ErrEncryptionRequired)
	clk.Advance(2 * conversation.DefaultResendWindow)

	require.NoError(t, alice.m.StartAKE("alice", proto, "bob"))
	_, toBob := pump(t, alice, bob)
	assert.Empty(t, toBob)
	assert.False(t, alice.h.saw(domain.EventMessageResent))
}

func TestHeartbeat_SentAfterQuietPeriod(t *testing.T) {
	alice, bob, clk := pair(t, domain.PolicyDefault)
	secure(t, alice, bob)

	clk.Advance(2 * conversation.DefaultHeartbeatInterval)
	_, err := alice.m.Send("alice", proto, "bob", domain.InstanceBest, "ping")
	require.NoError(t, err)

	toAlice, toBob := pump(t, alice, bob)
	require.Len(t, toBob, 1)
	assert.Empty(t, toAlice)
	assert.True(t, bob.h.saw(domain.EventHeartbeatSent))
	assert.True(t, alice.h.saw(domain.EventHeartbeatReceived))
}

func TestPoll_ExpiresStalledExchange(t *testing.T) {
	alice, bob, clk := pair(t, domain.PolicyDefault)

	require.NoError(t, alice.m.StartAKE("alice", proto, "bob"))
	for _, msg := range alice.h.take() {
		_, err := bob.m.Receive("bob", proto, "alice", msg)
		require.NoError(t, err)
	}
	// Bob committed; the commit is never answered.
	require.Len(t, bob.h.outbox, 1)
	require.Equal(t, []time.Duration{conversation.DefaultPollInterval}, bob.h.timer)

	bob.m.Poll(clk.Now())
	assert.Len(t, bob.h.timer, 1, "exchange still running")

	clk.Advance(2 * time.Minute)
	bob.m.Poll(clk.Now())
	assert.Equal(t, []time.Duration{conversation.DefaultPollInterval, 0}, bob.h.timer)
}

func TestSMP_SameSecretMarksTrust(t *testing.T) {
	alice, bob, _ := pair(t, domain.PolicyDefault)
	secure(t, alice, bob)

	require.NoError(t, alice.m.InitiateSMP("alice", proto, "bob", domain.InstanceBest, "", "swordfish"))
	pump(t, alice, bob)
	assert.Equal(t, domain.SMPEventAskForSecret, bob.h.lastSMP().ev)

	require.NoError(t, bob.m.RespondSMP("bob", proto, "alice", domain.InstanceBest, "swordfish"))
	pump(t, alice, bob)

	assert.Equal(t, smpCall{ev: domain.SMPEventSuccess, progress: 100}, alice.h.lastSMP())
	assert.Equal(t, smpCall{ev: domain.SMPEventSuccess, progress: 100}, bob.h.lastSMP())
	assert.Equal(t, domain.TrustSMP, contextOf(t, alice, "bob").Trust)
	assert.Equal(t, domain.TrustSMP, contextOf(t, bob, "alice").Trust)
}

func TestSMP_AnsweringQuestionDoesNotTrust(t *testing.T) {
	alice, bob, _ := pair(t, domain.PolicyDefault)
	secure(t, alice, bob)

	require.NoError(t, alice.m.InitiateSMP("alice", proto, "bob", domain.InstanceBest, "first pet?", "rex"))
	pump(t, alice, bob)
	assert.Equal(t, smpCall{ev: domain.SMPEventAskForAnswer, progress: 25, question: "first pet?"}, bob.h.lastSMP())

	require.NoError(t, bob.m.RespondSMP("bob", proto, "alice", domain.InstanceBest, "rex"))
	pump(t, alice, bob)

	assert.Equal(t, domain.SMPEventSuccess, alice.h.lastSMP().ev)
	assert.Equal(t, domain.SMPEventSuccess, bob.h.lastSMP().ev)
	assert.Equal(t, domain.TrustSMP, contextOf(t, alice, "bob").Trust)
	assert.Equal(t, domain.TrustUnverified, contextOf(t, bob, "alice").Trust)
}

func TestSMP_DifferentSecretFails(t *testing.T) {
	alice, bob, _ := pair(t, domain.PolicyDefault)
	secure(t, alice, bob)

	require.NoError(t, alice.m.InitiateSMP("alice", proto, "bob", domain.InstanceBest, "", "swordfish"))
	pump(t, alice, bob)
	require.NoError(t, bob.m.RespondSMP("bob", proto, "alice", domain.InstanceBest, "tuna"))
	pump(t, alice, bob)

	assert.Equal(t, domain.SMPEventFailure, alice.h.lastSMP().ev)
	assert.Equal(t, domain.SMPEventFailure, bob.h.lastSMP().ev)
	assert.Equal(t, domain.TrustUnverified, contextOf(t, alice, "bob").Trust)
}

func TestSMP_Abort(t *testing.T) {
	alice, bob, _ := pair(t, domain.PolicyDefault)
	secure(t, alice, bob)

	require.NoError(t, alice.m.InitiateSMP("alice", proto, "bob", domain.InstanceBest, "", "swordfish"))
	pump(t, alice, bob)
	require.NoError(t, bob.m.AbortSMP("bob", proto, "alice", domain.InstanceBest))
	pump(t, alice, bob)

	assert.Equal(t, domain.SMPEventAbort, alice.h.lastSMP().ev)
	assert.Equal(t, domain.SMPEventAbort, bob.h.lastSMP().ev)
}

func TestSMP_RequiresPrivateSession(t *testing.T) {
	alice, _, _ := pair(t, domain.PolicyDefault)
	_, err := alice.m.Send("alice", proto, "bob", domain.InstanceBest, "hi")
	require.NoError(t, err)

	err = alice.m.InitiateSMP("alice", proto, "bob", domain.InstanceBest, "", "x")
	assert.ErrorIs(t, err, domain.ErrNotEncrypted)
	err = alice.m.RespondSMP("carol", proto, "bob", domain.InstanceBest, "x")
	assert.ErrorIs(t, err, conversation.ErrNoConversation)
}

func TestExtraSymmetricKey_SharedWithPeer(t *testing.T) {
	alice, bob, _ := pair(t, domain.PolicyDefault)
	secure(t, alice, bob)

	key, err := alice.m.ExtraSymmetricKey("alice", proto, "bob", domain.InstanceBest, 7, []byte("file-transfer"))
	require.NoError(t, err)
	pump(t, alice, bob)

	require.NotNil(t, bob.h.symmetricKey)
	assert.Equal(t, key, *bob.h.symmetricKey)
	assert.Equal(t, uint32(7), bob.h.symmetricUse)
}

func TestContexts_MasterAndInstance(t *testing.T) {
	alice, bob, _ := pair(t, domain.PolicyDefault)
	secure(t, alice, bob)

	ctxs := alice.m.Contexts()
	require.Len(t, ctxs, 2)
	assert.Equal(t, domain.InstanceMaster, ctxs[0].TheirInstance)
	assert.Equal(t, domain.StatePlaintext, ctxs[0].State)
	assert.True(t, ctxs[1].TheirInstance.Valid())
	assert.Equal(t, domain.StateEncrypted, ctxs[1].State)

	bobTag, ok := bob.st.InstanceTag("bob", proto)
	require.True(t, ok)
	assert.Equal(t, bobTag, ctxs[1].TheirInstance)
	assert.Equal(t, ctxs[1].OurInstance, contextOf(t, bob, "alice").TheirInstance)
}

func TestHandler_LookupOrder(t *testing.T) {
	clk := newClock()
	st := store.New(store.WithClock(clk.Now))
	def := &recorder{policy: domain.PolicyAlways}
	acct := &recorder{policy: domain.PolicyAlways}
	peer := &recorder{policy: domain.PolicyAlways}
	m := conversation.New(st, def, conversation.WithClock(clk.Now))
	m.RegisterAccount("alice", proto, acct)
	m.RegisterPeer("alice", proto, "carol", peer)

	send := func(account, to string) {
		_, err := m.Send(account, proto, to, domain.InstanceBest, "x")
		require.ErrorIs(t, err, domain.ErrEncryptionRequired)
	}
	send("alice", "carol")
	send("alice", "dave")
	send("mallory", "dave")

	assert.Len(t, peer.events, 1)
	assert.Len(t, acct.events, 1)
	assert.Len(t, def.events, 1)

	m.RegisterPeer("alice", proto, "carol", nil)
	send("alice", "carol")
	assert.Len(t, acct.events, 2)
}

func TestHandler_MissingHandler(t *testing.T) {
	m := conversation.New(store.New(), nil)
	_, err := m.Send("alice", proto, "bob", domain.InstanceBest, "x")
	assert.ErrorIs(t, err, domain.ErrNoHandler)

	h := &recorder{policy: domain.PolicyAlways}
	m.SetDefaultHandler(h)
	_, err = m.Send("alice", proto, "bob", domain.InstanceBest, "x")
	assert.ErrorIs(t, err, domain.ErrEncryptionRequired)
	assert.Len(t, h.events, 1)
}

func TestClose_DisconnectsAndStopsTimer(t *testing.T) {
	alice, bob, _ := pair(t, domain.PolicyDefault)
	secure(t, alice, bob)

	alice.m.Close()
	assert.Empty(t, alice.m.Contexts())
	assert.Equal(t, time.Duration(0), alice.h.timer[len(alice.h.timer)-1])

	pump(t, alice, bob)
	assert.Equal(t, domain.StateFinished, contextOf(t, bob, "alice").State)
}
