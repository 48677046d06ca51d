// Package gateway implements the central authenticated multiplexer of
// spec.md section 4.7: it terminates the agent, client, and pack streams,
// persists the conversation ledger, and brokers pack tool calls. Grounded
// on the shape of the teacher's (now-removed) grpc_service.go/broadcast.go
// pair — one struct satisfying every wire.*Server interface, one
// broadcast channel per conversation with writer-then-publish ordering,
// and bounded per-peer outbound channels with differing backpressure
// policy per peer kind.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc/metadata"

	"github.com/swarmgate/swarm/internal/credential"
	"github.com/swarmgate/swarm/internal/metrics"
	"github.com/swarmgate/swarm/internal/packbridge"
	"github.com/swarmgate/swarm/internal/store"
	"github.com/swarmgate/swarm/internal/swerr"
	"github.com/swarmgate/swarm/internal/toolregistry"
	"github.com/swarmgate/swarm/internal/wire"
)

// MaxRegistrationAttempts bounds the agent_id suffix retry loop (spec.md
// 4.7 / 5).
const MaxRegistrationAttempts = 100

// OutboundBufferSize bounds every per-peer outbound channel (spec.md 4.7).
const OutboundBufferSize = 256

// Config carries the gateway's identity and external endpoints, surfaced
// to agents in their Welcome frame.
type Config struct {
	ServerID    string
	InstanceID  string
	MCPEndpoint string
	MCPSecret   []byte
}

// Gateway is the single struct implementing all three wire.*Server
// interfaces (spec.md 4.7).
type Gateway struct {
	cfg   Config
	store *store.Store
	packs *packbridge.Bridge
	tools *toolregistry.Registry
	guard *credential.ReplayGuard
	prins *principalRegistry
	mx    *metrics.Metrics

	logger *slog.Logger

	mu            sync.RWMutex
	agents        map[string]*agentConn
	conversations map[string]*conversation

	// reqMu guards pendingRequests, the request_id -> conversation_key
	// correlation table populated in SendMessage just before the message
	// is handed to the agent. An agent's Response frames only carry the
	// request_id back (spec.md 4.3's wire shape), so handleAgentResponse
	// consults this table to know which conversation the reply belongs
	// to, instead of mistaking the request_id itself for the key.
	reqMu           sync.Mutex
	pendingRequests map[string]string
}

// New returns a Gateway wired to the given store, pack bridge, and shared
// tool registry. Metrics come from metrics.New, which registers them on the
// default Prometheus registry that a promhttp.Handler /metrics endpoint serves.
func New(cfg Config, st *store.Store, packs *packbridge.Bridge, tools *toolregistry.Registry) *Gateway {
	mx := metrics.New()
	if packs != nil {
		packs.SetMetrics(mx)
	}
	return &Gateway{
		cfg:             cfg,
		store:           st,
		packs:           packs,
		tools:           tools,
		guard:           credential.NewReplayGuard(credential.MaxSkew),
		prins:           newPrincipalRegistry(),
		mx:              mx,
		logger:          slog.Default().With("component", "gateway"),
		agents:          make(map[string]*agentConn),
		conversations:   make(map[string]*conversation),
		pendingRequests: make(map[string]string),
	}
}

// rememberRequest records that requestID belongs to conversationKey, so a
// later Response frame carrying only the request_id can be routed back to
// the right conversation (spec.md 4.7).
func (g *Gateway) rememberRequest(requestID, conversationKey string) {
	g.reqMu.Lock()
	g.pendingRequests[requestID] = conversationKey
	g.reqMu.Unlock()
}

// conversationKeyForRequest resolves a request_id back to its
// conversation_key, if SendMessage recorded one.
func (g *Gateway) conversationKeyForRequest(requestID string) (string, bool) {
	g.reqMu.Lock()
	key, ok := g.pendingRequests[requestID]
	g.reqMu.Unlock()
	return key, ok
}

// forgetRequest drops a request_id's correlation entry once its terminal
// event has been handled, so pendingRequests doesn't grow unbounded across
// a long-lived agent connection.
func (g *Gateway) forgetRequest(requestID string) {
	g.reqMu.Lock()
	delete(g.pendingRequests, requestID)
	g.reqMu.Unlock()
}

// Metrics returns the gateway's Prometheus metrics recorder. The /metrics
// endpoint serves these through the default Prometheus registry, not
// through this accessor.
func (g *Gateway) Metrics() *metrics.Metrics {
	return g.mx
}

// agentConn is the gateway's live handle on one registered agent stream.
type agentConn struct {
	agentID    string
	name       string
	backend    string
	workingDir string
	workspaces []string
	git        *wire.GitInfo
	hostname   string
	os         string

	connectedAt time.Time
	lastSeen    time.Time

	outbound chan *wire.ServerMessage

	// mu guards lastSeen.
	mu sync.Mutex
}

func newAgentConn(reg *wire.RegisterRequest) *agentConn {
	return &agentConn{
		agentID:     reg.AgentID,
		name:        reg.Name,
		backend:     reg.Backend,
		workingDir:  reg.WorkingDir,
		workspaces:  reg.Workspaces,
		git:         reg.Git,
		hostname:    reg.Hostname,
		os:          reg.OS,
		connectedAt: time.Now(),
		lastSeen:    time.Now(),
		outbound:    make(chan *wire.ServerMessage, OutboundBufferSize),
	}
}

// sendToAgent enqueues msg onto conn's outbound channel, waiting if full:
// agent peers are production-critical (spec.md 4.7's backpressure policy).
func (g *Gateway) sendToAgent(ctx context.Context, conn *agentConn, msg *wire.ServerMessage) error {
	select {
	case conn.outbound <- msg:
		return nil
	case <-ctx.Done():
		return swerr.Wrap(swerr.DeadlineExceeded, ctx.Err())
	}
}

// conversation is the per-conversation fan-out unit: writeMu serializes
// save-then-publish so every subscriber observes the same total order
// matching Store-assigned ledger ids (spec.md 4.7).
type conversation struct {
	key     string
	agentID string

	writeMu sync.Mutex

	mu          sync.Mutex
	subscribers map[string]chan *wire.ClientStreamEvent
}

func newConversation(key, agentID string) *conversation {
	return &conversation{key: key, agentID: agentID, subscribers: make(map[string]chan *wire.ClientStreamEvent)}
}

func (c *conversation) subscribe() (string, chan *wire.ClientStreamEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := uuid.NewString()
	ch := make(chan *wire.ClientStreamEvent, OutboundBufferSize)
	c.subscribers[id] = ch
	return id, ch
}

func (c *conversation) unsubscribe(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ch, ok := c.subscribers[id]; ok {
		delete(c.subscribers, id)
		close(ch)
	}
}

// publish fans ev out to every subscriber. A client subscriber whose
// channel is full is dropped and its channel closed rather than blocking
// the publisher, and StreamEvents then ends that RPC with Unavailable
// (spec.md 4.7's client backpressure policy); agent/pack
// channels never go through this path, only client ones.
func (c *conversation) publish(ev *wire.ClientStreamEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, ch := range c.subscribers {
		select {
		case ch <- ev:
		default:
			delete(c.subscribers, id)
			select {
			case ch <- &wire.ClientStreamEvent{Error: &wire.StreamError{Message: "slow consumer evicted"}}:
			default:
			}
			close(ch)
		}
	}
}

func (g *Gateway) conversationFor(key, agentID string) *conversation {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.conversations[key]
	if !ok {
		c = newConversation(key, agentID)
		g.conversations[key] = c
	}
	return c
}

// ledgerAppendAndPublish is the serialized save-then-publish primitive
// every fan-out path goes through, so the order subscribers observe always
// matches the order the Store assigned ledger ids (spec.md 4.7's ordering
// guarantee). The returned bool reports whether m was freshly inserted; a
// dedup hit on (conversation_id, idempotency_key) is not republished, since
// every subscriber already saw it the first time, and callers must treat
// it as a no-op rather than a new event (spec.md 4.7/9's idempotency
// invariant).
func (g *Gateway) ledgerAppendAndPublish(ctx context.Context, conv *conversation, m store.Message) (store.Message, bool, error) {
	conv.writeMu.Lock()
	defer conv.writeMu.Unlock()
	saved, fresh, err := g.store.SaveMessage(ctx, m)
	if err != nil {
		return store.Message{}, false, err
	}
	if !fresh {
		return saved, false, nil
	}
	g.mx.RecordMessage(saved.MessageType)
	conv.publish(&wire.ClientStreamEvent{Message: &wire.LedgerMessage{
		ID:             saved.ID,
		ConversationID: saved.ConversationID,
		Direction:      saved.Direction,
		Author:         saved.Author,
		Content:        saved.Content,
		MessageType:    saved.MessageType,
		CreatedAt:      saved.CreatedAt.Unix(),
		IdempotencyKey: saved.IdempotencyKey,
	}})
	return saved, true, nil
}

// authMetadata are the four lowercase metadata names carried on every
// client/pack call (spec.md section 6).
type authMetadata struct {
	pubkey    string
	signature string
	timestamp string
	nonce     string
}

func extractCredentials(ctx context.Context) (credential.RequestCredentials, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return credential.RequestCredentials{}, swerr.New(swerr.Unauthenticated, "missing request metadata")
	}
	get := func(name string) string {
		vals := md.Get(name)
		if len(vals) == 0 {
			return ""
		}
		return vals[0]
	}
	a := authMetadata{
		pubkey:    get("x-ssh-pubkey"),
		signature: get("x-ssh-signature"),
		timestamp: get("x-ssh-timestamp"),
		nonce:     get("x-ssh-nonce"),
	}
	if a.pubkey == "" || a.signature == "" || a.timestamp == "" || a.nonce == "" {
		return credential.RequestCredentials{}, swerr.New(swerr.Unauthenticated, "incomplete credential metadata")
	}
	var ts int64
	if _, err := fmt.Sscanf(a.timestamp, "%d", &ts); err != nil {
		return credential.RequestCredentials{}, swerr.New(swerr.Unauthenticated, "malformed timestamp")
	}
	return credential.RequestCredentials{
		PublicKeyLine: a.pubkey,
		Timestamp:     ts,
		Nonce:         a.nonce,
		Signature:     credential.Signature(a.signature),
	}, nil
}

// authenticate verifies the caller's credentials and returns its enrolled
// Principal (spec.md 4.1's full verification contract).
func (g *Gateway) authenticate(ctx context.Context) (*Principal, error) {
	creds, err := extractCredentials(ctx)
	if err != nil {
		return nil, err
	}
	if err := credential.VerifyRequest(creds, g.guard, time.Now()); err != nil {
		return nil, err
	}
	pub, err := credential.ParsePublicKeyLine(creds.PublicKeyLine)
	if err != nil {
		return nil, swerr.Wrap(swerr.Unauthenticated, err)
	}
	return g.prins.EnrollOrGet(Fingerprint(pub)), nil
}
