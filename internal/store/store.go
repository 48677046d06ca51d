// Package store is the embedded SQL-backed persistence layer (spec.md
// section 4.2). It uses modernc.org/sqlite (pure Go, no CGO) so the
// gateway binary stays trivially cross-compilable, unlike the teacher's
// mattn/go-sqlite3 which needs a C toolchain at build time.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/swarmgate/swarm/internal/swerr"
)

const schema = `
CREATE TABLE IF NOT EXISTS agents (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	backend      TEXT NOT NULL,
	working_dir  TEXT NOT NULL,
	connected    INTEGER NOT NULL DEFAULT 0,
	connected_at INTEGER,
	last_seen    INTEGER
);

CREATE TABLE IF NOT EXISTS conversations (
	id         TEXT PRIMARY KEY,
	agent_id   TEXT NOT NULL REFERENCES agents(id),
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	conversation_id  TEXT NOT NULL REFERENCES conversations(id),
	direction        TEXT NOT NULL,
	author           TEXT NOT NULL,
	content          TEXT NOT NULL,
	message_type     TEXT NOT NULL,
	created_at       INTEGER NOT NULL,
	idempotency_key  TEXT
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_conv_idem
	ON messages(conversation_id, idempotency_key)
	WHERE idempotency_key IS NOT NULL;

CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, id);

CREATE TABLE IF NOT EXISTS packs (
	id           TEXT PRIMARY KEY,
	version      TEXT NOT NULL,
	connected    INTEGER NOT NULL DEFAULT 0,
	connected_at INTEGER
);
`

// Store wraps a *sql.DB configured with WAL journaling and foreign-key
// enforcement on every connection, per spec.md section 4.2.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if absent) the SQLite file at path and applies the
// schema. path may be ":memory:" for tests.
func Open(path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", path)
	} else {
		dsn = "file::memory:?_pragma=foreign_keys(1)&cache=shared"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, swerr.Wrap(swerr.Internal, fmt.Errorf("store: open: %w", err))
	}
	// A single in-memory connection sidesteps SQLite's one-writer-at-a-time
	// model across goroutines; WAL mode gives the same property for a real
	// file without forcing the pool down to one connection.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	s := &Store{db: db, logger: slog.Default().With("component", "store")}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, swerr.Wrap(swerr.Internal, fmt.Errorf("store: apply schema: %w", err))
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// fromDB wraps an already-open *sql.DB without touching its schema or
// pragmas. Used by tests that inject a go-sqlmock connection to assert the
// exact SQL a Store method issues.
func fromDB(db *sql.DB) *Store {
	return &Store{db: db, logger: slog.Default().With("component", "store")}
}

// Agent is the persisted row shape for an agent registration.
type Agent struct {
	ID          string
	Name        string
	Backend     string
	WorkingDir  string
	Connected   bool
	ConnectedAt time.Time
	LastSeen    time.Time
}

// UpsertAgent inserts or updates an agent's static registration fields.
// Idempotent under retry (spec.md section 4.2).
func (s *Store) UpsertAgent(ctx context.Context, a Agent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agents (id, name, backend, working_dir, connected, connected_at, last_seen)
		VALUES (?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			backend = excluded.backend,
			working_dir = excluded.working_dir,
			connected = 1,
			connected_at = excluded.connected_at,
			last_seen = excluded.last_seen
	`, a.ID, a.Name, a.Backend, a.WorkingDir, nowUnix(), nowUnix())
	if err != nil {
		return swerr.Wrap(swerr.Internal, fmt.Errorf("store: upsert agent: %w", err))
	}
	return nil
}

// SetAgentConnected flips the connected flag and, when connecting,
// refreshes last_seen.
func (s *Store) SetAgentConnected(ctx context.Context, agentID string, connected bool) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE agents SET connected = ?, last_seen = ? WHERE id = ?
	`, boolToInt(connected), nowUnix(), agentID)
	if err != nil {
		return swerr.Wrap(swerr.Internal, fmt.Errorf("store: set agent connected: %w", err))
	}
	return nil
}

// ListAgents returns every known agent registration.
func (s *Store) ListAgents(ctx context.Context) ([]Agent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, backend, working_dir, connected, connected_at, last_seen FROM agents
	`)
	if err != nil {
		return nil, swerr.Wrap(swerr.Internal, fmt.Errorf("store: list agents: %w", err))
	}
	defer rows.Close()

	var out []Agent
	for rows.Next() {
		var a Agent
		var connected int
		var connectedAt, lastSeen sql.NullInt64
		if err := rows.Scan(&a.ID, &a.Name, &a.Backend, &a.WorkingDir, &connected, &connectedAt, &lastSeen); err != nil {
			return nil, swerr.Wrap(swerr.Internal, fmt.Errorf("store: scan agent: %w", err))
		}
		a.Connected = connected != 0
		if connectedAt.Valid {
			a.ConnectedAt = time.Unix(connectedAt.Int64, 0)
		}
		if lastSeen.Valid {
			a.LastSeen = time.Unix(lastSeen.Int64, 0)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// GetOrCreateConversation ensures a conversation row exists for
// conversationID, creating it against agentID if absent, and reports only
// an error (spec.md 4.2's
// get_or_create_conversation, keyed by the caller-chosen conversation key
// rather than only agent_id, to support arbitrary conversation_key values
// per spec.md section 3).
func (s *Store) GetOrCreateConversation(ctx context.Context, conversationID, agentID string) error {
	now := nowUnix()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, agent_id, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, conversationID, agentID, now, now)
	if err != nil {
		return swerr.Wrap(swerr.Internal, fmt.Errorf("store: get or create conversation: %w", err))
	}
	return nil
}

// TouchConversation bumps updated_at. Used outside the save_message
// transaction only for administrative touches.
func (s *Store) TouchConversation(ctx context.Context, conversationID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE conversations SET updated_at = ? WHERE id = ?`, nowUnix(), conversationID)
	if err != nil {
		return swerr.Wrap(swerr.Internal, fmt.Errorf("store: touch conversation: %w", err))
	}
	return nil
}

// Message is the persisted ledger entry shape (spec.md section 3).
type Message struct {
	ID             int64
	ConversationID string
	Direction      string
	Author         string
	Content        string
	MessageType    string
	CreatedAt      time.Time
	IdempotencyKey string // "" means NULL
}

// SaveMessage inserts a ledger entry and bumps conversations.updated_at in
// the same transaction (spec.md section 4.2). If idempotencyKey is set and
// a message with the same (conversation_id, idempotency_key) already
// exists, the existing message is returned unchanged and no new row is
// written — this is the storage-boundary enforcement of the idempotency
// invariant (spec.md section 3 / 9). The second return value reports
// whether a new row was actually inserted; callers that re-dispatch work
// on the side (e.g. sending to an agent) must skip that work when it's
// false, since the caller already did it the first time this key was seen.
func (s *Store) SaveMessage(ctx context.Context, m Message) (Message, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Message{}, false, swerr.Wrap(swerr.Internal, fmt.Errorf("store: begin tx: %w", err))
	}
	defer tx.Rollback()

	if m.IdempotencyKey != "" {
		existing, found, err := queryExistingByIdempotencyKey(ctx, tx, m.ConversationID, m.IdempotencyKey)
		if err != nil {
			return Message{}, false, err
		}
		if found {
			return existing, false, tx.Commit()
		}
	}

	now := nowUnix()
	var idemArg any
	if m.IdempotencyKey != "" {
		idemArg = m.IdempotencyKey
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO messages (conversation_id, direction, author, content, message_type, created_at, idempotency_key)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, m.ConversationID, m.Direction, m.Author, m.Content, m.MessageType, now, idemArg)
	if err != nil {
		return Message{}, false, swerr.Wrap(swerr.Internal, fmt.Errorf("store: insert message: %w", err))
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Message{}, false, swerr.Wrap(swerr.Internal, fmt.Errorf("store: last insert id: %w", err))
	}

	if _, err := tx.ExecContext(ctx, `UPDATE conversations SET updated_at = ? WHERE id = ?`, now, m.ConversationID); err != nil {
		return Message{}, false, swerr.Wrap(swerr.Internal, fmt.Errorf("store: touch conversation: %w", err))
	}

	if err := tx.Commit(); err != nil {
		return Message{}, false, swerr.Wrap(swerr.Internal, fmt.Errorf("store: commit: %w", err))
	}

	m.ID = id
	m.CreatedAt = time.Unix(now, 0)
	return m, true, nil
}

func queryExistingByIdempotencyKey(ctx context.Context, tx *sql.Tx, conversationID, key string) (Message, bool, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT id, conversation_id, direction, author, content, message_type, created_at, idempotency_key
		FROM messages WHERE conversation_id = ? AND idempotency_key = ?
	`, conversationID, key)

	var m Message
	var createdAt int64
	var idem sql.NullString
	err := row.Scan(&m.ID, &m.ConversationID, &m.Direction, &m.Author, &m.Content, &m.MessageType, &createdAt, &idem)
	if err == sql.ErrNoRows {
		return Message{}, false, nil
	}
	if err != nil {
		return Message{}, false, swerr.Wrap(swerr.Internal, fmt.Errorf("store: query existing message: %w", err))
	}
	m.CreatedAt = time.Unix(createdAt, 0)
	if idem.Valid {
		m.IdempotencyKey = idem.String
	}
	return m, true, nil
}

// GetMessages returns up to limit ledger entries for conversationID in id
// order, starting after sinceID (0 means from the beginning).
func (s *Store) GetMessages(ctx context.Context, conversationID string, sinceID int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, direction, author, content, message_type, created_at, idempotency_key
		FROM messages
		WHERE conversation_id = ? AND id > ?
		ORDER BY id ASC
		LIMIT ?
	`, conversationID, sinceID, limit)
	if err != nil {
		return nil, swerr.Wrap(swerr.Internal, fmt.Errorf("store: get messages: %w", err))
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		var createdAt int64
		var idem sql.NullString
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Direction, &m.Author, &m.Content, &m.MessageType, &createdAt, &idem); err != nil {
			return nil, swerr.Wrap(swerr.Internal, fmt.Errorf("store: scan message: %w", err))
		}
		m.CreatedAt = time.Unix(createdAt, 0)
		if idem.Valid {
			m.IdempotencyKey = idem.String
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Pack is the persisted row shape for a pack registration.
type Pack struct {
	ID          string
	Version     string
	Connected   bool
	ConnectedAt time.Time
}

// UpsertPack inserts or updates a pack's version and marks it connected.
func (s *Store) UpsertPack(ctx context.Context, p Pack) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO packs (id, version, connected, connected_at)
		VALUES (?, ?, 1, ?)
		ON CONFLICT(id) DO UPDATE SET
			version = excluded.version,
			connected = 1,
			connected_at = excluded.connected_at
	`, p.ID, p.Version, nowUnix())
	if err != nil {
		return swerr.Wrap(swerr.Internal, fmt.Errorf("store: upsert pack: %w", err))
	}
	return nil
}

// SetPackConnected flips a pack's connected flag.
func (s *Store) SetPackConnected(ctx context.Context, packID string, connected bool) error {
	_, err := s.db.ExecContext(ctx, `UPDATE packs SET connected = ? WHERE id = ?`, boolToInt(connected), packID)
	if err != nil {
		return swerr.Wrap(swerr.Internal, fmt.Errorf("store: set pack connected: %w", err))
	}
	return nil
}

func nowUnix() int64 { return time.Now().Unix() }

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
