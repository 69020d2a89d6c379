// Package store persists conversations in SQLite. Conversations are
// append-only: messages are added per turn and never edited.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/verifyr/verifyr/prompt"
)

var (
	// ErrNotFound is returned when a conversation does not exist.
	ErrNotFound = errors.New("store: conversation not found")

	// ErrAccessDenied is returned when the requester may not read a
	// conversation.
	ErrAccessDenied = errors.New("store: access denied")

	// ErrRoleOrder is returned when an appended message breaks the
	// user/assistant alternation.
	ErrRoleOrder = errors.New("store: message breaks role alternation")

	// ErrStoreFailed wraps storage I/O failures.
	ErrStoreFailed = errors.New("store: storage failure")
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// AnonymousOwner is the owner recorded for requests without an identity.
// Anonymous conversations are readable by anyone.
const AnonymousOwner = "anonymous"

// Message is one conversation turn half.
type Message struct {
	Role      string          `json:"role"`
	Content   string          `json:"content"`
	Sources   []prompt.Source `json:"sources,omitempty"`
	Model     string          `json:"model,omitempty"`
	TokensIn  int             `json:"tokens_in,omitempty"`
	TokensOut int             `json:"tokens_out,omitempty"`
	CostUSD   float64         `json:"cost_usd,omitempty"`
	CreatedAt string          `json:"created_at"`
}

// Conversation is a full conversation record. Messages are in insertion
// order and alternate roles starting with user.
type Conversation struct {
	ID         string    `json:"conversation_id"`
	OwnerID    string    `json:"owner_id"`
	OwnerEmail *string   `json:"owner_email,omitempty"`
	Language   string    `json:"language"`
	ModelID    string    `json:"model_id"`
	CreatedAt  string    `json:"created_at"`
	UpdatedAt  string    `json:"updated_at"`
	Messages   []Message `json:"messages,omitempty"`
}

// Requester identifies who is asking. A zero UserID means anonymous.
type Requester struct {
	UserID string
	Admin  bool
}

const storeSchemaSQL = `
CREATE TABLE IF NOT EXISTS conversations (
    id TEXT PRIMARY KEY,
    owner_id TEXT NOT NULL,
    owner_email TEXT,
    language TEXT NOT NULL,
    model_id TEXT NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS messages (
    id INTEGER PRIMARY KEY,
    conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
    role TEXT NOT NULL,
    content TEXT NOT NULL,
    sources JSON,
    model TEXT,
    tokens_in INTEGER DEFAULT 0,
    tokens_out INTEGER DEFAULT 0,
    cost_usd REAL DEFAULT 0,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id);
CREATE INDEX IF NOT EXISTS idx_conversations_owner ON conversations(owner_id);
`

// Store wraps the conversations database. Appends to the same conversation
// serialize on a per-conversation mutex.
type Store struct {
	db *sql.DB

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New opens (or creates) the conversation database at path.
func New(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("%w: creating db directory: %v", ErrStoreFailed, err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("%w: opening database: %v", ErrStoreFailed, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: pinging database: %v", ErrStoreFailed, err)
	}
	if _, err := db.Exec(storeSchemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: creating schema: %v", ErrStoreFailed, err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	return &Store{db: db, locks: make(map[string]*sync.Mutex)}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Create starts a new conversation and returns its ID.
func (s *Store) Create(ctx context.Context, ownerID, language, modelID string) (string, error) {
	if ownerID == "" {
		ownerID = AnonymousOwner
	}
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, owner_id, language, model_id)
		VALUES (?, ?, ?, ?)
	`, id, ownerID, language, modelID)
	if err != nil {
		return "", fmt.Errorf("%w: creating conversation: %v", ErrStoreFailed, err)
	}
	return id, nil
}

// Append adds one message to a conversation, enforcing role alternation.
func (s *Store) Append(ctx context.Context, conversationID string, msg Message) error {
	return s.appendLocked(ctx, conversationID, []Message{msg})
}

// AppendTurn adds a user message and the assistant's answer in a single
// transaction: either the whole turn lands or nothing does.
func (s *Store) AppendTurn(ctx context.Context, conversationID string, user, assistant Message) error {
	return s.appendLocked(ctx, conversationID, []Message{user, assistant})
}

func (s *Store) appendLocked(ctx context.Context, conversationID string, msgs []Message) error {
	lock := s.conversationLock(conversationID)
	lock.Lock()
	defer lock.Unlock()

	return s.inTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM conversations WHERE id = ?", conversationID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrStoreFailed, err)
		}
		if exists == 0 {
			return ErrNotFound
		}

		lastRole := ""
		err = tx.QueryRowContext(ctx, `
			SELECT role FROM messages WHERE conversation_id = ?
			ORDER BY id DESC LIMIT 1
		`, conversationID).Scan(&lastRole)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %v", ErrStoreFailed, err)
		}

		for _, msg := range msgs {
			if err := checkRole(lastRole, msg.Role); err != nil {
				return err
			}

			var sources any
			if len(msg.Sources) > 0 {
				data, err := json.Marshal(msg.Sources)
				if err != nil {
					return fmt.Errorf("%w: encoding sources: %v", ErrStoreFailed, err)
				}
				sources = string(data)
			}

			_, err = tx.ExecContext(ctx, `
				INSERT INTO messages (conversation_id, role, content, sources, model, tokens_in, tokens_out, cost_usd)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			`, conversationID, msg.Role, msg.Content, sources, nullIfEmpty(msg.Model),
				msg.TokensIn, msg.TokensOut, msg.CostUSD)
			if err != nil {
				return fmt.Errorf("%w: appending message: %v", ErrStoreFailed, err)
			}
			lastRole = msg.Role
		}

		_, err = tx.ExecContext(ctx,
			"UPDATE conversations SET updated_at = CURRENT_TIMESTAMP WHERE id = ?", conversationID)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrStoreFailed, err)
		}
		return nil
	})
}

// checkRole validates that role continues the alternation after lastRole.
func checkRole(lastRole, role string) error {
	if role != RoleUser && role != RoleAssistant {
		return fmt.Errorf("%w: unknown role %q", ErrRoleOrder, role)
	}
	switch lastRole {
	case "":
		if role != RoleUser {
			return fmt.Errorf("%w: conversation must start with a user message", ErrRoleOrder)
		}
	case role:
		return fmt.Errorf("%w: consecutive %s messages", ErrRoleOrder, role)
	}
	return nil
}

// Get returns the full conversation if the requester may read it.
func (s *Store) Get(ctx context.Context, conversationID string, req Requester) (*Conversation, error) {
	conv := &Conversation{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, owner_email, language, model_id, created_at, updated_at
		FROM conversations WHERE id = ?
	`, conversationID).Scan(&conv.ID, &conv.OwnerID, &conv.OwnerEmail,
		&conv.Language, &conv.ModelID, &conv.CreatedAt, &conv.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreFailed, err)
	}

	if !canAccess(conv.OwnerID, req) {
		return nil, ErrAccessDenied
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content, sources, model, tokens_in, tokens_out, cost_usd, created_at
		FROM messages WHERE conversation_id = ? ORDER BY id
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreFailed, err)
	}
	defer rows.Close()

	for rows.Next() {
		var m Message
		var sources, model sql.NullString
		if err := rows.Scan(&m.Role, &m.Content, &sources, &model,
			&m.TokensIn, &m.TokensOut, &m.CostUSD, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreFailed, err)
		}
		m.Model = model.String
		if sources.Valid && sources.String != "" {
			if err := json.Unmarshal([]byte(sources.String), &m.Sources); err != nil {
				return nil, fmt.Errorf("%w: decoding sources: %v", ErrStoreFailed, err)
			}
		}
		conv.Messages = append(conv.Messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreFailed, err)
	}
	return conv, nil
}

// List returns conversation metadata (no message bodies) visible to the
// requester, most recently updated first. Admins see everything; everyone
// else sees their own conversations plus anonymous ones.
func (s *Store) List(ctx context.Context, req Requester) ([]Conversation, error) {
	query := `
		SELECT id, owner_id, owner_email, language, model_id, created_at, updated_at
		FROM conversations`
	var args []any
	if !req.Admin {
		query += " WHERE owner_id = ? OR owner_id = ?"
		args = append(args, requesterOwner(req), AnonymousOwner)
	}
	query += " ORDER BY updated_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreFailed, err)
	}
	defer rows.Close()

	var convs []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.OwnerID, &c.OwnerEmail,
			&c.Language, &c.ModelID, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreFailed, err)
		}
		convs = append(convs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreFailed, err)
	}
	return convs, nil
}

// canAccess implements the read rule: owner, anonymous conversation, or
// admin.
func canAccess(ownerID string, req Requester) bool {
	if req.Admin || ownerID == AnonymousOwner {
		return true
	}
	return ownerID == requesterOwner(req)
}

func requesterOwner(req Requester) string {
	if req.UserID == "" {
		return AnonymousOwner
	}
	return req.UserID
}

// conversationLock returns the mutex serializing appends to one
// conversation.
func (s *Store) conversationLock(conversationID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[conversationID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[conversationID] = lock
	}
	return lock
}

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreFailed, err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreFailed, err)
	}
	return nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
