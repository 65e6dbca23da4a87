// Package store persists conversation turns in a single relational table and
// replays them in append order.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/stupiduntilnot/cortexchat/internal/db"
	"github.com/stupiduntilnot/cortexchat/internal/model"
)

// ErrEmptyConversationID is returned when appending without a conversation id.
var ErrEmptyConversationID = errors.New("conversation id cannot be empty")

// Store is the append-only message log. It holds no message state; the only
// in-process state is the clock that keeps created_at strictly increasing.
type Store struct {
	db    *sql.DB
	table string
	clock *clock
	log   *zap.Logger

	insertSQL string
	latestSQL string
	listSQL   string
	loadSQL   string
}

// New returns a Store over an open connection. table may be schema-qualified.
func New(database *sql.DB, table string, logger *zap.Logger) (*Store, error) {
	if err := db.ValidateTable(table); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		db:        database,
		table:     table,
		clock:     &clock{now: time.Now},
		log:       logger,
		insertSQL: `INSERT INTO ` + table + ` (conversation_id, created_at, role, content) VALUES (?, ?, ?, ?)`,
		latestSQL: `SELECT MAX(created_at) FROM ` + table + ` WHERE conversation_id = ?`,
		listSQL:   `SELECT DISTINCT conversation_id FROM ` + table + ` ORDER BY conversation_id`,
		loadSQL:   `SELECT role, content FROM ` + table + ` WHERE conversation_id = ? ORDER BY created_at ASC`,
	}, nil
}

// Append writes one message. System messages are never persisted and return nil.
// created_at is placed after every row already stored for the conversation, so
// a conversation resumed by another process or host keeps its order.
func (s *Store) Append(ctx context.Context, conversationID string, role model.Role, content string) error {
	r, err := model.ParseRole(string(role))
	if err != nil {
		return err
	}
	if r == model.RoleSystem {
		return nil
	}
	if strings.TrimSpace(conversationID) == "" {
		return ErrEmptyConversationID
	}
	var latest sql.NullInt64
	if err := s.db.QueryRowContext(ctx, s.latestSQL, conversationID).Scan(&latest); err != nil {
		return fmt.Errorf("append to %s: %w", s.table, err)
	}
	if _, err := s.db.ExecContext(ctx, s.insertSQL, conversationID, s.clock.next(latest.Int64), string(r), content); err != nil {
		return fmt.Errorf("append to %s: %w", s.table, err)
	}
	return nil
}

// ConversationIDs returns the distinct conversation ids in ascending order.
// Backend failures degrade to an empty list; other errors (for example a
// cancelled context) are returned.
func (s *Store) ConversationIDs(ctx context.Context) ([]string, error) {
	ids, err := s.listConversationIDs(ctx)
	if err != nil {
		if isBackendError(err) {
			s.log.Warn("conversation list unavailable", zap.Error(err))
			return []string{}, nil
		}
		return nil, err
	}
	return ids, nil
}

func (s *Store) listConversationIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, s.listSQL)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Load returns every message of a conversation, oldest first, with roles
// lowercased. An unknown id yields an empty slice.
func (s *Store) Load(ctx context.Context, conversationID string) ([]model.Message, error) {
	rows, err := s.db.QueryContext(ctx, s.loadSQL, conversationID)
	if err != nil {
		return nil, fmt.Errorf("load %s from %s: %w", conversationID, s.table, err)
	}
	defer rows.Close()

	msgs := []model.Message{}
	for rows.Next() {
		var role, content string
		if err := rows.Scan(&role, &content); err != nil {
			return nil, fmt.Errorf("scan %s row: %w", s.table, err)
		}
		msgs = append(msgs, model.Message{Role: model.Role(strings.ToLower(role)), Content: content})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load %s from %s: %w", conversationID, s.table, err)
	}
	return msgs, nil
}

// clock hands out strictly increasing unix-nanosecond timestamps so that two
// appends in the same process never share a created_at. next never returns a
// value at or below floor.
type clock struct {
	mu   sync.Mutex
	now  func() time.Time
	last int64
}

func (c *clock) next(floor int64) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.now().UnixNano()
	if n <= c.last {
		n = c.last + 1
	}
	if n <= floor {
		n = floor + 1
	}
	c.last = n
	return n
}
