package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/chatrelay/pkg/pg"
)

// Store defines chat persistence: conversations, messages, provider keys,
// and relayed file records.
type Store interface {
	CreateConversation(ctx context.Context, conv *Conversation) error
	// FindConversation scopes by owner. Returns ErrConversationNotFound for
	// both missing and foreign conversations so ownership never leaks.
	FindConversation(ctx context.Context, userID, convID uuid.UUID) (*Conversation, error)
	ListConversations(ctx context.Context, userID uuid.UUID) ([]Conversation, error)
	DeleteConversation(ctx context.Context, userID, convID uuid.UUID) error
	TouchConversation(ctx context.Context, convID uuid.UUID) error

	AppendMessage(ctx context.Context, msg *Message) error
	ListMessages(ctx context.Context, convID uuid.UUID) ([]Message, error)

	// UpsertProviderKey stores a user's API key for a vendor, replacing any
	// previous key (one key per user per vendor).
	UpsertProviderKey(ctx context.Context, key *ProviderKey) error
	FindProviderKey(ctx context.Context, userID uuid.UUID, provider ProviderID) (*ProviderKey, error)
	DeleteProviderKey(ctx context.Context, userID uuid.UUID, provider ProviderID) error

	CreateFile(ctx context.Context, f *StoredFile) error
	FindFile(ctx context.Context, userID, fileID uuid.UUID) (*StoredFile, error)
	DeleteFile(ctx context.Context, userID, fileID uuid.UUID) error
}

// PgStore implements Store on Postgres via pgx.
type PgStore struct {
	db *pgxpool.Pool
}

// NewPgStore wraps a connected pool.
func NewPgStore(db *pgxpool.Pool) *PgStore {
	return &PgStore{db: db}
}

func (s *PgStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO conversations (id, user_id, title, provider, model, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		conv.ID, conv.UserID, conv.Title, string(conv.Provider), conv.Model, conv.CreatedAt, conv.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create conversation: %w", err)
	}
	return nil
}

func (s *PgStore) FindConversation(ctx context.Context, userID, convID uuid.UUID) (*Conversation, error) {
	var conv Conversation
	var provider string
	err := s.db.QueryRow(ctx,
		`SELECT id, user_id, title, provider, model, created_at, updated_at
		 FROM conversations WHERE id = $1 AND user_id = $2`, convID, userID,
	).Scan(&conv.ID, &conv.UserID, &conv.Title, &provider, &conv.Model, &conv.CreatedAt, &conv.UpdatedAt)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("find conversation: %w", err)
	}
	conv.Provider = ProviderID(provider)
	return &conv, nil
}

func (s *PgStore) ListConversations(ctx context.Context, userID uuid.UUID) ([]Conversation, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, user_id, title, provider, model, created_at, updated_at
		 FROM conversations WHERE user_id = $1 ORDER BY updated_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		var conv Conversation
		var provider string
		if err := rows.Scan(&conv.ID, &conv.UserID, &conv.Title, &provider, &conv.Model, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		conv.Provider = ProviderID(provider)
		out = append(out, conv)
	}
	return out, rows.Err()
}

func (s *PgStore) DeleteConversation(ctx context.Context, userID, convID uuid.UUID) error {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM conversations WHERE id = $1 AND user_id = $2`, convID, userID)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConversationNotFound
	}
	return nil
}

func (s *PgStore) TouchConversation(ctx context.Context, convID uuid.UUID) error {
	_, err := s.db.Exec(ctx,
		`UPDATE conversations SET updated_at = $1 WHERE id = $2`, time.Now().UTC(), convID)
	if err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	return nil
}

func (s *PgStore) AppendMessage(ctx context.Context, msg *Message) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO messages (id, conversation_id, role, content, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		msg.ID, msg.ConversationID, msg.Role, msg.Content, msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

func (s *PgStore) ListMessages(ctx context.Context, convID uuid.UUID) ([]Message, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, conversation_id, role, content, created_at
		 FROM messages WHERE conversation_id = $1 ORDER BY created_at ASC`, convID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Message, error) {
		var msg Message
		err := row.Scan(&msg.ID, &msg.ConversationID, &msg.Role, &msg.Content, &msg.CreatedAt)
		return msg, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan messages: %w", err)
	}
	return out, nil
}

func (s *PgStore) UpsertProviderKey(ctx context.Context, key *ProviderKey) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO provider_keys (user_id, provider, api_key, updated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id, provider) DO UPDATE
		 SET api_key = EXCLUDED.api_key, updated_at = EXCLUDED.updated_at`,
		key.UserID, string(key.Provider), key.APIKey, key.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert provider key: %w", err)
	}
	return nil
}

func (s *PgStore) FindProviderKey(ctx context.Context, userID uuid.UUID, provider ProviderID) (*ProviderKey, error) {
	var key ProviderKey
	var p string
	err := s.db.QueryRow(ctx,
		`SELECT user_id, provider, api_key, updated_at
		 FROM provider_keys WHERE user_id = $1 AND provider = $2`, userID, string(provider),
	).Scan(&key.UserID, &p, &key.APIKey, &key.UpdatedAt)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, ErrNoAPIKey
		}
		return nil, fmt.Errorf("find provider key: %w", err)
	}
	key.Provider = ProviderID(p)
	return &key, nil
}

func (s *PgStore) DeleteProviderKey(ctx context.Context, userID uuid.UUID, provider ProviderID) error {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM provider_keys WHERE user_id = $1 AND provider = $2`, userID, string(provider))
	if err != nil {
		return fmt.Errorf("delete provider key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNoAPIKey
	}
	return nil
}

func (s *PgStore) CreateFile(ctx context.Context, f *StoredFile) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO relayed_files (id, user_id, provider, provider_file_id, name, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		f.ID, f.UserID, string(f.Provider), f.ProviderFileID, f.Name, f.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create file record: %w", err)
	}
	return nil
}

func (s *PgStore) FindFile(ctx context.Context, userID, fileID uuid.UUID) (*StoredFile, error) {
	var f StoredFile
	var provider string
	err := s.db.QueryRow(ctx,
		`SELECT id, user_id, provider, provider_file_id, name, created_at
		 FROM relayed_files WHERE id = $1 AND user_id = $2`, fileID, userID,
	).Scan(&f.ID, &f.UserID, &provider, &f.ProviderFileID, &f.Name, &f.CreatedAt)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, ErrFileNotFound
		}
		return nil, fmt.Errorf("find file record: %w", err)
	}
	f.Provider = ProviderID(provider)
	return &f, nil
}

func (s *PgStore) DeleteFile(ctx context.Context, userID, fileID uuid.UUID) error {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM relayed_files WHERE id = $1 AND user_id = $2`, fileID, userID)
	if err != nil {
		return fmt.Errorf("delete file record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrFileNotFound
	}
	return nil
}
