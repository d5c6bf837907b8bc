package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/Prateek-Gupta001/GuideMemory/types"
	"github.com/lib/pq"
)

const schema = `
CREATE TABLE IF NOT EXISTS guides (
	id                   TEXT PRIMARY KEY,
	user_id              TEXT NOT NULL,
	name                 TEXT NOT NULL,
	physical_form        TEXT NOT NULL DEFAULT '',
	distinctive_traits   TEXT NOT NULL DEFAULT '',
	personality          TEXT NOT NULL DEFAULT '',
	habitat              TEXT NOT NULL DEFAULT '',
	connection_with_user TEXT NOT NULL DEFAULT '',
	survey_answers       TEXT[] NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS messages (
	id              TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL,
	user_id         TEXT NOT NULL,
	role            TEXT NOT NULL,
	content         TEXT NOT NULL,
	created_at      BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS messages_conversation_idx ON messages (conversation_id, user_id, created_at DESC);
`

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(connStr string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		slog.Info("Got this error while trying to open a connection to the database ", "error", err)
		return nil, err
	}
	if err = db.Ping(); err != nil {
		slog.Info("Got this error while trying to ping the database ", "error", err)
		return nil, err
	}
	ps := &PostgresStore{
		db: db,
	}
	return ps, nil
}

func (p *PostgresStore) Init(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}

func (p *PostgresStore) SaveGuide(ctx context.Context, g *types.Guide) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO guides (id, user_id, name, physical_form, distinctive_traits, personality, habitat, connection_with_user, survey_answers)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			name = EXCLUDED.name,
			physical_form = EXCLUDED.physical_form,
			distinctive_traits = EXCLUDED.distinctive_traits,
			personality = EXCLUDED.personality,
			habitat = EXCLUDED.habitat,
			connection_with_user = EXCLUDED.connection_with_user,
			survey_answers = EXCLUDED.survey_answers`,
		g.Id, g.UserId, g.Name, g.PhysicalForm, g.DistinctiveTraits, g.Personality, g.Habitat, g.ConnectionWithUser,
		pq.Array(g.SurveyAnswers))
	if err != nil {
		return fmt.Errorf("saving guide %s: %w", g.Id, err)
	}
	return nil
}

func (p *PostgresStore) GetGuide(ctx context.Context, guideId string) (*types.Guide, error) {
	g := &types.Guide{}
	err := p.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, physical_form, distinctive_traits, personality, habitat, connection_with_user, survey_answers
		FROM guides WHERE id = $1`, guideId).
		Scan(&g.Id, &g.UserId, &g.Name, &g.PhysicalForm, &g.DistinctiveTraits, &g.Personality, &g.Habitat,
			&g.ConnectionWithUser, pq.Array(&g.SurveyAnswers))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("guide %s: %w", guideId, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading guide %s: %w", guideId, err)
	}
	return g, nil
}

func (p *PostgresStore) SaveMessage(ctx context.Context, msg *types.StoredMessage) error {
	prepareMessage(msg)
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, user_id, role, content, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		msg.Id, msg.ConversationId, msg.UserId, string(msg.Role), msg.Content, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("saving message: %w", err)
	}
	return nil
}

func (p *PostgresStore) ConversationOwner(ctx context.Context, conversationId string) (string, error) {
	var owner string
	err := p.db.QueryRowContext(ctx, `
		SELECT user_id FROM messages WHERE conversation_id = $1
		ORDER BY created_at ASC, id ASC
		LIMIT 1`, conversationId).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("conversation %s: %w", conversationId, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("loading owner of %s: %w", conversationId, err)
	}
	return owner, nil
}

func (p *PostgresStore) RecentMessages(ctx context.Context, userId, conversationId string, limit int) ([]types.StoredMessage, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, conversation_id, user_id, role, content, created_at
		FROM messages WHERE conversation_id = $1 AND user_id = $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3`, conversationId, userId, limit)
	if err != nil {
		return nil, fmt.Errorf("loading messages of %s: %w", conversationId, err)
	}
	defer rows.Close()
	var msgs []types.StoredMessage
	for rows.Next() {
		var m types.StoredMessage
		var role string
		if err := rows.Scan(&m.Id, &m.ConversationId, &m.UserId, &role, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Role = types.Role(role)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slices.Reverse(msgs)
	return msgs, nil
}

func (p *PostgresStore) Close() error {
	return p.db.Close()
}
