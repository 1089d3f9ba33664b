package sqlite

import (
	"context"

	"github.com/rafast/vox-med-app/internal/persistence"
)

func (s *Store) CreateActor(ctx context.Context, actor persistence.Actor) error {
	_, err := s.conn(ctx).ExecContext(ctx,
		`INSERT INTO actors (id, name, role, secret_hash, created_at) VALUES (?, ?, ?, ?, ?)`,
		actor.ID, actor.Name, actor.Role, actor.SecretHash, formatAudit(actor.CreatedAt),
	)
	return mapError(err)
}

func (s *Store) GetActor(ctx context.Context, id string) (persistence.Actor, error) {
	var (
		actor     persistence.Actor
		createdAt string
	)
	err := s.conn(ctx).QueryRowContext(ctx,
		`SELECT id, name, role, secret_hash, created_at FROM actors WHERE id = ?`, id,
	).Scan(&actor.ID, &actor.Name, &actor.Role, &actor.SecretHash, &createdAt)
	if err != nil {
		return persistence.Actor{}, mapError(err)
	}
	if actor.CreatedAt, err = parseAudit(createdAt); err != nil {
		return persistence.Actor{}, err
	}
	return actor, nil
}
