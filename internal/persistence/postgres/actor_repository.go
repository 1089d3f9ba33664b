package postgres

import (
	"context"
	"fmt"

	"github.com/doug-martin/goqu/v9"

	"github.com/rafast/vox-med-app/internal/persistence"
)

func (s *Store) CreateActor(ctx context.Context, actor persistence.Actor) error {
	query, args, err := s.dialect.Insert("actors").Rows(goqu.Record{
		"id":          actor.ID,
		"name":        actor.Name,
		"role":        actor.Role,
		"secret_hash": actor.SecretHash,
		"created_at":  actor.CreatedAt.UTC(),
	}).Prepared(true).ToSQL()
	if err != nil {
		return fmt.Errorf("postgres: build actor insert: %w", err)
	}
	if _, err := s.conn(ctx).Exec(ctx, query, args...); err != nil {
		return mapError(err)
	}
	return nil
}

func (s *Store) GetActor(ctx context.Context, id string) (persistence.Actor, error) {
	var actor persistence.Actor
	err := s.conn(ctx).QueryRow(ctx,
		`SELECT id, name, role, secret_hash, created_at FROM actors WHERE id = $1`, id,
	).Scan(&actor.ID, &actor.Name, &actor.Role, &actor.SecretHash, &actor.CreatedAt)
	if err != nil {
		return persistence.Actor{}, mapError(err)
	}
	actor.CreatedAt = actor.CreatedAt.UTC()
	return actor, nil
}
