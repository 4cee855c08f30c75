package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"cardsmith/internal/domain"
)

// CardRepositoryPG persists shared cards in PostgreSQL, keyed by the slug
// minted for the share URL.
type CardRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewCardRepository creates a new card repository backed by PostgreSQL.
func NewCardRepository(pool *pgxpool.Pool) *CardRepositoryPG {
	return &CardRepositoryPG{pool: pool}
}

// Insert stores a shared card under its slug.
func (r *CardRepositoryPG) Insert(ctx context.Context, slug string, card *domain.Card) error {
	var promptsJSON []byte
	if card.GeneratedPrompts != nil {
		var err error
		promptsJSON, err = json.Marshal(card.GeneratedPrompts)
		if err != nil {
			return fmt.Errorf("marshal generated prompts: %w", err)
		}
	}
	query := `
INSERT INTO cards (id, slug, prompt, front_cover_url, back_cover_url, left_interior_url, right_interior_url, generated_prompts_json, share_url, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW());
`
	_, err := r.pool.Exec(ctx, query,
		card.ID,
		slug,
		card.Prompt,
		card.FrontCoverURL,
		card.BackCoverURL,
		card.LeftInteriorURL,
		card.RightInteriorURL,
		nullableBytes(promptsJSON),
		card.ShareURL,
	)
	return err
}

// GetBySlug fetches a shared card by its slug.
func (r *CardRepositoryPG) GetBySlug(ctx context.Context, slug string) (*domain.Card, error) {
	query := `
SELECT id, prompt, front_cover_url, back_cover_url, left_interior_url, right_interior_url, generated_prompts_json, share_url, created_at
FROM cards
WHERE slug = $1;
`
	row := r.pool.QueryRow(ctx, query, slug)
	var (
		card        domain.Card
		promptsJSON []byte
	)
	if err := row.Scan(
		&card.ID,
		&card.Prompt,
		&card.FrontCoverURL,
		&card.BackCoverURL,
		&card.LeftInteriorURL,
		&card.RightInteriorURL,
		&promptsJSON,
		&card.ShareURL,
		&card.CreatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	if len(promptsJSON) > 0 {
		var prompts domain.SectionPrompts
		if err := json.Unmarshal(promptsJSON, &prompts); err != nil {
			return nil, fmt.Errorf("decode generated prompts: %w", err)
		}
		card.GeneratedPrompts = &prompts
	}
	return &card, nil
}
