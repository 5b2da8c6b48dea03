package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/danthemanmcgee/Email-Receipts/pkg/api"
)

// ListCards returns the user's cards ordered by display name.
func (s *Store) ListCards(ctx context.Context, userID int64) ([]api.PhysicalCard, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, display_name, last4, network, created_at
		 FROM physical_cards
		 WHERE user_id = $1
		 ORDER BY display_name, id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing cards: %w", err)
	}
	defer rows.Close()

	var out []api.PhysicalCard
	for rows.Next() {
		var c api.PhysicalCard
		if err := rows.Scan(&c.ID, &c.UserID, &c.DisplayName, &c.Last4, &c.Network, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning card: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating cards: %w", err)
	}
	return out, nil
}

// ListAliases returns every alias attached to the user's cards.
func (s *Store) ListAliases(ctx context.Context, userID int64) ([]api.CardAlias, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT a.id, a.physical_card_id, a.alias_last4, a.alias_pattern, a.notes, a.created_at
		 FROM card_aliases a
		 JOIN physical_cards c ON c.id = a.physical_card_id
		 WHERE c.user_id = $1
		 ORDER BY a.id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing card aliases: %w", err)
	}
	defer rows.Close()

	var out []api.CardAlias
	for rows.Next() {
		var a api.CardAlias
		if err := rows.Scan(&a.ID, &a.PhysicalCardID, &a.AliasLast4, &a.AliasPattern, &a.Notes, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning card alias: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating card aliases: %w", err)
	}
	return out, nil
}

// GetCard returns one of the user's cards, or nil when absent.
func (s *Store) GetCard(ctx context.Context, cardID, userID int64) (*api.PhysicalCard, error) {
	var c api.PhysicalCard
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, display_name, last4, network, created_at
		 FROM physical_cards
		 WHERE id = $1 AND user_id = $2`,
		cardID, userID,
	).Scan(&c.ID, &c.UserID, &c.DisplayName, &c.Last4, &c.Network, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying card %d: %w", cardID, err)
	}
	return &c, nil
}
