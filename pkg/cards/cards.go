// Package cards resolves card digits observed in receipt text to a user's
// physical card.
package cards

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/danthemanmcgee/Email-Receipts/pkg/api"
)

// Resolution types reported alongside a resolved card.
const (
	ResolutionExact      = "exact"
	ResolutionPattern    = "pattern"
	ResolutionUnresolved = "unresolved"
)

// Resolver maps observed last-4 digits to physical cards through the card
// store. All lookups are scoped to a single owner: a Resolver built with
// userID 0 queries across every owner and is only safe for single-tenant
// deployments.
type Resolver struct {
	store  api.CardStore
	userID int64
	logger *slog.Logger
}

// New builds a Resolver for one owner's cards.
func New(store api.CardStore, userID int64, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		store:  store,
		userID: userID,
		logger: logger.With("component", "card_resolver"),
	}
}

// Resolve maps last4 to a physical card. Resolution order: exact alias
// match, then exact card match, then alias regex patterns searched against
// the digits. Empty input short-circuits to unresolved. An invalid alias
// pattern is skipped, not fatal.
func (r *Resolver) Resolve(ctx context.Context, last4 string) (*api.PhysicalCard, string, error) {
	if last4 == "" {
		return nil, ResolutionUnresolved, nil
	}

	aliases, err := r.store.ListAliases(ctx, r.userID)
	if err != nil {
		return nil, ResolutionUnresolved, fmt.Errorf("listing aliases: %w", err)
	}
	cards, err := r.store.ListCards(ctx, r.userID)
	if err != nil {
		return nil, ResolutionUnresolved, fmt.Errorf("listing cards: %w", err)
	}

	byID := make(map[int64]*api.PhysicalCard, len(cards))
	for i := range cards {
		byID[cards[i].ID] = &cards[i]
	}

	for _, a := range aliases {
		if a.AliasLast4 == last4 {
			if card, ok := byID[a.PhysicalCardID]; ok {
				return card, ResolutionExact, nil
			}
		}
	}

	for i := range cards {
		if cards[i].Last4 == last4 {
			return &cards[i], ResolutionExact, nil
		}
	}

	for _, a := range aliases {
		if a.AliasPattern == "" {
			continue
		}
		re, err := regexp.Compile(a.AliasPattern)
		if err != nil {
			r.logger.Warn("skipping invalid alias pattern",
				"alias_id", a.ID, "pattern", a.AliasPattern, "error", err)
			continue
		}
		if re.MatchString(last4) {
			if card, ok := byID[a.PhysicalCardID]; ok {
				return card, ResolutionPattern, nil
			}
		}
	}

	return nil, ResolutionUnresolved, nil
}
