package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/fund-tracker/internal/models"
	"github.com/fund-tracker/internal/types"
)

// TokenRepository handles token metadata persistence. Rows are upserted
// as tokens show up in balance and transfer feeds; the CoinGecko id is
// filled in lazily by the first historical price lookup that needs it.
type TokenRepository struct {
	db *PostgresDB
}

// NewTokenRepository creates a new token repository
func NewTokenRepository(db *PostgresDB) *TokenRepository {
	return &TokenRepository{db: db}
}

// Upsert records token metadata, keeping the earliest first-seen time
// and refreshing symbol/decimals on conflict.
func (r *TokenRepository) Upsert(ctx context.Context, token *models.Token) error {
	token.Contract = types.NormalizeToken(token.Contract)
	now := time.Now().UTC()

	query := `
		INSERT INTO tokens (contract, symbol, name, decimals, coingecko_id, first_seen_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (contract) DO UPDATE SET
			symbol = EXCLUDED.symbol,
			decimals = EXCLUDED.decimals,
			updated_at = EXCLUDED.updated_at
	`

	_, err := r.db.Pool().Exec(ctx, query,
		token.Contract,
		token.Symbol,
		token.Name,
		token.Decimals,
		token.CoinGeckoID,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert token: %w", err)
	}
	return nil
}

// Get retrieves a token by contract address. Returns nil without error
// when the token is unknown.
func (r *TokenRepository) Get(ctx context.Context, contract string) (*models.Token, error) {
	query := `
		SELECT contract, symbol, name, decimals, coingecko_id, first_seen_at, updated_at
		FROM tokens
		WHERE contract = $1
	`

	var token models.Token
	err := r.db.Pool().QueryRow(ctx, query, types.NormalizeToken(contract)).Scan(
		&token.Contract,
		&token.Symbol,
		&token.Name,
		&token.Decimals,
		&token.CoinGeckoID,
		&token.FirstSeenAt,
		&token.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get token: %w", err)
	}
	return &token, nil
}

// GetCoinGeckoID returns the stored CoinGecko id for a contract. The
// second return is false when the token is unknown or the id has not
// been resolved yet.
func (r *TokenRepository) GetCoinGeckoID(ctx context.Context, contract string) (string, bool, error) {
	token, err := r.Get(ctx, contract)
	if err != nil {
		return "", false, err
	}
	if token == nil || token.CoinGeckoID == nil {
		return "", false, nil
	}
	return *token.CoinGeckoID, true, nil
}

// SetCoinGeckoID stores the resolved CoinGecko id for a token. An empty
// id is stored as NULL-equivalent empty string to mark "resolved,
// unknown to CoinGecko" and avoid re-resolving on every P&L run.
func (r *TokenRepository) SetCoinGeckoID(ctx context.Context, contract, id string) error {
	query := `
		UPDATE tokens SET coingecko_id = $2, updated_at = $3
		WHERE contract = $1
	`

	_, err := r.db.Pool().Exec(ctx, query, types.NormalizeToken(contract), id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to set coingecko id: %w", err)
	}
	return nil
}
