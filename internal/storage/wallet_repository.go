package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/fund-tracker/internal/models"
	"github.com/fund-tracker/internal/types"
)

// ErrWalletExists is returned when registering an address that already
// belongs to a fund. A wallet belongs to exactly one fund; the unique
// index on wallets.address enforces it and this error surfaces it.
var ErrWalletExists = errors.New("wallet already registered")

// WalletRepository handles wallet registry persistence.
type WalletRepository struct {
	db *PostgresDB
}

// NewWalletRepository creates a new wallet repository
func NewWalletRepository(db *PostgresDB) *WalletRepository {
	return &WalletRepository{db: db}
}

// ValidateAddress checks that an address is well-formed hex before it
// reaches the database.
func ValidateAddress(address string) error {
	if !common.IsHexAddress(address) {
		return &types.ServiceError{
			Code:    "INVALID_ADDRESS_FORMAT",
			Message: fmt.Sprintf("invalid address format: %s (must be 0x followed by 40 hexadecimal characters)", address),
			Details: map[string]any{
				"address": address,
			},
		}
	}
	return nil
}

// Create registers a wallet for a fund. The address is stored lowercase
// and must not already be registered to any fund.
func (r *WalletRepository) Create(ctx context.Context, wallet *models.Wallet) error {
	if err := ValidateAddress(wallet.Address); err != nil {
		return err
	}
	wallet.Address = strings.ToLower(wallet.Address)
	if wallet.Source == "" {
		wallet.Source = models.SourceManual
	}
	wallet.AddedAt = time.Now().UTC()

	query := `
		INSERT INTO wallets (address, fund_id, label, source, added_at, archived_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.db.Pool().Exec(ctx, query,
		wallet.Address,
		wallet.FundID,
		wallet.Label,
		wallet.Source,
		wallet.AddedAt,
		wallet.ArchivedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrWalletExists
		}
		return fmt.Errorf("failed to create wallet: %w", err)
	}
	return nil
}

// GetByAddress retrieves a wallet by address. Returns nil without error
// when the address is not registered.
func (r *WalletRepository) GetByAddress(ctx context.Context, address string) (*models.Wallet, error) {
	if err := ValidateAddress(address); err != nil {
		return nil, err
	}
	address = strings.ToLower(address)

	query := `
		SELECT address, fund_id, label, source, added_at, archived_at
		FROM wallets
		WHERE address = $1
	`

	var wallet models.Wallet
	err := r.db.Pool().QueryRow(ctx, query, address).Scan(
		&wallet.Address,
		&wallet.FundID,
		&wallet.Label,
		&wallet.Source,
		&wallet.AddedAt,
		&wallet.ArchivedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}
	return &wallet, nil
}

// ListByFund returns all wallets of one fund ordered by address.
func (r *WalletRepository) ListByFund(ctx context.Context, fundID string) ([]models.Wallet, error) {
	query := `
		SELECT address, fund_id, label, source, added_at, archived_at
		FROM wallets
		WHERE fund_id = $1
		ORDER BY address
	`

	return r.queryWallets(ctx, query, fundID)
}

// ListAll returns every registered wallet ordered by address.
func (r *WalletRepository) ListAll(ctx context.Context) ([]models.Wallet, error) {
	query := `
		SELECT address, fund_id, label, source, added_at, archived_at
		FROM wallets
		ORDER BY address
	`

	return r.queryWallets(ctx, query)
}

// ListStalest returns wallets ordered by archive staleness: never
// archived first, then oldest archive timestamp. Used by the worker to
// decide which wallets to top up next.
func (r *WalletRepository) ListStalest(ctx context.Context, limit int) ([]models.Wallet, error) {
	query := `
		SELECT address, fund_id, label, source, added_at, archived_at
		FROM wallets
		ORDER BY archived_at ASC NULLS FIRST, added_at ASC
		LIMIT $1
	`

	return r.queryWallets(ctx, query, limit)
}

// Delete removes a wallet from a fund. Returns NotFound semantics via
// pgx rows affected.
func (r *WalletRepository) Delete(ctx context.Context, fundID, address string) (bool, error) {
	if err := ValidateAddress(address); err != nil {
		return false, err
	}
	address = strings.ToLower(address)

	query := `DELETE FROM wallets WHERE fund_id = $1 AND address = $2`

	tag, err := r.db.Pool().Exec(ctx, query, fundID, address)
	if err != nil {
		return false, fmt.Errorf("failed to delete wallet: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// CountByFund returns wallet counts keyed by fund ID.
func (r *WalletRepository) CountByFund(ctx context.Context) (map[string]int, error) {
	query := `SELECT fund_id, count(*) FROM wallets GROUP BY fund_id`

	rows, err := r.db.Pool().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to count wallets: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var fundID string
		var count int
		if err := rows.Scan(&fundID, &count); err != nil {
			return nil, fmt.Errorf("failed to scan wallet count: %w", err)
		}
		counts[fundID] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate wallet counts: %w", err)
	}
	return counts, nil
}

// MarkArchived stamps the wallet's last archive top-up time.
func (r *WalletRepository) MarkArchived(ctx context.Context, address string, at time.Time) error {
	query := `UPDATE wallets SET archived_at = $2 WHERE address = $1`

	_, err := r.db.Pool().Exec(ctx, query, strings.ToLower(address), at.UTC())
	if err != nil {
		return fmt.Errorf("failed to mark wallet archived: %w", err)
	}
	return nil
}

func (r *WalletRepository) queryWallets(ctx context.Context, query string, args ...interface{}) ([]models.Wallet, error) {
	rows, err := r.db.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query wallets: %w", err)
	}
	defer rows.Close()

	var wallets []models.Wallet
	for rows.Next() {
		var wallet models.Wallet
		err := rows.Scan(
			&wallet.Address,
			&wallet.FundID,
			&wallet.Label,
			&wallet.Source,
			&wallet.AddedAt,
			&wallet.ArchivedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan wallet: %w", err)
		}
		wallets = append(wallets, wallet)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate wallets: %w", err)
	}
	return wallets, nil
}
