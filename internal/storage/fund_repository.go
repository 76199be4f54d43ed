package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/fund-tracker/internal/models"
)

// FundRepository handles fund registry persistence.
type FundRepository struct {
	db *PostgresDB
}

// NewFundRepository creates a new fund repository
func NewFundRepository(db *PostgresDB) *FundRepository {
	return &FundRepository{db: db}
}

// Create inserts a new fund. A missing ID is generated; CreatedAt and
// UpdatedAt are stamped here.
func (r *FundRepository) Create(ctx context.Context, fund *models.Fund) error {
	if fund.ID == "" {
		fund.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	fund.CreatedAt = now
	fund.UpdatedAt = now

	query := `
		INSERT INTO funds (id, name, firm, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := r.db.Pool().Exec(ctx, query,
		fund.ID,
		fund.Name,
		fund.Firm,
		fund.CreatedAt,
		fund.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create fund: %w", err)
	}
	return nil
}

// GetByID retrieves a fund by ID. Returns nil without error when the
// fund does not exist.
func (r *FundRepository) GetByID(ctx context.Context, id string) (*models.Fund, error) {
	query := `
		SELECT id, name, firm, created_at, updated_at
		FROM funds
		WHERE id = $1
	`

	var fund models.Fund
	err := r.db.Pool().QueryRow(ctx, query, id).Scan(
		&fund.ID,
		&fund.Name,
		&fund.Firm,
		&fund.CreatedAt,
		&fund.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get fund: %w", err)
	}
	return &fund, nil
}

// GetByName retrieves a fund by its display name, case-insensitive.
// Returns nil without error when no fund has that name.
func (r *FundRepository) GetByName(ctx context.Context, name string) (*models.Fund, error) {
	query := `
		SELECT id, name, firm, created_at, updated_at
		FROM funds
		WHERE lower(name) = lower($1)
	`

	var fund models.Fund
	err := r.db.Pool().QueryRow(ctx, query, strings.TrimSpace(name)).Scan(
		&fund.ID,
		&fund.Name,
		&fund.Firm,
		&fund.CreatedAt,
		&fund.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get fund by name: %w", err)
	}
	return &fund, nil
}

// List returns all funds ordered by name.
func (r *FundRepository) List(ctx context.Context) ([]models.Fund, error) {
	query := `
		SELECT id, name, firm, created_at, updated_at
		FROM funds
		ORDER BY name
	`

	rows, err := r.db.Pool().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list funds: %w", err)
	}
	defer rows.Close()

	var funds []models.Fund
	for rows.Next() {
		var fund models.Fund
		if err := rows.Scan(&fund.ID, &fund.Name, &fund.Firm, &fund.CreatedAt, &fund.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan fund: %w", err)
		}
		funds = append(funds, fund)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate funds: %w", err)
	}
	return funds, nil
}
