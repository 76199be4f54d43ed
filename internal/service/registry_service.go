package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fund-tracker/internal/logging"
	"github.com/fund-tracker/internal/models"
	"github.com/fund-tracker/internal/registry"
	"github.com/fund-tracker/internal/storage"
	"github.com/fund-tracker/internal/types"
)

// Store interfaces for dependency injection

// FundStore persists funds.
type FundStore interface {
	Create(ctx context.Context, fund *models.Fund) error
	GetByID(ctx context.Context, id string) (*models.Fund, error)
	GetByName(ctx context.Context, name string) (*models.Fund, error)
	List(ctx context.Context) ([]models.Fund, error)
}

// WalletStore persists wallet registrations.
type WalletStore interface {
	Create(ctx context.Context, wallet *models.Wallet) error
	GetByAddress(ctx context.Context, address string) (*models.Wallet, error)
	ListByFund(ctx context.Context, fundID string) ([]models.Wallet, error)
	ListAll(ctx context.Context) ([]models.Wallet, error)
	Delete(ctx context.Context, fundID, address string) (bool, error)
	CountByFund(ctx context.Context) (map[string]int, error)
}

// FundCacheInvalidator drops cached fund data after registry changes.
type FundCacheInvalidator interface {
	InvalidateFund(ctx context.Context, fundID string) error
}

// RegistryService manages funds and their wallet registrations.
type RegistryService struct {
	funds   FundStore
	wallets WalletStore
	cache   FundCacheInvalidator
	logger  *logging.Logger
}

// NewRegistryService creates a registry service. The cache may be nil.
func NewRegistryService(funds FundStore, wallets WalletStore, cache FundCacheInvalidator) *RegistryService {
	return &RegistryService{
		funds:   funds,
		wallets: wallets,
		cache:   cache,
		logger:  logging.GetGlobalLogger().Component("registry"),
	}
}

// Input types

// CreateFundInput represents input for creating a fund.
type CreateFundInput struct {
	Name string `json:"name"`
	Firm string `json:"firm,omitempty"`
}

// AddWalletInput represents input for registering a wallet.
type AddWalletInput struct {
	Address string `json:"address"`
	Label   string `json:"label,omitempty"`
}

// FundView is a fund with its wallet registrations.
type FundView struct {
	models.Fund
	Wallets []models.Wallet `json:"wallets"`
}

// CreateFund creates a new fund. When no firm is given the fund name is
// run through the firm classifier.
func (s *RegistryService) CreateFund(ctx context.Context, input *CreateFundInput) (*models.Fund, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, &types.ServiceError{
			Code:    "INVALID_INPUT",
			Message: "fund name is required",
		}
	}

	existing, err := s.funds.GetByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to check fund name: %w", err)
	}
	if existing != nil {
		return nil, &types.ServiceError{
			Code:    "FUND_CONFLICT",
			Message: fmt.Sprintf("a fund named %q already exists", name),
			Details: map[string]interface{}{"fundId": existing.ID},
		}
	}

	firm := strings.TrimSpace(input.Firm)
	if firm == "" {
		firm = registry.ClassifyFirm(name)
	}

	fund := &models.Fund{
		Name: name,
		Firm: firm,
	}
	if err := s.funds.Create(ctx, fund); err != nil {
		return nil, fmt.Errorf("failed to create fund: %w", err)
	}

	s.logger.WithFields(map[string]interface{}{
		"fundId": fund.ID,
		"firm":   fund.Firm,
	}).Info("Fund created")

	return fund, nil
}

// GetFund returns one fund with its wallets.
func (s *RegistryService) GetFund(ctx context.Context, fundID string) (*FundView, error) {
	fund, err := s.requireFund(ctx, fundID)
	if err != nil {
		return nil, err
	}

	wallets, err := s.wallets.ListByFund(ctx, fundID)
	if err != nil {
		return nil, fmt.Errorf("failed to list wallets: %w", err)
	}

	return &FundView{Fund: *fund, Wallets: wallets}, nil
}

// ListFunds returns all funds.
func (s *RegistryService) ListFunds(ctx context.Context) ([]models.Fund, error) {
	funds, err := s.funds.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list funds: %w", err)
	}
	return funds, nil
}

// AddWallet registers a wallet under a fund. A wallet belongs to exactly
// one fund; registering an address that is already tracked is a
// conflict, never a reassignment.
func (s *RegistryService) AddWallet(ctx context.Context, fundID string, input *AddWalletInput) (*models.Wallet, error) {
	if err := storage.ValidateAddress(input.Address); err != nil {
		return nil, err
	}

	if _, err := s.requireFund(ctx, fundID); err != nil {
		return nil, err
	}

	address := strings.ToLower(strings.TrimSpace(input.Address))

	existing, err := s.wallets.GetByAddress(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("failed to check wallet: %w", err)
	}
	if existing != nil {
		return nil, walletConflict(existing)
	}

	wallet := &models.Wallet{
		Address: address,
		FundID:  fundID,
		Label:   strings.TrimSpace(input.Label),
		Source:  models.SourceManual,
	}
	if err := s.wallets.Create(ctx, wallet); err != nil {
		// A concurrent registration can win the race after our check
		if errors.Is(err, storage.ErrWalletExists) {
			return nil, walletConflict(&models.Wallet{Address: address})
		}
		return nil, fmt.Errorf("failed to register wallet: %w", err)
	}

	s.invalidateFund(ctx, fundID)

	s.logger.WithFields(map[string]interface{}{
		"fundId":  fundID,
		"address": address,
	}).Info("Wallet registered")

	return wallet, nil
}

// RemoveWallet removes a wallet registration from a fund.
func (s *RegistryService) RemoveWallet(ctx context.Context, fundID, address string) error {
	if _, err := s.requireFund(ctx, fundID); err != nil {
		return err
	}

	address = strings.ToLower(strings.TrimSpace(address))
	deleted, err := s.wallets.Delete(ctx, fundID, address)
	if err != nil {
		return fmt.Errorf("failed to remove wallet: %w", err)
	}
	if !deleted {
		return &types.ServiceError{
			Code:    "WALLET_NOT_FOUND",
			Message: fmt.Sprintf("wallet %s is not registered under fund %s", address, fundID),
			Details: map[string]interface{}{"address": address, "fundId": fundID},
		}
	}

	s.invalidateFund(ctx, fundID)

	return nil
}

// Labeler builds a counterparty labeler over every registered wallet.
func (s *RegistryService) Labeler(ctx context.Context) (*registry.Labeler, error) {
	wallets, err := s.wallets.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list wallets: %w", err)
	}
	funds, err := s.funds.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list funds: %w", err)
	}
	return registry.NewLabeler(wallets, funds), nil
}

func (s *RegistryService) requireFund(ctx context.Context, fundID string) (*models.Fund, error) {
	fund, err := s.funds.GetByID(ctx, fundID)
	if err != nil {
		return nil, fmt.Errorf("failed to get fund: %w", err)
	}
	if fund == nil {
		return nil, &types.ServiceError{
			Code:    "FUND_NOT_FOUND",
			Message: fmt.Sprintf("fund not found: %s", fundID),
			Details: map[string]interface{}{"fundId": fundID},
		}
	}
	return fund, nil
}

func (s *RegistryService) invalidateFund(ctx context.Context, fundID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateFund(ctx, fundID); err != nil {
		s.logger.WithError(err).Warn("Fund cache invalidation failed")
	}
}

func walletConflict(wallet *models.Wallet) *types.ServiceError {
	return &types.ServiceError{
		Code:    "WALLET_CONFLICT",
		Message: fmt.Sprintf("wallet %s is already registered", wallet.Address),
		Details: map[string]interface{}{"address": wallet.Address},
	}
}
