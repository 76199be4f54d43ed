package service

import (
	"context"
	"errors"
	"testing"

	"github.com/fund-tracker/internal/models"
	"github.com/fund-tracker/internal/types"
)

func serviceErrCode(t *testing.T, err error) string {
	t.Helper()
	var svcErr *types.ServiceError
	if !errors.As(err, &svcErr) {
		t.Fatalf("expected ServiceError, got %v", err)
	}
	return svcErr.Code
}

func TestCreateFundClassifiesFirm(t *testing.T) {
	svc := NewRegistryService(newMockFundStore(), newMockWalletStore(), nil)

	fund, err := svc.CreateFund(context.Background(), &CreateFundInput{Name: "Paradigm One"})
	if err != nil {
		t.Fatalf("CreateFund: %v", err)
	}
	if fund.Firm != "Paradigm" {
		t.Errorf("firm = %q, want Paradigm", fund.Firm)
	}
	if fund.ID == "" {
		t.Error("fund id not assigned")
	}
}

func TestCreateFundExplicitFirmWins(t *testing.T) {
	svc := NewRegistryService(newMockFundStore(), newMockWalletStore(), nil)

	fund, err := svc.CreateFund(context.Background(), &CreateFundInput{Name: "Paradigm One", Firm: "Custom Firm"})
	if err != nil {
		t.Fatalf("CreateFund: %v", err)
	}
	if fund.Firm != "Custom Firm" {
		t.Errorf("firm = %q, want Custom Firm", fund.Firm)
	}
}

func TestCreateFundValidation(t *testing.T) {
	svc := NewRegistryService(newMockFundStore(), newMockWalletStore(), nil)

	_, err := svc.CreateFund(context.Background(), &CreateFundInput{Name: "   "})
	if code := serviceErrCode(t, err); code != "INVALID_INPUT" {
		t.Errorf("code = %q, want INVALID_INPUT", code)
	}
}

func TestCreateFundDuplicateName(t *testing.T) {
	funds := newMockFundStore(testFund())
	svc := NewRegistryService(funds, newMockWalletStore(), nil)

	_, err := svc.CreateFund(context.Background(), &CreateFundInput{Name: "Test Capital"})
	if code := serviceErrCode(t, err); code != "FUND_CONFLICT" {
		t.Errorf("code = %q, want FUND_CONFLICT", code)
	}
}

func TestAddWalletValidatesAddress(t *testing.T) {
	svc := NewRegistryService(newMockFundStore(testFund()), newMockWalletStore(), nil)

	_, err := svc.AddWallet(context.Background(), testFundID, &AddWalletInput{Address: "not-an-address"})
	if code := serviceErrCode(t, err); code != "INVALID_ADDRESS_FORMAT" {
		t.Errorf("code = %q, want INVALID_ADDRESS_FORMAT", code)
	}
}

func TestAddWalletUnknownFund(t *testing.T) {
	svc := NewRegistryService(newMockFundStore(), newMockWalletStore(), nil)

	_, err := svc.AddWallet(context.Background(), "missing", &AddWalletInput{Address: walletOne})
	if code := serviceErrCode(t, err); code != "FUND_NOT_FOUND" {
		t.Errorf("code = %q, want FUND_NOT_FOUND", code)
	}
}

func TestAddWalletLowercasesAddress(t *testing.T) {
	wallets := newMockWalletStore()
	svc := NewRegistryService(newMockFundStore(testFund()), wallets, nil)

	mixed := "0x1111111111111111111111111111111111111111"
	wallet, err := svc.AddWallet(context.Background(), testFundID, &AddWalletInput{
		Address: "0x1111111111111111111111111111111111111111",
		Label:   " Ops Wallet ",
	})
	if err != nil {
		t.Fatalf("AddWallet: %v", err)
	}
	if wallet.Address != mixed {
		t.Errorf("address = %q, want %q", wallet.Address, mixed)
	}
	if wallet.Label != "Ops Wallet" {
		t.Errorf("label = %q, want trimmed", wallet.Label)
	}
	if wallet.Source != models.SourceManual {
		t.Errorf("source = %q, want manual", wallet.Source)
	}
}

func TestAddWalletNeverReassigns(t *testing.T) {
	wallets := newMockWalletStore(&models.Wallet{Address: walletOne, FundID: "fund-2"})
	funds := newMockFundStore(testFund(), &models.Fund{ID: "fund-2", Name: "Rival"})
	svc := NewRegistryService(funds, wallets, nil)

	_, err := svc.AddWallet(context.Background(), testFundID, &AddWalletInput{Address: walletOne})
	if code := serviceErrCode(t, err); code != "WALLET_CONFLICT" {
		t.Errorf("code = %q, want WALLET_CONFLICT", code)
	}

	// Ownership is unchanged
	existing, _ := wallets.GetByAddress(context.Background(), walletOne)
	if existing.FundID != "fund-2" {
		t.Errorf("wallet was reassigned to %q", existing.FundID)
	}
}

func TestRemoveWallet(t *testing.T) {
	wallets := newMockWalletStore(&models.Wallet{Address: walletOne, FundID: testFundID})
	svc := NewRegistryService(newMockFundStore(testFund()), wallets, nil)

	if err := svc.RemoveWallet(context.Background(), testFundID, walletOne); err != nil {
		t.Fatalf("RemoveWallet: %v", err)
	}

	gone, _ := wallets.GetByAddress(context.Background(), walletOne)
	if gone != nil {
		t.Error("wallet still registered after removal")
	}
}

func TestRemoveWalletNotRegistered(t *testing.T) {
	svc := NewRegistryService(newMockFundStore(testFund()), newMockWalletStore(), nil)

	err := svc.RemoveWallet(context.Background(), testFundID, walletOne)
	if code := serviceErrCode(t, err); code != "WALLET_NOT_FOUND" {
		t.Errorf("code = %q, want WALLET_NOT_FOUND", code)
	}
}

func TestGetFundWithWallets(t *testing.T) {
	wallets := newMockWalletStore(
		&models.Wallet{Address: walletOne, FundID: testFundID},
		&models.Wallet{Address: walletTwo, FundID: "other"},
	)
	svc := NewRegistryService(newMockFundStore(testFund()), wallets, nil)

	view, err := svc.GetFund(context.Background(), testFundID)
	if err != nil {
		t.Fatalf("GetFund: %v", err)
	}
	if view.Name != "Test Capital" {
		t.Errorf("name = %q", view.Name)
	}
	if len(view.Wallets) != 1 {
		t.Errorf("expected 1 wallet, got %d", len(view.Wallets))
	}
}
