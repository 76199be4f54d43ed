package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fund-tracker/internal/types"
)

// TransferArchive is the insert-only ClickHouse store of observed
// transfer events. The P&L estimator reads inbound history from here
// instead of re-fetching it from Etherscan; the worker tops it up on
// its refresh cadence. ReplacingMergeTree keyed by (wallet, tx, log
// index) makes re-archiving the same page idempotent.
type TransferArchive struct {
	db *ClickHouseDB
}

// NewTransferArchive creates a new transfer archive
func NewTransferArchive(db *ClickHouseDB) *TransferArchive {
	return &TransferArchive{db: db}
}

// EnsureSchema creates the archive table when it does not exist.
func (a *TransferArchive) EnsureSchema(ctx context.Context) error {
	ddl := `
		CREATE TABLE IF NOT EXISTS transfer_events (
			wallet_address String,
			token String,
			symbol String,
			decimals Int32,
			raw_value String,
			quantity String,
			direction Enum8('in' = 1, 'out' = 2),
			event_time DateTime,
			counterparty String,
			tx_hash String,
			log_index UInt64,
			archived_at DateTime DEFAULT now()
		)
		ENGINE = ReplacingMergeTree(archived_at)
		ORDER BY (wallet_address, token, tx_hash, log_index)
	`

	if err := a.db.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create transfer_events table: %w", err)
	}
	return nil
}

// Insert archives a batch of transfer events.
func (a *TransferArchive) Insert(ctx context.Context, events []types.TransferEvent) error {
	if len(events) == 0 {
		return nil
	}

	batch, err := a.db.Conn().PrepareBatch(ctx, `
		INSERT INTO transfer_events (
			wallet_address, token, symbol, decimals, raw_value, quantity,
			direction, event_time, counterparty, tx_hash, log_index
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	for _, event := range events {
		err := batch.Append(
			event.WalletAddress,
			event.Token,
			event.Symbol,
			int32(event.Decimals),
			event.RawValue,
			event.Quantity.String(),
			string(event.Direction),
			time.Unix(event.Timestamp, 0).UTC(),
			event.Counterparty,
			event.TxHash,
			event.LogIndex,
		)
		if err != nil {
			return fmt.Errorf("failed to append event: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}
	return nil
}

// InboundHistory returns all archived inbound transfers of one token
// across the given wallets, oldest first. This is the P&L estimator's
// acquisition walk input.
func (a *TransferArchive) InboundHistory(ctx context.Context, wallets []string, token string) ([]types.TransferEvent, error) {
	if len(wallets) == 0 {
		return nil, nil
	}

	query := `
		SELECT wallet_address, token, symbol, decimals, raw_value, quantity,
		       direction, event_time, counterparty, tx_hash, log_index
		FROM transfer_events FINAL
		WHERE wallet_address IN (?) AND token = ? AND direction = 'in'
		ORDER BY event_time ASC, log_index ASC
	`

	return a.queryEvents(ctx, query, wallets, types.NormalizeToken(token))
}

// RecentByWallets returns the most recent archived transfers across the
// given wallets, newest first, capped at limit. The activity feed falls
// back to it when a wallet's live fetch fails.
func (a *TransferArchive) RecentByWallets(ctx context.Context, wallets []string, limit int) ([]types.TransferEvent, error) {
	if len(wallets) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT wallet_address, token, symbol, decimals, raw_value, quantity,
		       direction, event_time, counterparty, tx_hash, log_index
		FROM transfer_events FINAL
		WHERE wallet_address IN (?)
		ORDER BY event_time DESC, log_index DESC
		LIMIT ?
	`

	return a.queryEvents(ctx, query, wallets, limit)
}

// LatestEventTime returns the newest archived event time for a wallet,
// or the zero time when the wallet has no archived events. The worker
// uses it as its top-up watermark so already-archived events are not
// re-inserted.
func (a *TransferArchive) LatestEventTime(ctx context.Context, wallet string) (time.Time, error) {
	query := `
		SELECT max(event_time)
		FROM transfer_events
		WHERE wallet_address = ?
	`

	var latest time.Time
	row := a.db.Conn().QueryRow(ctx, query, types.NormalizeToken(wallet))
	if err := row.Scan(&latest); err != nil {
		return time.Time{}, fmt.Errorf("failed to get latest event time: %w", err)
	}
	return latest, nil
}

func (a *TransferArchive) queryEvents(ctx context.Context, query string, args ...interface{}) ([]types.TransferEvent, error) {
	rows, err := a.db.Conn().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transfer events: %w", err)
	}
	defer rows.Close()

	var events []types.TransferEvent
	for rows.Next() {
		var (
			event     types.TransferEvent
			decimals  int32
			quantity  string
			direction string
			eventTime time.Time
		)
		err := rows.Scan(
			&event.WalletAddress,
			&event.Token,
			&event.Symbol,
			&decimals,
			&event.RawValue,
			&quantity,
			&direction,
			&eventTime,
			&event.Counterparty,
			&event.TxHash,
			&event.LogIndex,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transfer event: %w", err)
		}

		event.Decimals = int(decimals)
		event.Direction = types.TransferDirection(direction)
		event.Timestamp = eventTime.Unix()

		event.Quantity, err = decimal.NewFromString(quantity)
		if err != nil {
			return nil, fmt.Errorf("failed to parse archived quantity %q: %w", quantity, err)
		}

		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transfer events: %w", err)
	}
	return events, nil
}
