package contract

import "context"

// ContractRepository defines the interface for contract persistence operations
type ContractRepository interface {
	FindByID(ctx context.Context, contractID string) (*Contract, error)
	FindActiveContracts(ctx context.Context, playerID int) ([]*Contract, error)
	Add(ctx context.Context, contract *Contract) error
}

// PurchaseHistoryRepository remembers where contract goods were bought, so
// future workflows can try proven markets first.
type PurchaseHistoryRepository interface {
	Add(ctx context.Context, history *PurchaseHistory) error
	FindRecentMarkets(ctx context.Context, playerID int, systemSymbol string, limit, sinceDays int) ([]string, error)
}

