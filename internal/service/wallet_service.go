// Package service holds the application operations exposed by the admin API
// that span several stores.
package service

import (
	"context"
	"time"

	"github.com/deposit-scanner/internal/derive"
	apperrors "github.com/deposit-scanner/internal/errors"
	"github.com/deposit-scanner/internal/logging"
	"github.com/deposit-scanner/internal/models"
	"github.com/deposit-scanner/internal/storage"
	"github.com/deposit-scanner/internal/types"
)

// WalletStore persists deposit wallets
type WalletStore interface {
	Assign(ctx context.Context, userID int64, chain types.ChainID, start types.ScanCursor, derive storage.DeriveFunc) (*models.DepositWallet, bool, error)
	GetByUserChain(ctx context.Context, userID int64, chain types.ChainID) (*models.DepositWallet, error)
}

// UserLookup resolves users
type UserLookup interface {
	GetByID(ctx context.Context, id int64) (*models.User, error)
}

// HeadSource reports the latest block of a block-cursor chain
type HeadSource interface {
	BlockNumber(ctx context.Context) (uint64, error)
}

// WalletService assigns deposit wallets to users
type WalletService struct {
	wallets     WalletStore
	users       UserLookup
	deriver     derive.Deriver
	heads       map[types.ChainID]HeadSource
	enabled     map[types.ChainID]bool
	readTimeout time.Duration
}

// NewWalletService creates a wallet service for the enabled chains. Every
// enabled block-cursor chain needs an entry in heads.
func NewWalletService(
	wallets WalletStore,
	users UserLookup,
	deriver derive.Deriver,
	heads map[types.ChainID]HeadSource,
	enabled []types.ChainID,
	readTimeout time.Duration,
) *WalletService {
	if readTimeout <= 0 {
		readTimeout = 10 * time.Second
	}
	on := make(map[types.ChainID]bool, len(enabled))
	for _, c := range enabled {
		on[c] = true
	}
	return &WalletService{
		wallets:     wallets,
		users:       users,
		deriver:     deriver,
		heads:       heads,
		enabled:     on,
		readTimeout: readTimeout,
	}
}

// AssignResult is returned by AssignWallet
type AssignResult struct {
	Wallet  *models.DepositWallet `json:"wallet"`
	Created bool                  `json:"created"`
}

// AssignWallet returns the user's deposit wallet on chain, deriving a new
// one at the next free index when the user has none yet. A new BSC wallet
// is stored with the current head as its cursor; when the head cannot be
// read no wallet is created.
func (s *WalletService) AssignWallet(ctx context.Context, userID int64, chain types.ChainID) (*AssignResult, error) {
	if userID <= 0 {
		return nil, apperrors.NewInvalidParameterError("userId", "must be positive")
	}
	if !s.enabled[chain] {
		return nil, apperrors.NewUnsupportedChainError(chain, "wallet assignment")
	}
	if _, err := s.users.GetByID(ctx, userID); err != nil {
		return nil, err
	}

	existing, err := s.wallets.GetByUserChain(ctx, userID, chain)
	if err == nil {
		return &AssignResult{Wallet: existing}, nil
	}
	if !apperrors.HasCode(err, "NOT_FOUND") {
		return nil, err
	}

	start, err := s.startCursor(ctx, chain)
	if err != nil {
		return nil, err
	}

	wallet, created, err := s.wallets.Assign(ctx, userID, chain, start, func(index uint32) (string, error) {
		if index == derive.HotWalletIndex {
			return "", apperrors.NewInternalError("refusing to assign the hot wallet index", nil)
		}
		return s.deriver.DeriveAddress(chain, index)
	})
	if err != nil {
		if apperrors.HasCode(err, "CONFLICT") {
			// concurrent first request for the same user won
			wallet, err = s.wallets.GetByUserChain(ctx, userID, chain)
			if err != nil {
				return nil, err
			}
			return &AssignResult{Wallet: wallet}, nil
		}
		return nil, err
	}

	if created {
		logging.FromContext(ctx).WithFields(map[string]interface{}{
			"userId":  userID,
			"chain":   chain,
			"address": wallet.Address,
			"index":   wallet.DerivationIndex,
			"cursor":  wallet.Cursor.String(),
		}).Info("Deposit wallet assigned")
	}
	return &AssignResult{Wallet: wallet, Created: created}, nil
}

// startCursor is where scanning of a new wallet begins. Timestamp cursors
// start at zero because the explorer filters by address.
func (s *WalletService) startCursor(ctx context.Context, chain types.ChainID) (types.ScanCursor, error) {
	if chain.CursorKind() != types.CursorBlock {
		return types.TimestampCursor(0), nil
	}
	head, ok := s.heads[chain]
	if !ok {
		return types.ScanCursor{}, apperrors.NewConfigurationError("no head source for " + string(chain))
	}

	readCtx, cancel := context.WithTimeout(ctx, s.readTimeout)
	defer cancel()
	block, err := head.BlockNumber(readCtx)
	if err != nil {
		return types.ScanCursor{}, apperrors.NewProviderError(string(chain)+" rpc", err)
	}
	return types.BlockCursor(block), nil
}
