// Package derive turns the master mnemonic into per-chain deposit addresses
// and signing keys. Private keys are recomputed on demand and never stored.
package derive

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/fbsobreira/gotron-sdk/pkg/address"
	"github.com/tyler-smith/go-bip39"

	apperrors "github.com/deposit-scanner/internal/errors"
	"github.com/deposit-scanner/internal/types"
)

// HotWalletIndex is reserved on every chain for the system hot wallet
const HotWalletIndex uint32 = 0

// coinType is the BIP-44 coin type per chain
var coinType = map[types.ChainID]uint32{
	types.ChainBSC:  60,
	types.ChainTRON: 195,
}

// CredentialProvider owns the master key for the process lifetime
type CredentialProvider struct {
	master *hdkeychain.ExtendedKey
}

// NewCredentialProvider validates the mnemonic and derives the BIP-32 master
// key. An empty or invalid mnemonic is a configuration error.
func NewCredentialProvider(mnemonic, passphrase string) (*CredentialProvider, error) {
	mnemonic = strings.Join(strings.Fields(mnemonic), " ")
	if mnemonic == "" {
		return nil, apperrors.NewConfigurationError("master mnemonic is not configured")
	}
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, apperrors.NewConfigurationError("master mnemonic is invalid")
	}

	seed := bip39.NewSeed(mnemonic, passphrase)
	master, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, apperrors.NewConfigurationError(fmt.Sprintf("derive master key: %v", err))
	}
	return &CredentialProvider{master: master}, nil
}

// Path returns the derivation path for a chain and index
func Path(chain types.ChainID, index uint32) (string, error) {
	ct, ok := coinType[chain]
	if !ok {
		return "", apperrors.NewUnsupportedChainError(chain, "address derivation")
	}
	return fmt.Sprintf("m/44'/%d'/0'/0/%d", ct, index), nil
}

// DeriveKey returns the private key at m/44'/coin'/0'/0/index
func (p *CredentialProvider) DeriveKey(chain types.ChainID, index uint32) (*ecdsa.PrivateKey, error) {
	ct, ok := coinType[chain]
	if !ok {
		return nil, apperrors.NewUnsupportedChainError(chain, "key derivation")
	}

	path := []uint32{
		44 + hdkeychain.HardenedKeyStart,
		ct + hdkeychain.HardenedKeyStart,
		hdkeychain.HardenedKeyStart,
		0,
		index,
	}

	key := p.master
	for _, idx := range path {
		child, err := key.Derive(idx)
		if err != nil {
			return nil, fmt.Errorf("derive child %d: %w", idx, err)
		}
		key = child
	}

	priv, err := key.ECPrivKey()
	if err != nil {
		return nil, fmt.Errorf("extract private key: %w", err)
	}
	return crypto.ToECDSA(priv.Serialize())
}

// DeriveAddress returns the chain-native address at index. BSC addresses are
// EIP-55 checksummed hex, TRON addresses base58check.
func (p *CredentialProvider) DeriveAddress(chain types.ChainID, index uint32) (string, error) {
	key, err := p.DeriveKey(chain, index)
	if err != nil {
		return "", err
	}
	return AddressFromKey(chain, key)
}

// HotWalletKey returns the signing key of the chain hot wallet
func (p *CredentialProvider) HotWalletKey(chain types.ChainID) (*ecdsa.PrivateKey, error) {
	return p.DeriveKey(chain, HotWalletIndex)
}

// HotWalletAddress returns the hot wallet address for chain
func (p *CredentialProvider) HotWalletAddress(chain types.ChainID) (string, error) {
	return p.DeriveAddress(chain, HotWalletIndex)
}

// AddressFromKey renders the address of key in chain format
func AddressFromKey(chain types.ChainID, key *ecdsa.PrivateKey) (string, error) {
	switch chain {
	case types.ChainBSC:
		return crypto.PubkeyToAddress(key.PublicKey).Hex(), nil
	case types.ChainTRON:
		return address.PubkeyToAddress(key.PublicKey).String(), nil
	default:
		return "", apperrors.NewUnsupportedChainError(chain, "address rendering")
	}
}

// Deriver is the address derivation contract consumed by wallet assignment
type Deriver interface {
	DeriveAddress(chain types.ChainID, index uint32) (string, error)
}

// Signer is the key derivation contract consumed by sweep and rescue
type Signer interface {
	DeriveKey(chain types.ChainID, index uint32) (*ecdsa.PrivateKey, error)
	HotWalletKey(chain types.ChainID) (*ecdsa.PrivateKey, error)
}

var (
	_ Deriver = (*CredentialProvider)(nil)
	_ Signer  = (*CredentialProvider)(nil)
)
