package sweep

import (
	"context"
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/fbsobreira/gotron-sdk/pkg/proto/api"
	"github.com/shopspring/decimal"
	"google.golang.org/protobuf/proto"

	"github.com/deposit-scanner/internal/adapter"
	apperrors "github.com/deposit-scanner/internal/errors"
	"github.com/deposit-scanner/internal/gas"
	"github.com/deposit-scanner/internal/types"
)

// transfer is one signed outbound movement
type transfer struct {
	Key      *ecdsa.PrivateKey
	From     string
	To       string
	Currency types.Currency
	Amount   decimal.Decimal
	Estimate *gas.Estimate
}

// sent identifies a broadcast transaction
type sent struct {
	Hash  string
	Nonce *uint64
}

// chainSender signs and broadcasts exactly once. Errors carry no hash; a
// broadcast timeout means the outcome is unknown and must not be retried
// automatically.
type chainSender interface {
	Send(ctx context.Context, t transfer) (*sent, error)
}

type bscSender struct {
	node             adapter.BSCNode
	contracts        map[types.Currency]string
	readTimeout      time.Duration
	broadcastTimeout time.Duration
}

func (s *bscSender) Send(ctx context.Context, t transfer) (*sent, error) {
	from := common.HexToAddress(t.From)
	to := common.HexToAddress(t.To)

	readCtx, cancel := context.WithTimeout(ctx, s.readTimeout)
	nonce, err := s.node.PendingNonceAt(readCtx, from)
	cancel()
	if err != nil {
		return nil, err
	}

	tx, err := s.build(nonce, to, t)
	if err != nil {
		return nil, err
	}

	signed, err := ethtypes.SignTx(tx, ethtypes.NewEIP155Signer(s.node.ChainID()), t.Key)
	if err != nil {
		return nil, apperrors.NewInternalError("sign BSC transaction", err)
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.broadcastTimeout)
	defer cancel()
	if err := s.node.SendTransaction(sendCtx, signed); err != nil {
		return nil, err
	}
	return &sent{Hash: signed.Hash().Hex(), Nonce: &nonce}, nil
}

func (s *bscSender) build(nonce uint64, to common.Address, t transfer) (*ethtypes.Transaction, error) {
	price := t.Estimate.UnitPrice
	if t.Currency == types.CurrencyBNB {
		return ethtypes.NewTx(&ethtypes.LegacyTx{
			Nonce:    nonce,
			To:       &to,
			Value:    adapter.ToUnits(t.Amount, adapter.BNBDecimals),
			Gas:      gas.NativeTransferGas,
			GasPrice: price,
		}), nil
	}

	contract, ok := s.contracts[t.Currency]
	if !ok {
		return nil, apperrors.NewInvalidParameterError("currency", "no BSC contract for "+string(t.Currency))
	}
	data, err := adapter.PackTransfer(to, adapter.ToUnits(t.Amount, adapter.BEP20StableDecimals))
	if err != nil {
		return nil, apperrors.NewInternalError("pack transfer", err)
	}
	token := common.HexToAddress(contract)
	return ethtypes.NewTx(&ethtypes.LegacyTx{
		Nonce:    nonce,
		To:       &token,
		Value:    big.NewInt(0),
		Gas:      t.Estimate.GasLimit,
		GasPrice: price,
		Data:     data,
	}), nil
}

type tronSender struct {
	node             adapter.TronNode
	usdtContract     string
	readTimeout      time.Duration
	broadcastTimeout time.Duration
}

func (s *tronSender) Send(ctx context.Context, t transfer) (*sent, error) {
	readCtx, cancel := context.WithTimeout(ctx, s.readTimeout)
	var (
		ext *api.TransactionExtention
		err error
	)
	switch t.Currency {
	case types.CurrencyTRX:
		ext, err = s.node.TransferTRX(readCtx, t.From, t.To, t.Amount.Shift(adapter.TRXDecimals).IntPart())
	case types.CurrencyUSDT:
		ext, err = s.node.TransferTRC20(readCtx, t.From, t.To, s.usdtContract,
			adapter.ToUnits(t.Amount, adapter.TRC20USDTDecimals), t.Estimate.FeeLimitSun)
	default:
		err = apperrors.NewInvalidParameterError("currency", "no TRON contract for "+string(t.Currency))
	}
	cancel()
	if err != nil {
		return nil, err
	}

	txid, err := signTron(ext, t.Key)
	if err != nil {
		return nil, err
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.broadcastTimeout)
	defer cancel()
	if err := s.node.Broadcast(sendCtx, ext.GetTransaction()); err != nil {
		return nil, err
	}
	return &sent{Hash: txid}, nil
}

// signTron signs sha256(raw_data) in place and returns the hex txid
func signTron(ext *api.TransactionExtention, key *ecdsa.PrivateKey) (string, error) {
	tx := ext.GetTransaction()
	if tx == nil || tx.GetRawData() == nil {
		return "", apperrors.NewInternalError("sign TRON transaction", fmt.Errorf("node returned no raw data"))
	}
	raw, err := proto.Marshal(tx.GetRawData())
	if err != nil {
		return "", apperrors.NewInternalError("marshal TRON transaction", err)
	}
	digest := sha256.Sum256(raw)
	sig, err := crypto.Sign(digest[:], key)
	if err != nil {
		return "", apperrors.NewInternalError("sign TRON transaction", err)
	}
	tx.Signature = append(tx.Signature, sig)

	txid := hex.EncodeToString(digest[:])
	if len(ext.GetTxid()) > 0 && hex.EncodeToString(ext.GetTxid()) != txid {
		return "", apperrors.NewInternalError("sign TRON transaction", fmt.Errorf("txid mismatch: node %x, local %s", ext.GetTxid(), txid))
	}
	return txid, nil
}
