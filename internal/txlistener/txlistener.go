// Package txlistener waits for transactions to be mined and reports their
// receipts in the string-encoded-amount shape the rest of the engine
// expects (gas figures as decimal strings, parsed with big.Int.SetString
// at the call site — the teacher's convention in blackhole.go).
package txlistener

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// ErrTimeout is returned when a transaction isn't mined before the
// configured timeout elapses.
var ErrTimeout = errors.New("txlistener: timed out waiting for transaction")

// Receipt is the engine-facing receipt shape: GasUsed and
// EffectiveGasPrice are decimal strings (matching blackhole.go's
// `receipt.GasUsed` / `.EffectiveGasPrice` + `big.Int.SetString(x, 0)`
// call sites), so callers don't all re-derive big.Int parsing.
type Receipt struct {
	TxHash            common.Hash
	BlockNumber       uint64
	Status            uint64 // 1 = success, 0 = reverted
	GasUsed           string
	EffectiveGasPrice string
}

// GasCost returns GasUsed * EffectiveGasPrice as wei, generalising the
// teacher's util.ExtractGasCost(receipt) free function into a method on
// the type it operates on.
func (r *Receipt) GasCost() (*big.Int, error) {
	gasUsed, ok := new(big.Int).SetString(r.GasUsed, 10)
	if !ok {
		return nil, fmt.Errorf("txlistener: invalid GasUsed %q", r.GasUsed)
	}
	gasPrice, ok := new(big.Int).SetString(r.EffectiveGasPrice, 10)
	if !ok {
		return nil, fmt.Errorf("txlistener: invalid EffectiveGasPrice %q", r.EffectiveGasPrice)
	}
	return new(big.Int).Mul(gasUsed, gasPrice), nil
}

// Success reports whether the transaction did not revert.
func (r *Receipt) Success() bool {
	return r.Status == types.ReceiptStatusSuccessful
}

// TxListener waits for a submitted transaction to be mined.
type TxListener interface {
	WaitForTransaction(hash common.Hash) (*Receipt, error)
}

type listener struct {
	eth          *ethclient.Client
	pollInterval time.Duration
	timeout      time.Duration
}

// Option configures a listener constructed by NewTxListener.
type Option func(*listener)

// WithPollInterval overrides the default 1s receipt-polling interval.
func WithPollInterval(d time.Duration) Option {
	return func(l *listener) { l.pollInterval = d }
}

// WithTimeout overrides the default 3-minute mining timeout.
func WithTimeout(d time.Duration) Option {
	return func(l *listener) { l.timeout = d }
}

// NewTxListener builds a TxListener polling eth for mined receipts.
func NewTxListener(eth *ethclient.Client, opts ...Option) TxListener {
	l := &listener{eth: eth, pollInterval: time.Second, timeout: 3 * time.Minute}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *listener) WaitForTransaction(hash common.Hash) (*Receipt, error) {
	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	defer cancel()

	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := l.eth.TransactionReceipt(ctx, hash)
		if err == nil {
			return toReceipt(receipt), nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			// A real RPC error (not "still pending") aborts immediately;
			// retrying would just spin against a broken endpoint.
			return nil, fmt.Errorf("txlistener: fetch receipt for %s: %w", hash, err)
		}

		select {
		case <-ctx.Done():
			return nil, ErrTimeout
		case <-ticker.C:
		}
	}
}

func toReceipt(r *types.Receipt) *Receipt {
	return &Receipt{
		TxHash:            r.TxHash,
		BlockNumber:       r.BlockNumber.Uint64(),
		Status:            r.Status,
		GasUsed:           fmt.Sprintf("%d", r.GasUsed),
		EffectiveGasPrice: r.EffectiveGasPrice.String(),
	}
}
