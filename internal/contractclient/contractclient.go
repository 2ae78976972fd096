// Package contractclient wraps a single on-chain contract (address + ABI)
// behind read (Call) and write (Send) methods, plus raw transaction
// decoding. Grounded on the teacher's pkg/contractclient usage in
// blackhole.go: every DEX/router/ERC20/lending-pool interaction in this
// engine goes through a ContractClient rather than talking to
// *ethclient.Client directly.
package contractclient

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// TxKind selects the fee-construction strategy for Send.
type TxKind int

const (
	// Standard builds an EIP-1559 dynamic-fee transaction using the
	// client's suggested tip/base fee.
	Standard TxKind = iota
	// Aggressive adds a multiplier over the suggested tip, for
	// submissions racing MEV searchers (spec.md §5 Submission Ladder).
	Aggressive
)

// aggressiveTipMultiplier scales the suggested tip cap for Aggressive sends.
const aggressiveTipMultiplier = 3

// DecodedTransaction is the result of decoding a raw tx's calldata
// against the client's ABI.
type DecodedTransaction struct {
	MethodName string
	Args       map[string]interface{}
}

// ContractClient is a read/write handle bound to one contract address.
type ContractClient interface {
	ContractAddress() common.Address

	// Call performs an eth_call against method with args, returning the
	// ABI-decoded outputs in declaration order. caller may be nil.
	Call(caller *common.Address, method string, args ...interface{}) ([]interface{}, error)

	// Send builds, signs and broadcasts a transaction invoking method
	// with args. gasLimit of nil triggers gas estimation.
	Send(kind TxKind, gasLimit *uint64, from *common.Address, privateKey *ecdsa.PrivateKey, method string, args ...interface{}) (common.Hash, error)

	// Sign builds and signs a transaction invoking method with args,
	// without broadcasting it — for callers that hand the signed bytes to
	// a separate submission path (e.g. a Flashbots-style relay bundle)
	// rather than broadcasting directly.
	Sign(kind TxKind, gasLimit *uint64, from *common.Address, privateKey *ecdsa.PrivateKey, method string, args ...interface{}) (*types.Transaction, error)

	// TransactionData fetches a mined transaction's calldata by hash.
	TransactionData(hash common.Hash) ([]byte, error)

	// DecodeTransaction decodes raw calldata against the bound ABI.
	DecodeTransaction(data []byte) (*DecodedTransaction, error)
}

type client struct {
	eth     *ethclient.Client
	address common.Address
	abi     abi.ABI
	timeout time.Duration
}

// NewContractClient binds eth to a single contract's address and ABI.
func NewContractClient(eth *ethclient.Client, address common.Address, parsedABI abi.ABI) ContractClient {
	return &client{eth: eth, address: address, abi: parsedABI, timeout: 15 * time.Second}
}

func (c *client) ContractAddress() common.Address {
	return c.address
}

func (c *client) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), c.timeout)
}

func (c *client) Call(caller *common.Address, method string, args ...interface{}) ([]interface{}, error) {
	input, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("contractclient: pack %s: %w", method, err)
	}

	msg := ethereum.CallMsg{To: &c.address, Data: input}
	if caller != nil {
		msg.From = *caller
	}

	ctx, cancel := c.ctx()
	defer cancel()

	out, err := c.eth.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, fmt.Errorf("contractclient: call %s: %w", method, err)
	}

	result, err := c.abi.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("contractclient: unpack %s: %w", method, err)
	}
	return result, nil
}

func (c *client) Send(kind TxKind, gasLimit *uint64, from *common.Address, privateKey *ecdsa.PrivateKey, method string, args ...interface{}) (common.Hash, error) {
	signedTx, err := c.Sign(kind, gasLimit, from, privateKey, method, args...)
	if err != nil {
		return common.Hash{}, err
	}

	ctx, cancel := c.ctx()
	defer cancel()

	if err := c.eth.SendTransaction(ctx, signedTx); err != nil {
		return common.Hash{}, fmt.Errorf("contractclient: broadcast %s: %w", method, err)
	}
	return signedTx.Hash(), nil
}

func (c *client) Sign(kind TxKind, gasLimit *uint64, from *common.Address, privateKey *ecdsa.PrivateKey, method string, args ...interface{}) (*types.Transaction, error) {
	if privateKey == nil || from == nil {
		return nil, fmt.Errorf("contractclient: Sign requires a signer and from address")
	}

	input, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("contractclient: pack %s: %w", method, err)
	}

	ctx, cancel := c.ctx()
	defer cancel()

	chainID, err := c.eth.NetworkID(ctx)
	if err != nil {
		return nil, fmt.Errorf("contractclient: chain id: %w", err)
	}

	nonce, err := c.eth.PendingNonceAt(ctx, *from)
	if err != nil {
		return nil, fmt.Errorf("contractclient: nonce: %w", err)
	}

	tipCap, err := c.eth.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, fmt.Errorf("contractclient: tip cap: %w", err)
	}
	if kind == Aggressive {
		tipCap = new(big.Int).Mul(tipCap, big.NewInt(aggressiveTipMultiplier))
	}

	head, err := c.eth.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("contractclient: head header: %w", err)
	}
	baseFee := head.BaseFee
	if baseFee == nil {
		baseFee = big.NewInt(0)
	}
	feeCap := new(big.Int).Add(tipCap, new(big.Int).Mul(baseFee, big.NewInt(2)))

	limit := uint64(0)
	if gasLimit != nil {
		limit = *gasLimit
	} else {
		est, err := c.eth.EstimateGas(ctx, ethereum.CallMsg{
			From: *from,
			To:   &c.address,
			Data: input,
		})
		if err != nil {
			return nil, fmt.Errorf("contractclient: estimate gas for %s: %w", method, err)
		}
		limit = est
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       limit,
		To:        &c.address,
		Data:      input,
	})

	signer := types.LatestSignerForChainID(chainID)
	signedTx, err := types.SignTx(tx, signer, privateKey)
	if err != nil {
		return nil, fmt.Errorf("contractclient: sign %s: %w", method, err)
	}
	return signedTx, nil
}

func (c *client) TransactionData(hash common.Hash) ([]byte, error) {
	ctx, cancel := c.ctx()
	defer cancel()

	tx, _, err := c.eth.TransactionByHash(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("contractclient: fetch tx %s: %w", hash, err)
	}
	return tx.Data(), nil
}

func (c *client) DecodeTransaction(data []byte) (*DecodedTransaction, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("contractclient: calldata too short to contain a method selector")
	}

	method, err := c.abi.MethodById(data[:4])
	if err != nil {
		return nil, fmt.Errorf("contractclient: unknown method selector %x: %w", data[:4], err)
	}

	args := make(map[string]interface{})
	if err := method.Inputs.UnpackIntoMap(args, data[4:]); err != nil {
		return nil, fmt.Errorf("contractclient: unpack args for %s: %w", method.Name, err)
	}

	return &DecodedTransaction{MethodName: method.Name, Args: args}, nil
}

// selector returns the 4-byte function selector for name, useful for
// callers that need to pre-filter mempool transactions before a full
// DecodeTransaction (e.g. the TxListener's sandwich-bot heuristics).
func selector(parsedABI abi.ABI, name string) ([4]byte, error) {
	m, ok := parsedABI.Methods[name]
	if !ok {
		return [4]byte{}, fmt.Errorf("contractclient: method %s not in abi", name)
	}
	var sel [4]byte
	copy(sel[:], crypto.Keccak256([]byte(m.Sig))[:4])
	return sel, nil
}
