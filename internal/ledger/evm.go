// Package ledger provides TokenLedger implementations the escrow engine
// can be wired to: an on-chain ERC-20 adapter built on go-ethereum's
// accounts/abi/bind, and an in-memory ledger for tests and non-chain
// deployments.
package ledger

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/acuity-social/swaplock/internal/escrow"
	"github.com/acuity-social/swaplock/pkg/logging"
)

// erc20ABI is the minimal ERC-20 surface this ledger needs: transfer (for
// egress, paying out of the engine's own holding) and transferFrom (for
// ingress, pulling a caller's pre-approved balance into custody).
const erc20ABI = `[
	{"constant":false,"inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"type":"function"},
	{"constant":false,"inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"name":"transferFrom","outputs":[{"name":"","type":"bool"}],"type":"function"}
]`

// EVMLedger is a TokenLedger backed by a live EVM chain, wrapping
// go-ethereum's accounts/abi/bind: a parsed ABI plus a keyed transactor,
// rather than a generated contract binding, since the ERC-20 token this
// engine transacts against is caller-supplied and not known at compile
// time.
type EVMLedger struct {
	client     *ethclient.Client
	transactor *bind.TransactOpts
	parsedABI  abi.ABI
	log        *logging.Logger
}

// NewEVMLedger dials nothing itself — client is expected to already be
// connected (ethclient.DialContext) — and derives a transactor from key
// for the given chain.
func NewEVMLedger(client *ethclient.Client, key *ecdsa.PrivateKey, chainID *big.Int) (*EVMLedger, error) {
	auth, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		return nil, fmt.Errorf("ledger: create transactor: %w", err)
	}
	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("ledger: parse erc20 abi: %w", err)
	}
	return &EVMLedger{client: client, transactor: auth, parsedABI: parsed, log: logging.Component("ledger")}, nil
}

// TransferFrom implements escrow.TokenLedger.
func (l *EVMLedger) TransferFrom(ctx context.Context, token escrow.TokenId, from, to escrow.Principal, amount *escrow.Amount) (bool, error) {
	return l.send(ctx, token, "transferFrom", from, to, amount.ToBig())
}

// Transfer implements escrow.TokenLedger.
func (l *EVMLedger) Transfer(ctx context.Context, token escrow.TokenId, to escrow.Principal, amount *escrow.Amount) (bool, error) {
	return l.send(ctx, token, "transfer", to, amount.ToBig())
}

func (l *EVMLedger) send(ctx context.Context, token escrow.TokenId, method string, args ...interface{}) (bool, error) {
	contract := bind.NewBoundContract(token, l.parsedABI, l.client, l.client, l.client)
	opts := *l.transactor
	opts.Context = ctx

	tx, err := contract.Transact(&opts, method, args...)
	if err != nil {
		l.log.Warn("token call reverted on submit", "method", method, "token", token, "err", err)
		return false, nil
	}
	receipt, err := bind.WaitMined(ctx, l.client, tx)
	if err != nil {
		return false, fmt.Errorf("ledger: waiting for %s receipt: %w", method, err)
	}
	ok := receipt.Status == types.ReceiptStatusSuccessful
	if !ok {
		l.log.Warn("token call reverted on-chain", "method", method, "token", token, "tx", tx.Hash())
	}
	return ok, nil
}
