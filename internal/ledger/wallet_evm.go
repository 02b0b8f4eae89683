package ledger

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/acuity-social/swaplock/internal/config"
	"github.com/acuity-social/swaplock/internal/wallet"
)

// NewEVMLedgerFromWallet dials the RPC endpoint configured for chainSymbol
// (e.g. "ETH") in params and derives the ledger's signing key from w's
// first account on that chain — the same key wallet_sendEVM signs with,
// rather than a second, independently managed key.
func NewEVMLedgerFromWallet(ctx context.Context, w *wallet.Service, chainSymbol string, params config.ChainParams) (*EVMLedger, error) {
	if params.RPCEndpoint == "" {
		return nil, fmt.Errorf("ledger: no RPC endpoint configured for %s", chainSymbol)
	}
	if params.ChainID == 0 {
		return nil, fmt.Errorf("ledger: %s has no EVM chain ID", chainSymbol)
	}

	key, err := w.GetPrivateKey(chainSymbol, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("ledger: derive signing key: %w", err)
	}

	client, err := ethclient.DialContext(ctx, params.RPCEndpoint)
	if err != nil {
		return nil, fmt.Errorf("ledger: dial %s: %w", params.RPCEndpoint, err)
	}

	return NewEVMLedger(client, key.ToECDSA(), new(big.Int).SetUint64(params.ChainID))
}
