// Package polygonutil reads on-chain USDC state from a Polygon RPC node.
package polygonutil

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// USDC uses 6 decimals, which matches the engine's micros scale exactly: the
// raw balanceOf result IS the balance in micros.
const USDCTokenDecimals = 6

var USDCTokenAddress = common.HexToAddress("0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174")

var balanceOfSelector = crypto.Keccak256([]byte("balanceOf(address)"))[:4]

// RPCURLFromEnv reads the Polygon RPC endpoint from RPC_WS_URL, RPC_URL, or
// POLYGON_WS_URL, rejecting obvious placeholders.
func RPCURLFromEnv() (string, error) {
	var rpcURL string
	for _, key := range []string{"RPC_WS_URL", "RPC_URL", "POLYGON_WS_URL"} {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			rpcURL = v
			break
		}
	}
	if rpcURL == "" {
		return "", fmt.Errorf("RPC_WS_URL or RPC_URL required (set RPC_WS_URL in .env)")
	}
	if !strings.HasPrefix(rpcURL, "wss") && !strings.HasPrefix(rpcURL, "http") {
		return "", fmt.Errorf("polygon RPC URL must be wss://... or http(s)://..., got %q", rpcURL)
	}
	if strings.Contains(rpcURL, "YOUR_KEY") {
		return "", fmt.Errorf("polygon RPC URL still contains placeholder YOUR_KEY. Set RPC_WS_URL/RPC_URL to your provider URL")
	}
	return rpcURL, nil
}

// USDCTokenBalanceMicros returns the owner's USDC balance via eth_call.
func USDCTokenBalanceMicros(ctx context.Context, rpcURL string, owner common.Address) (uint64, error) {
	if strings.TrimSpace(rpcURL) == "" {
		return 0, fmt.Errorf("polygon RPC URL missing")
	}
	if (owner == common.Address{}) {
		return 0, fmt.Errorf("owner address missing")
	}

	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return 0, fmt.Errorf("dial polygon RPC: %w", err)
	}
	defer client.Close()

	data := append(append([]byte{}, balanceOfSelector...), common.LeftPadBytes(owner.Bytes(), 32)...)
	out, err := client.CallContract(ctx, ethereum.CallMsg{To: &USDCTokenAddress, Data: data}, nil)
	if err != nil {
		return 0, fmt.Errorf("usdc balanceOf(%s): %w", owner.Hex(), err)
	}
	if len(out) == 0 {
		return 0, fmt.Errorf("usdc balanceOf returned empty result")
	}

	bal := new(big.Int).SetBytes(out)
	if !bal.IsUint64() {
		return 0, fmt.Errorf("usdc balance overflows uint64")
	}
	return bal.Uint64(), nil
}
