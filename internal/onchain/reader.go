// Package onchain reads vault contract state over JSON-RPC. It is the
// only package that talks to blockchain nodes; validation and yield
// calculation consume its Reader interface.
package onchain

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/vault-yield-resolver/internal/types"
)

// TokenMeta is the identity metadata read from a vault contract.
type TokenMeta struct {
	Symbol   string
	Name     string
	Decimals uint8
}

// MarketState is the lending-market snapshot used by utilization-based
// yield calculation. SupplyRate and BorrowRate are per-second rates in
// 1e18 units; a nil SupplyRate means the contract does not expose one and
// the rate must be modeled from utilization.
type MarketState struct {
	TotalSupply *big.Int
	TotalBorrow *big.Int
	SupplyRate  *big.Int
	BorrowRate  *big.Int
}

// ShareState is the share-accounting snapshot of an ERC-4626 style vault
// at one block height.
type ShareState struct {
	TotalAssets *big.Int
	TotalSupply *big.Int
}

// Reader abstracts the contract reads the pipeline performs so that
// validation and yield calculation are testable without a node.
type Reader interface {
	// LatestBlock returns the current head block number for a chain.
	LatestBlock(ctx context.Context, chain types.Chain) (uint64, error)

	// TokenMeta reads symbol, name and decimals from the vault contract.
	TokenMeta(ctx context.Context, chain types.Chain, address string) (TokenMeta, error)

	// TotalSupply reads the vault share token total supply.
	TotalSupply(ctx context.Context, chain types.Chain, address string) (*big.Int, error)

	// LiquidityRate reads the per-second supply rate in ray (1e27) units
	// from a liquidity-pool lending vault.
	LiquidityRate(ctx context.Context, chain types.Chain, address string) (*big.Int, error)

	// MarketState reads supplied/borrowed totals and rates from a
	// utilization-based lending market.
	MarketState(ctx context.Context, chain types.Chain, address string) (MarketState, error)

	// ShareState reads totalAssets/totalSupply at a block height; block 0
	// means the latest state.
	ShareState(ctx context.Context, chain types.Chain, address string, block uint64) (ShareState, error)
}

// defaultCallTimeout bounds every RPC call, including the lazy dial on
// first use of a chain.
const defaultCallTimeout = 15 * time.Second

// Client wraps go-ethereum RPC clients, one per configured chain, dialed
// lazily on first use.
type Client struct {
	endpoints map[types.Chain]string
	timeout   time.Duration

	mu      sync.RWMutex
	clients map[types.Chain]*ethclient.Client
}

// NewClient creates a multi-chain reader from a chain to RPC URL map.
func NewClient(endpoints map[types.Chain]string) *Client {
	return &Client{
		endpoints: endpoints,
		timeout:   defaultCallTimeout,
		clients:   make(map[types.Chain]*ethclient.Client),
	}
}

// WithTimeout overrides the per-call RPC timeout. Non-positive values
// keep the default.
func (c *Client) WithTimeout(timeout time.Duration) *Client {
	if timeout > 0 {
		c.timeout = timeout
	}
	return c
}

// Close closes every dialed RPC connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for chain, client := range c.clients {
		client.Close()
		delete(c.clients, chain)
	}
}

// Supports reports whether an RPC endpoint is configured for the chain.
func (c *Client) Supports(chain types.Chain) bool {
	_, ok := c.endpoints[chain]
	return ok
}

func (c *Client) clientFor(ctx context.Context, chain types.Chain) (*ethclient.Client, error) {
	c.mu.RLock()
	client, ok := c.clients[chain]
	c.mu.RUnlock()
	if ok {
		return client, nil
	}

	endpoint, ok := c.endpoints[chain]
	if !ok {
		return nil, fmt.Errorf("no RPC endpoint configured for chain %s", chain)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if client, ok := c.clients[chain]; ok {
		return client, nil
	}

	rpcClient, err := rpc.DialContext(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s RPC: %w", chain, err)
	}
	client = ethclient.NewClient(rpcClient)
	c.clients[chain] = client
	logrus.Debugf("Dialed %s RPC endpoint", chain)
	return client, nil
}

// LatestBlock implements Reader.
func (c *Client) LatestBlock(ctx context.Context, chain types.Chain) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	client, err := c.clientFor(ctx, chain)
	if err != nil {
		return 0, err
	}
	return client.BlockNumber(ctx)
}

// TokenMeta implements Reader. Symbol and name fall back to the bytes32
// ERC-20 variant when the string calls fail to decode.
func (c *Client) TokenMeta(ctx context.Context, chain types.Chain, address string) (TokenMeta, error) {
	var meta TokenMeta

	stringABI, err := erc20StringABIInstance()
	if err != nil {
		return meta, fmt.Errorf("parse erc20 string abi: %w", err)
	}
	bytes32ABI, err := erc20Bytes32ABIInstance()
	if err != nil {
		return meta, fmt.Errorf("parse erc20 bytes32 abi: %w", err)
	}

	values, err := c.call(ctx, chain, address, stringABI, "decimals", nil)
	if err != nil {
		return meta, err
	}
	decimals, err := asUint8(values[0])
	if err != nil {
		return meta, fmt.Errorf("decimals: %w", err)
	}
	meta.Decimals = decimals

	if values, err := c.call(ctx, chain, address, stringABI, "symbol", nil); err == nil {
		if s, ok := values[0].(string); ok {
			meta.Symbol = s
		}
	} else if values, err := c.call(ctx, chain, address, bytes32ABI, "symbol", nil); err == nil {
		if s, ok := bytes32ToString(values[0]); ok {
			meta.Symbol = s
		}
	} else {
		return meta, fmt.Errorf("symbol: %w", err)
	}

	if values, err := c.call(ctx, chain, address, stringABI, "name", nil); err == nil {
		if s, ok := values[0].(string); ok {
			meta.Name = s
		}
	} else if values, err := c.call(ctx, chain, address, bytes32ABI, "name", nil); err == nil {
		if s, ok := bytes32ToString(values[0]); ok {
			meta.Name = s
		}
	}

	return meta, nil
}

// TotalSupply implements Reader.
func (c *Client) TotalSupply(ctx context.Context, chain types.Chain, address string) (*big.Int, error) {
	parsed, err := erc20StringABIInstance()
	if err != nil {
		return nil, err
	}
	values, err := c.call(ctx, chain, address, parsed, "totalSupply", nil)
	if err != nil {
		return nil, err
	}
	return asBigInt(values[0])
}

// LiquidityRate implements Reader.
func (c *Client) LiquidityRate(ctx context.Context, chain types.Chain, address string) (*big.Int, error) {
	parsed, err := liquidityRateABIInstance()
	if err != nil {
		return nil, err
	}
	values, err := c.call(ctx, chain, address, parsed, "liquidityRate", nil)
	if err != nil {
		return nil, err
	}
	return asBigInt(values[0])
}

// MarketState implements Reader. Totals are required; rate reads degrade
// to nil so the caller can fall back to a modeled rate.
func (c *Client) MarketState(ctx context.Context, chain types.Chain, address string) (MarketState, error) {
	var state MarketState

	parsed, err := lendingMarketABIInstance()
	if err != nil {
		return state, err
	}

	values, err := c.call(ctx, chain, address, parsed, "totalSupply", nil)
	if err != nil {
		return state, fmt.Errorf("totalSupply: %w", err)
	}
	if state.TotalSupply, err = asBigInt(values[0]); err != nil {
		return state, fmt.Errorf("totalSupply: %w", err)
	}

	values, err = c.call(ctx, chain, address, parsed, "totalBorrow", nil)
	if err != nil {
		return state, fmt.Errorf("totalBorrow: %w", err)
	}
	if state.TotalBorrow, err = asBigInt(values[0]); err != nil {
		return state, fmt.Errorf("totalBorrow: %w", err)
	}

	if values, err := c.call(ctx, chain, address, parsed, "supplyRate", nil); err == nil {
		if rate, err := asBigInt(values[0]); err == nil {
			state.SupplyRate = rate
		}
	}
	if values, err := c.call(ctx, chain, address, parsed, "borrowRate", nil); err == nil {
		if rate, err := asBigInt(values[0]); err == nil {
			state.BorrowRate = rate
		}
	}

	return state, nil
}

// ShareState implements Reader.
func (c *Client) ShareState(ctx context.Context, chain types.Chain, address string, block uint64) (ShareState, error) {
	var state ShareState

	parsed, err := erc4626ABIInstance()
	if err != nil {
		return state, err
	}

	var blockPtr *big.Int
	if block > 0 {
		blockPtr = new(big.Int).SetUint64(block)
	}

	values, err := c.call(ctx, chain, address, parsed, "totalAssets", blockPtr)
	if err != nil {
		return state, fmt.Errorf("totalAssets: %w", err)
	}
	if state.TotalAssets, err = asBigInt(values[0]); err != nil {
		return state, fmt.Errorf("totalAssets: %w", err)
	}

	values, err = c.call(ctx, chain, address, parsed, "totalSupply", blockPtr)
	if err != nil {
		return state, fmt.Errorf("totalSupply: %w", err)
	}
	if state.TotalSupply, err = asBigInt(values[0]); err != nil {
		return state, fmt.Errorf("totalSupply: %w", err)
	}

	return state, nil
}

// call packs a zero-argument view method, executes eth_call and unpacks
// the result. Each call is bounded by the client timeout so a stalled
// node cannot hold a validation batch open.
func (c *Client) call(ctx context.Context, chain types.Chain, address string, parsed abi.ABI, method string, block *big.Int) ([]interface{}, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	client, err := c.clientFor(ctx, chain)
	if err != nil {
		return nil, err
	}

	data, err := parsed.Pack(method)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	to := common.HexToAddress(address)
	resp, err := client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, block)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}

	values, err := parsed.Unpack(method, resp)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return values, nil
}

func bytes32ToString(value interface{}) (string, bool) {
	switch v := value.(type) {
	case [32]byte:
		return string(bytes.TrimRight(v[:], "\x00")), true
	case []byte:
		return string(bytes.TrimRight(v, "\x00")), true
	default:
		return "", false
	}
}

func asBigInt(value interface{}) (*big.Int, error) {
	switch v := value.(type) {
	case *big.Int:
		return new(big.Int).Set(v), nil
	case big.Int:
		return new(big.Int).Set(&v), nil
	case uint64:
		return new(big.Int).SetUint64(v), nil
	case int64:
		return big.NewInt(v), nil
	default:
		return nil, fmt.Errorf("unsupported int type %T", value)
	}
}

func asUint8(value interface{}) (uint8, error) {
	switch v := value.(type) {
	case uint8:
		return v, nil
	case *big.Int:
		return uint8(v.Uint64()), nil
	default:
		return 0, fmt.Errorf("unsupported uint8 type %T", value)
	}
}
