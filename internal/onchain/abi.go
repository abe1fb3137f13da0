package onchain

import (
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Minimal view-method ABIs for the contract reads the resolver performs.
// Two ERC-20 variants exist because pre-2017 tokens return bytes32 for
// symbol and name instead of string.

const erc20StringABIJSON = `[
  {"inputs": [], "name": "decimals", "outputs": [{"type": "uint8"}], "stateMutability": "view", "type": "function"},
  {"inputs": [], "name": "symbol", "outputs": [{"type": "string"}], "stateMutability": "view", "type": "function"},
  {"inputs": [], "name": "name", "outputs": [{"type": "string"}], "stateMutability": "view", "type": "function"},
  {"inputs": [], "name": "totalSupply", "outputs": [{"type": "uint256"}], "stateMutability": "view", "type": "function"}
]`

const erc20Bytes32ABIJSON = `[
  {"inputs": [], "name": "decimals", "outputs": [{"type": "uint8"}], "stateMutability": "view", "type": "function"},
  {"inputs": [], "name": "symbol", "outputs": [{"type": "bytes32"}], "stateMutability": "view", "type": "function"},
  {"inputs": [], "name": "name", "outputs": [{"type": "bytes32"}], "stateMutability": "view", "type": "function"}
]`

const erc4626ABIJSON = `[
  {"inputs": [], "name": "totalAssets", "outputs": [{"type": "uint256"}], "stateMutability": "view", "type": "function"},
  {"inputs": [], "name": "totalSupply", "outputs": [{"type": "uint256"}], "stateMutability": "view", "type": "function"},
  {"inputs": [], "name": "asset", "outputs": [{"type": "address"}], "stateMutability": "view", "type": "function"}
]`

const liquidityRateABIJSON = `[
  {"inputs": [], "name": "liquidityRate", "outputs": [{"type": "uint256"}], "stateMutability": "view", "type": "function"}
]`

const lendingMarketABIJSON = `[
  {"inputs": [], "name": "totalSupply", "outputs": [{"type": "uint256"}], "stateMutability": "view", "type": "function"},
  {"inputs": [], "name": "totalBorrow", "outputs": [{"type": "uint256"}], "stateMutability": "view", "type": "function"},
  {"inputs": [], "name": "supplyRate", "outputs": [{"type": "uint256"}], "stateMutability": "view", "type": "function"},
  {"inputs": [], "name": "borrowRate", "outputs": [{"type": "uint256"}], "stateMutability": "view", "type": "function"}
]`

var (
	erc20StringABI      abi.ABI
	erc20StringABIOnce  sync.Once
	erc20StringABIErr   error
	erc20Bytes32ABI     abi.ABI
	erc20Bytes32ABIOnce sync.Once
	erc20Bytes32ABIErr  error
	erc4626ABI          abi.ABI
	erc4626ABIOnce      sync.Once
	erc4626ABIErr       error
	liquidityRateABI    abi.ABI
	liquidityRateOnce   sync.Once
	liquidityRateErr    error
	lendingMarketABI    abi.ABI
	lendingMarketOnce   sync.Once
	lendingMarketErr    error
)

func erc20StringABIInstance() (abi.ABI, error) {
	erc20StringABIOnce.Do(func() {
		erc20StringABI, erc20StringABIErr = abi.JSON(strings.NewReader(erc20StringABIJSON))
	})
	return erc20StringABI, erc20StringABIErr
}

func erc20Bytes32ABIInstance() (abi.ABI, error) {
	erc20Bytes32ABIOnce.Do(func() {
		erc20Bytes32ABI, erc20Bytes32ABIErr = abi.JSON(strings.NewReader(erc20Bytes32ABIJSON))
	})
	return erc20Bytes32ABI, erc20Bytes32ABIErr
}

func erc4626ABIInstance() (abi.ABI, error) {
	erc4626ABIOnce.Do(func() {
		erc4626ABI, erc4626ABIErr = abi.JSON(strings.NewReader(erc4626ABIJSON))
	})
	return erc4626ABI, erc4626ABIErr
}

func liquidityRateABIInstance() (abi.ABI, error) {
	liquidityRateOnce.Do(func() {
		liquidityRateABI, liquidityRateErr = abi.JSON(strings.NewReader(liquidityRateABIJSON))
	})
	return liquidityRateABI, liquidityRateErr
}

func lendingMarketABIInstance() (abi.ABI, error) {
	lendingMarketOnce.Do(func() {
		lendingMarketABI, lendingMarketErr = abi.JSON(strings.NewReader(lendingMarketABIJSON))
	})
	return lendingMarketABI, lendingMarketErr
}
