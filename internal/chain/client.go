// Package chain はERC-20互換トークンコントラクトへのアクセスを提供する。
package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// GasLimit はtransfer/mintトランザクションの固定ガス上限。
const GasLimit uint64 = 200000

// DefaultTimeout はノード呼び出し1回あたりの既定タイムアウト。
const DefaultTimeout = 10 * time.Second

// erc20ABI は使用する関数のみを含むABI定義。
const erc20ABI = `[
	{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"constant":false,"inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"},
	{"constant":false,"inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"name":"mint","outputs":[],"stateMutability":"nonpayable","type":"function"}
]`

var (
	// ErrInvalidAddress はアドレスの形式が不正な場合のエラー。
	ErrInvalidAddress = errors.New("invalid address")
	// ErrInvalidAmount は金額が正でない場合のエラー。
	ErrInvalidAmount = errors.New("amount must be positive")
	// ErrKeyMismatch は送信元アドレスと秘密鍵が対応しない場合のエラー。
	ErrKeyMismatch = errors.New("private key does not match sender address")
	// ErrAdminKeyNotConfigured は管理者鍵なしでmintを呼んだ場合のエラー。
	ErrAdminKeyNotConfigured = errors.New("admin private key is not configured")
)

// TokenContract はトークンコントラクトの操作インターフェース。
type TokenContract interface {
	GetBalance(ctx context.Context, address string) (*big.Int, error)
	Transfer(ctx context.Context, from, to string, amount *big.Int, privateKeyHex string) (string, error)
	Mint(ctx context.Context, to string, amount *big.Int) (string, error)
}

// Config はコントラクトクライアントの設定。
type Config struct {
	NodeURL         string
	ContractAddress string
	AdminPrivateKey string // 16進文字列。未設定の場合Mintは使用できない
	Timeout         time.Duration
}

// ERC20Client はEthereum JSON-RPCノード経由でトークンコントラクトを呼び出す。
// 送信したトランザクションの確定は待たない。
type ERC20Client struct {
	client   *ethclient.Client
	contract common.Address
	abi      abi.ABI
	adminKey *ecdsa.PrivateKey
	timeout  time.Duration
}

// Dial はノードに接続してERC20Clientを生成する。
func Dial(ctx context.Context, cfg Config) (*ERC20Client, error) {
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("contract address %q: %w", cfg.ContractAddress, ErrInvalidAddress)
	}

	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse token ABI: %w", err)
	}

	var adminKey *ecdsa.PrivateKey
	if cfg.AdminPrivateKey != "" {
		adminKey, err = parsePrivateKey(cfg.AdminPrivateKey)
		if err != nil {
			return nil, fmt.Errorf("failed to parse admin private key: %w", err)
		}
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	client, err := ethclient.DialContext(dialCtx, cfg.NodeURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to blockchain node: %w", err)
	}

	return &ERC20Client{
		client:   client,
		contract: common.HexToAddress(cfg.ContractAddress),
		abi:      parsed,
		adminKey: adminKey,
		timeout:  timeout,
	}, nil
}

// Close はノードとの接続を閉じる。
func (c *ERC20Client) Close() {
	c.client.Close()
}

// GetBalance はアドレスのトークン残高を返す。
func (c *ERC20Client) GetBalance(ctx context.Context, address string) (*big.Int, error) {
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("address %q: %w", address, ErrInvalidAddress)
	}

	data, err := c.abi.Pack("balanceOf", common.HexToAddress(address))
	if err != nil {
		return nil, fmt.Errorf("failed to pack balanceOf: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	out, err := c.client.CallContract(ctx, ethereum.CallMsg{To: &c.contract, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to call balanceOf: %w", err)
	}

	values, err := c.abi.Unpack("balanceOf", out)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack balanceOf: %w", err)
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("unexpected balanceOf output length %d", len(values))
	}
	balance, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected balanceOf output type %T", values[0])
	}
	return balance, nil
}

// Transfer はfromの秘密鍵で署名したtransferトランザクションを送信し、トランザクションハッシュを返す。
func (c *ERC20Client) Transfer(ctx context.Context, from, to string, amount *big.Int, privateKeyHex string) (string, error) {
	if !common.IsHexAddress(from) {
		return "", fmt.Errorf("from address %q: %w", from, ErrInvalidAddress)
	}
	key, err := parsePrivateKey(privateKeyHex)
	if err != nil {
		return "", fmt.Errorf("failed to parse private key: %w", err)
	}
	if crypto.PubkeyToAddress(key.PublicKey) != common.HexToAddress(from) {
		return "", ErrKeyMismatch
	}
	return c.send(ctx, key, "transfer", to, amount)
}

// Mint は管理者鍵で署名したmintトランザクションを送信し、トランザクションハッシュを返す。
func (c *ERC20Client) Mint(ctx context.Context, to string, amount *big.Int) (string, error) {
	if c.adminKey == nil {
		return "", ErrAdminKeyNotConfigured
	}
	return c.send(ctx, c.adminKey, "mint", to, amount)
}

// send はコントラクト関数呼び出しのレガシートランザクションを組み立てて送信する。
func (c *ERC20Client) send(ctx context.Context, key *ecdsa.PrivateKey, method, to string, amount *big.Int) (string, error) {
	if !common.IsHexAddress(to) {
		return "", fmt.Errorf("to address %q: %w", to, ErrInvalidAddress)
	}
	if amount == nil || amount.Sign() <= 0 {
		return "", ErrInvalidAmount
	}

	data, err := c.abi.Pack(method, common.HexToAddress(to), amount)
	if err != nil {
		return "", fmt.Errorf("failed to pack %s: %w", method, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	sender := crypto.PubkeyToAddress(key.PublicKey)
	nonce, err := c.client.PendingNonceAt(ctx, sender)
	if err != nil {
		return "", fmt.Errorf("failed to get nonce: %w", err)
	}
	gasPrice, err := c.client.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get gas price: %w", err)
	}
	chainID, err := c.client.ChainID(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get chain ID: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &c.contract,
		Value:    big.NewInt(0),
		Gas:      GasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), key)
	if err != nil {
		return "", fmt.Errorf("failed to sign %s transaction: %w", method, err)
	}
	if err := c.client.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("failed to send %s transaction: %w", method, err)
	}

	return signed.Hash().Hex(), nil
}

func parsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	return crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
}

// compile-time interface check
var _ TokenContract = (*ERC20Client)(nil)
