// Package chain implements the external ledger collaborator on an EVM
// JSON-RPC endpoint. Errors from the node or the contract are surfaced
// wrapped but uninterpreted; retry policy belongs to the caller.
package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"affidblock.io/internal/affidavit"
)

// Client anchors affidavits on the registry contract and reads them back.
// Implements affidavit.Ledger.
type Client struct {
	eth      *ethclient.Client
	registry *bind.BoundContract
	address  common.Address
	key      *ecdsa.PrivateKey
	chainID  *big.Int
}

var _ affidavit.Ledger = (*Client)(nil)

// Dial connects to the JSON-RPC endpoint and binds the registry contract.
// privKeyHex may be empty for a read-only client (verification only).
func Dial(ctx context.Context, rpcURL, contractHex, privKeyHex string) (*Client, error) {
	if !common.IsHexAddress(contractHex) {
		return nil, fmt.Errorf("chain: invalid contract address %q", contractHex)
	}
	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", rpcURL, err)
	}
	address := common.HexToAddress(contractHex)
	registry, err := newRegistry(address, eth)
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("chain: bind registry: %w", err)
	}
	c := &Client{eth: eth, registry: registry, address: address}
	if strings.TrimSpace(privKeyHex) != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(privKeyHex, "0x"))
		if err != nil {
			eth.Close()
			return nil, fmt.Errorf("chain: parse private key: %w", err)
		}
		chainID, err := eth.ChainID(ctx)
		if err != nil {
			eth.Close()
			return nil, fmt.Errorf("chain: chain id: %w", err)
		}
		c.key = key
		c.chainID = chainID
	}
	return c, nil
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	if c != nil && c.eth != nil {
		c.eth.Close()
	}
}

// Ping checks that the endpoint answers and the registry has code.
func (c *Client) Ping(ctx context.Context) error {
	code, err := c.eth.CodeAt(ctx, c.address, nil)
	if err != nil {
		return fmt.Errorf("chain: code at %s: %w", c.address.Hex(), err)
	}
	if len(code) == 0 {
		return fmt.Errorf("chain: no contract code at %s", c.address.Hex())
	}
	return nil
}

// Anchor submits the record transaction and waits for it to be mined.
func (c *Client) Anchor(ctx context.Context, req affidavit.AnchorRequest) (affidavit.Receipt, error) {
	if c.key == nil {
		return affidavit.Receipt{}, errors.New("chain: client has no signing key")
	}
	opts, err := bind.NewKeyedTransactorWithChainID(c.key, c.chainID)
	if err != nil {
		return affidavit.Receipt{}, fmt.Errorf("chain: transactor: %w", err)
	}
	opts.Context = ctx

	docHash := common.HexToHash(req.DocumentHash)
	tx, err := c.registry.Transact(opts, "record",
		req.DisplayID, docHash, req.Title, req.Category, req.Description, req.Declaration)
	if err != nil {
		return affidavit.Receipt{}, fmt.Errorf("chain: record %s: %w", req.DisplayID, err)
	}
	receipt, err := bind.WaitMined(ctx, c.eth, tx)
	if err != nil {
		return affidavit.Receipt{}, fmt.Errorf("chain: wait mined %s: %w", tx.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return affidavit.Receipt{}, fmt.Errorf("chain: record %s reverted in tx %s", req.DisplayID, tx.Hash().Hex())
	}
	return affidavit.Receipt{
		TxHash:      tx.Hash().Hex(),
		BlockNumber: receipt.BlockNumber.Uint64(),
	}, nil
}

// Record reads the on-chain record for a display id.
func (c *Client) Record(ctx context.Context, displayID string) (affidavit.LedgerRecord, error) {
	var out []any
	err := c.registry.Call(&bind.CallOpts{Context: ctx}, &out, "getAffidavit", displayID)
	if err != nil {
		return affidavit.LedgerRecord{}, fmt.Errorf("chain: getAffidavit %s: %w", displayID, err)
	}
	if len(out) != 6 {
		return affidavit.LedgerRecord{}, fmt.Errorf("chain: getAffidavit %s: unexpected result arity %d", displayID, len(out))
	}
	exists, _ := out[0].(bool)
	docHash, _ := out[1].([32]byte)
	rec := affidavit.LedgerRecord{
		Exists:       exists,
		DisplayID:    displayID,
		DocumentHash: common.Hash(docHash).Hex(),
		Title:        asString(out[2]),
		Category:     asString(out[3]),
		Description:  asString(out[4]),
		Declaration:  asString(out[5]),
	}
	if !exists {
		return affidavit.LedgerRecord{Exists: false, DisplayID: displayID}, nil
	}
	return rec, nil
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}
