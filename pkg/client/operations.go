package client

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/0xmhha/tokenwallet-go/pkg/types"
)

// rpcTransaction is the subset of eth_getTransactionByHash the engine reads.
// ethclient drops the sender, so the call is made raw.
type rpcTransaction struct {
	Hash        common.Hash     `json:"hash"`
	From        common.Address  `json:"from"`
	To          *common.Address `json:"to"`
	Value       *hexutil.Big    `json:"value"`
	GasPrice    *hexutil.Big    `json:"gasPrice"`
	Nonce       hexutil.Uint64  `json:"nonce"`
	BlockHash   *common.Hash    `json:"blockHash"`
	BlockNumber *hexutil.Big    `json:"blockNumber"`
	Input       hexutil.Bytes   `json:"input"`
}

func (t *rpcTransaction) toChainTransaction() *types.ChainTransaction {
	tx := &types.ChainTransaction{
		Hash:     t.Hash,
		From:     t.From,
		To:       t.To,
		Value:    bigOrZero((*big.Int)(t.Value)),
		GasPrice: bigOrZero((*big.Int)(t.GasPrice)),
		Nonce:    uint64(t.Nonce),
		Input:    t.Input,
	}
	if t.BlockHash != nil {
		tx.BlockHash = *t.BlockHash
	}
	if t.BlockNumber != nil {
		tx.BlockNumber = (*big.Int)(t.BlockNumber)
	}
	return tx
}

// GetTransaction returns the node's view of a transaction, or nil when the
// node does not know the hash. Transport failures are retried until the
// node answers.
func (c *Connector) GetTransaction(ctx context.Context, hash string) (*types.ChainTransaction, error) {
	var raw *rpcTransaction
	err := c.callWithRetry(ctx, "get_transaction", func(s *session) error {
		raw = nil
		return s.rpc.CallContext(ctx, &raw, "eth_getTransactionByHash", common.HexToHash(hash))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction %s: %w", hash, err)
	}
	if raw == nil {
		return nil, nil
	}
	return raw.toChainTransaction(), nil
}

// GetTransactionReceipt returns the receipt of a mined transaction, or nil
// when none exists yet. Transport failures are retried until the node
// answers.
func (c *Connector) GetTransactionReceipt(ctx context.Context, hash string) (*gethtypes.Receipt, error) {
	var receipt *gethtypes.Receipt
	err := c.callWithRetry(ctx, "get_transaction_receipt", func(s *session) error {
		var err error
		receipt, err = s.eth.TransactionReceipt(ctx, common.HexToHash(hash))
		return err
	})
	if errors.Is(err, ethereum.NotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get receipt for %s: %w", hash, err)
	}
	return receipt, nil
}

// GetLatestBlockNumber returns the latest block number
func (c *Connector) GetLatestBlockNumber(ctx context.Context) (uint64, error) {
	var number uint64
	err := c.call(ctx, "get_latest_block_number", func(s *session) error {
		var err error
		number, err = s.eth.BlockNumber(ctx)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to get latest block number: %w", err)
	}
	return number, nil
}

// GetGasPrice returns the node's suggested gas price in wei
func (c *Connector) GetGasPrice(ctx context.Context) (*big.Int, error) {
	var price *big.Int
	err := c.call(ctx, "get_gas_price", func(s *session) error {
		var err error
		price, err = s.eth.SuggestGasPrice(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get gas price: %w", err)
	}
	return price, nil
}

// GetNonce returns the next nonce of address including pending transactions
func (c *Connector) GetNonce(ctx context.Context, address string) (uint64, error) {
	var nonce uint64
	err := c.call(ctx, "get_nonce", func(s *session) error {
		var err error
		nonce, err = s.eth.PendingNonceAt(ctx, common.HexToAddress(address))
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to get nonce of %s: %w", address, err)
	}
	return nonce, nil
}

// GetLastMinedNonce returns the next nonce of address at the latest block
func (c *Connector) GetLastMinedNonce(ctx context.Context, address string) (uint64, error) {
	var nonce uint64
	err := c.call(ctx, "get_last_mined_nonce", func(s *session) error {
		var err error
		nonce, err = s.eth.NonceAt(ctx, common.HexToAddress(address), nil)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to get mined nonce of %s: %w", address, err)
	}
	return nonce, nil
}

// GetBalance returns the ether balance of address in wei
func (c *Connector) GetBalance(ctx context.Context, address common.Address) (*big.Int, error) {
	var balance *big.Int
	err := c.call(ctx, "get_balance", func(s *session) error {
		var err error
		balance, err = s.eth.BalanceAt(ctx, address, nil)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get balance of %s: %w", address.Hex(), err)
	}
	return balance, nil
}

// ChainID returns the chain ID
func (c *Connector) ChainID(ctx context.Context) (*big.Int, error) {
	var id *big.Int
	err := c.call(ctx, "chain_id", func(s *session) error {
		var err error
		id, err = s.eth.ChainID(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get chain ID: %w", err)
	}
	return id, nil
}

// CallContract executes a read-only contract call
func (c *Connector) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	var out []byte
	err := c.call(ctx, "call_contract", func(s *session) error {
		var err error
		out, err = s.eth.CallContract(ctx, msg, blockNumber)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to call contract: %w", err)
	}
	return out, nil
}

// GetContractTransactionHashes returns the distinct hashes of transactions
// that emitted logs from contract within [fromBlock, toBlock], in the order
// the node reported them
func (c *Connector) GetContractTransactionHashes(ctx context.Context, contract string, fromBlock, toBlock uint64) ([]string, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{common.HexToAddress(contract)},
	}

	var logs []gethtypes.Log
	err := c.call(ctx, "get_logs", func(s *session) error {
		var err error
		logs, err = s.eth.FilterLogs(ctx, query)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get logs of %s in [%d,%d]: %w", contract, fromBlock, toBlock, err)
	}

	seen := make(map[common.Hash]struct{}, len(logs))
	hashes := make([]string, 0, len(logs))
	for _, l := range logs {
		if _, ok := seen[l.TxHash]; ok {
			continue
		}
		seen[l.TxHash] = struct{}{}
		hashes = append(hashes, l.TxHash.Hex())
	}
	return hashes, nil
}

// SendRawTransaction broadcasts a signed transaction without blocking the
// caller. The channel yields exactly one result and is then closed.
func (c *Connector) SendRawTransaction(ctx context.Context, rawTx string) <-chan types.SendResult {
	out := make(chan types.SendResult, 1)
	go func() {
		defer close(out)
		var hash common.Hash
		err := c.call(ctx, "send_raw_transaction", func(s *session) error {
			return s.rpc.CallContext(ctx, &hash, "eth_sendRawTransaction", rawTx)
		})
		if err != nil {
			c.logger.Debug("raw transaction rejected", zap.Error(err))
			out <- types.SendResult{Err: err}
			return
		}
		out <- types.SendResult{Hash: hash.Hex()}
	}()
	return out
}
