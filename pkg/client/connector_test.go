package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// ---- Mock JSON-RPC Server Infrastructure ----

type jrpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      json.RawMessage `json:"id"`
}

type jrpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *jrpcError      `json:"error,omitempty"`
	ID      json.RawMessage `json:"id"`
}

type jrpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// errUnavailable makes the mock answer with HTTP 503 instead of a JSON-RPC body
var errUnavailable = &jrpcError{Code: http.StatusServiceUnavailable}

type methodHandler func(params json.RawMessage) (json.RawMessage, *jrpcError)

func newMockRPCServer(t *testing.T, handlers map[string]methodHandler) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "bad request", 400)
			return
		}
		defer r.Body.Close()

		w.Header().Set("Content-Type", "application/json")

		trimmed := strings.TrimSpace(string(body))
		if strings.HasPrefix(trimmed, "[") {
			var reqs []jrpcRequest
			if err := json.Unmarshal(body, &reqs); err != nil {
				http.Error(w, "invalid batch", 400)
				return
			}
			var responses []jrpcResponse
			for _, req := range reqs {
				responses = append(responses, dispatchRequest(req, handlers))
			}
			json.NewEncoder(w).Encode(responses)
			return
		}

		var req jrpcRequest
		if err := json.Unmarshal(body, &req); err != nil {
			http.Error(w, "invalid request", 400)
			return
		}
		resp := dispatchRequest(req, handlers)
		if resp.Error == errUnavailable {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(server.Close)
	return server
}

func dispatchRequest(req jrpcRequest, handlers map[string]methodHandler) jrpcResponse {
	resp := jrpcResponse{JSONRPC: "2.0", ID: req.ID}
	handler, ok := handlers[req.Method]
	if !ok {
		resp.Error = &jrpcError{Code: -32601, Message: "method not found: " + req.Method}
		return resp
	}
	result, rpcErr := handler(req.Params)
	if rpcErr != nil {
		resp.Error = rpcErr
	} else {
		resp.Result = result
	}
	return resp
}

// ---- JSON Response Helpers ----

func zeroLogsBloom() string {
	return "0x" + strings.Repeat("00", 256)
}

func makeHeaderJSON(number uint64) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{
		"parentHash":"0x0000000000000000000000000000000000000000000000000000000000000000",
		"sha3Uncles":"0x1dcc4de8dec75d7aab85b567b6ccd41ad312451b948a7413f0a142fd40d49347",
		"miner":"0x0000000000000000000000000000000000000000",
		"stateRoot":"0x0000000000000000000000000000000000000000000000000000000000000000",
		"transactionsRoot":"0x56e81f171bcc55a6ff8345e692c0f86e5b48e01b996cadc001622fb5e363b421",
		"receiptsRoot":"0x56e81f171bcc55a6ff8345e692c0f86e5b48e01b996cadc001622fb5e363b421",
		"logsBloom":"%s",
		"difficulty":"0x0",
		"number":"0x%x",
		"gasLimit":"0x1000000",
		"gasUsed":"0x0",
		"timestamp":"0x%x",
		"extraData":"0x",
		"mixHash":"0x0000000000000000000000000000000000000000000000000000000000000000",
		"nonce":"0x0000000000000000",
		"baseFeePerGas":"0x0"
	}`, zeroLogsBloom(), number, 1700000000+number))
}

func makeLogJSON(txHash string, index int) string {
	return fmt.Sprintf(`{
		"address":"0x00000000000000000000000000000000000000c0",
		"topics":["0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef"],
		"data":"0x",
		"blockNumber":"0x5",
		"transactionHash":"%s",
		"transactionIndex":"0x0",
		"blockHash":"0xb903239f8543d04b5dc1ba6579132b143087c68db1b2168786408fcbce568238",
		"logIndex":"0x%x",
		"removed":false
	}`, txHash, index)
}

func chainIDHandler() methodHandler {
	return func(_ json.RawMessage) (json.RawMessage, *jrpcError) {
		return json.RawMessage(`"0x539"`), nil
	}
}

func staticHandler(result string) methodHandler {
	return func(_ json.RawMessage) (json.RawMessage, *jrpcError) {
		return json.RawMessage(result), nil
	}
}

func rpcErrorHandler(msg string) methodHandler {
	return func(_ json.RawMessage) (json.RawMessage, *jrpcError) {
		return nil, &jrpcError{Code: -32000, Message: msg}
	}
}

func blockNumberParam(params json.RawMessage) uint64 {
	var args []json.RawMessage
	if err := json.Unmarshal(params, &args); err != nil || len(args) == 0 {
		return 0
	}
	var tag string
	if err := json.Unmarshal(args[0], &tag); err != nil {
		return 0
	}
	n, _ := hexutil.DecodeUint64(tag)
	return n
}

func testConfig(endpoint string) *Config {
	return &Config{
		Endpoint:        endpoint,
		DialTimeout:     time.Second,
		CheckInterval:   10 * time.Millisecond,
		MaxBackoff:      50 * time.Millisecond,
		RetryDelay:      5 * time.Millisecond,
		PollingInterval: 20 * time.Millisecond,
		ReplayRate:      1000,
		Metrics:         NewMetrics(prometheus.NewRegistry(), "test"),
	}
}

func newTestConnector(t *testing.T, handlers map[string]methodHandler) *Connector {
	t.Helper()
	if _, ok := handlers["eth_chainId"]; !ok {
		handlers["eth_chainId"] = chainIDHandler()
	}
	server := newMockRPCServer(t, handlers)

	c, err := NewConnector(testConfig(server.URL))
	require.NoError(t, err)
	c.Start(context.Background())
	t.Cleanup(c.Stop)
	return c
}

func callCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// ---- Tests ----

func TestValidateEndpoint(t *testing.T) {
	tests := []struct {
		endpoint string
		valid    bool
	}{
		{"ws://localhost:8546", true},
		{"wss://node.example.com/ws", true},
		{"http://127.0.0.1:8545", true},
		{"https://node.example.com", true},
		{"", false},
		{"   ", false},
		{"ftp://node.example.com", false},
		{"localhost:8545", false},
		{"http://", false},
	}

	for _, tt := range tests {
		t.Run(tt.endpoint, func(t *testing.T) {
			err := ValidateEndpoint(tt.endpoint)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidEndpoint)
			}
		})
	}
}

type codedError struct{}

func (codedError) Error() string  { return "execution reverted" }
func (codedError) ErrorCode() int { return 3 }

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"http 503", rpc.HTTPError{StatusCode: 503, Status: "503 Service Unavailable"}, true},
		{"http 400", rpc.HTTPError{StatusCode: 400, Status: "400 Bad Request"}, false},
		{"json-rpc error", codedError{}, false},
		{"wrapped json-rpc error", fmt.Errorf("call: %w", codedError{}), false},
		{"eof", io.EOF, true},
		{"client quit", rpc.ErrClientQuit, true},
		{"net op error", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("refused")}, true},
		{"not found", ethereum.NotFound, false},
		{"canceled", context.Canceled, false},
		{"stopping", ErrServiceStopping, false},
		{"other", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isTransient(tt.err))
		})
	}
}

func TestNewConnector(t *testing.T) {
	_, err := NewConnector(nil)
	assert.Error(t, err)

	c, err := NewConnector(&Config{Endpoint: "http://localhost:8545"})
	require.NoError(t, err)
	assert.Equal(t, DefaultCheckInterval, c.cfg.CheckInterval)
	assert.Equal(t, DefaultPollingInterval, c.cfg.PollingInterval)
	assert.Equal(t, StateDisconnected, c.State())
}

func TestConnector_WaitsForConnection(t *testing.T) {
	server := newMockRPCServer(t, map[string]methodHandler{
		"eth_chainId":     chainIDHandler(),
		"eth_blockNumber": staticHandler(`"0x10"`),
	})
	c, err := NewConnector(testConfig(server.URL))
	require.NoError(t, err)
	defer c.Stop()

	result := make(chan uint64, 1)
	go func() {
		n, err := c.GetLatestBlockNumber(callCtx(t))
		assert.NoError(t, err)
		result <- n
	}()

	// the call is parked until the supervisor connects
	time.Sleep(20 * time.Millisecond)
	c.Start(context.Background())

	select {
	case n := <-result:
		assert.Equal(t, uint64(16), n)
	case <-time.After(5 * time.Second):
		t.Fatal("call did not complete after connect")
	}
	assert.Equal(t, StateConnected, c.State())
}

func TestConnector_ReadOperations(t *testing.T) {
	c := newTestConnector(t, map[string]methodHandler{
		"eth_gasPrice":   staticHandler(`"0x3b9aca00"`),
		"eth_getBalance": staticHandler(`"0xde0b6b3a7640000"`),
		"eth_getTransactionCount": func(params json.RawMessage) (json.RawMessage, *jrpcError) {
			if strings.Contains(string(params), "pending") {
				return json.RawMessage(`"0x7"`), nil
			}
			return json.RawMessage(`"0x5"`), nil
		},
	})
	ctx := callCtx(t)

	price, err := c.GetGasPrice(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1000000000), price.Int64())

	nonce, err := c.GetNonce(ctx, "0x00000000000000000000000000000000000000a1")
	require.NoError(t, err)
	assert.Equal(t, uint64(7), nonce)

	mined, err := c.GetLastMinedNonce(ctx, "0x00000000000000000000000000000000000000a1")
	require.NoError(t, err)
	assert.Equal(t, uint64(5), mined)

	balance, err := c.GetBalance(ctx, common.HexToAddress("0xa1"))
	require.NoError(t, err)
	assert.Equal(t, "1000000000000000000", balance.String())

	id, err := c.ChainID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1337), id.Int64())
}

func TestConnector_GetTransaction(t *testing.T) {
	const hash = "0x5c504ed432cb51138bcf09aa5e8a410dd4a1e204ef84bfed1be16dfba1b22060"
	c := newTestConnector(t, map[string]methodHandler{
		"eth_getTransactionByHash": staticHandler(`{
			"hash":"` + hash + `",
			"from":"0x00000000000000000000000000000000000000a1",
			"to":"0x00000000000000000000000000000000000000c0",
			"value":"0x0",
			"gasPrice":"0x3b9aca00",
			"nonce":"0x2",
			"blockHash":"0xb903239f8543d04b5dc1ba6579132b143087c68db1b2168786408fcbce568238",
			"blockNumber":"0x9",
			"input":"0xa9059cbb"
		}`),
	})

	tx, err := c.GetTransaction(callCtx(t), hash)
	require.NoError(t, err)
	require.NotNil(t, tx)
	assert.True(t, tx.IsMined())
	assert.Equal(t, common.HexToAddress("0xa1"), tx.From)
	assert.Equal(t, uint64(2), tx.Nonce)
	assert.Equal(t, int64(9), tx.BlockNumber.Int64())
	assert.Equal(t, []byte{0xa9, 0x05, 0x9c, 0xbb}, tx.Input)
}

func TestConnector_UnknownHashIsNotAnError(t *testing.T) {
	c := newTestConnector(t, map[string]methodHandler{
		"eth_getTransactionByHash":  staticHandler(`null`),
		"eth_getTransactionReceipt": staticHandler(`null`),
	})
	ctx := callCtx(t)

	tx, err := c.GetTransaction(ctx, "0x01")
	assert.NoError(t, err)
	assert.Nil(t, tx)

	receipt, err := c.GetTransactionReceipt(ctx, "0x01")
	assert.NoError(t, err)
	assert.Nil(t, receipt)
}

func TestConnector_RetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	c := newTestConnector(t, map[string]methodHandler{
		"eth_getTransactionByHash": func(_ json.RawMessage) (json.RawMessage, *jrpcError) {
			if calls.Add(1) <= 2 {
				return nil, errUnavailable
			}
			return json.RawMessage(`null`), nil
		},
	})

	tx, err := c.GetTransaction(callCtx(t), "0x01")
	assert.NoError(t, err)
	assert.Nil(t, tx)
	assert.Equal(t, int32(3), calls.Load())
}

func TestConnector_DefinitiveErrorIsReturned(t *testing.T) {
	var calls atomic.Int32
	c := newTestConnector(t, map[string]methodHandler{
		"eth_getTransactionByHash": func(_ json.RawMessage) (json.RawMessage, *jrpcError) {
			calls.Add(1)
			return nil, &jrpcError{Code: -32602, Message: "invalid argument"}
		},
	})

	_, err := c.GetTransaction(callCtx(t), "0x01")
	assert.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestConnector_GetContractTransactionHashes(t *testing.T) {
	const (
		h1 = "0x1111111111111111111111111111111111111111111111111111111111111111"
		h2 = "0x2222222222222222222222222222222222222222222222222222222222222222"
	)
	c := newTestConnector(t, map[string]methodHandler{
		"eth_getLogs": staticHandler(`[` +
			makeLogJSON(h2, 0) + `,` +
			makeLogJSON(h1, 1) + `,` +
			makeLogJSON(h2, 2) + `]`),
	})

	hashes, err := c.GetContractTransactionHashes(callCtx(t), "0x00000000000000000000000000000000000000c0", 1, 9)
	require.NoError(t, err)
	assert.Equal(t, []string{h2, h1}, hashes)
}

func TestConnector_SendRawTransaction(t *testing.T) {
	const hash = "0x5c504ed432cb51138bcf09aa5e8a410dd4a1e204ef84bfed1be16dfba1b22060"

	t.Run("accepted", func(t *testing.T) {
		c := newTestConnector(t, map[string]methodHandler{
			"eth_sendRawTransaction": staticHandler(`"` + hash + `"`),
		})
		res := <-c.SendRawTransaction(callCtx(t), "0xf86b")
		require.NoError(t, res.Err)
		assert.Equal(t, hash, res.Hash)
	})

	t.Run("rejected", func(t *testing.T) {
		c := newTestConnector(t, map[string]methodHandler{
			"eth_sendRawTransaction": rpcErrorHandler("nonce too low"),
		})
		res := <-c.SendRawTransaction(callCtx(t), "0xf86b")
		require.Error(t, res.Err)
		assert.Contains(t, res.Err.Error(), "nonce too low")
	})
}

func TestConnector_StopReleasesWaiters(t *testing.T) {
	// nothing listens here, so the connector never connects
	c, err := NewConnector(testConfig("http://127.0.0.1:1"))
	require.NoError(t, err)
	c.Start(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := c.GetLatestBlockNumber(context.Background())
		done <- err
	}()

	time.Sleep(30 * time.Millisecond)
	c.Stop()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrServiceStopping)
	case <-time.After(5 * time.Second):
		t.Fatal("waiter not released by Stop")
	}

	_, err = c.GetGasPrice(context.Background())
	assert.ErrorIs(t, err, ErrServiceStopping)
}

func TestConnector_MisconfiguredEndpointLoggedOnce(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	server := newMockRPCServer(t, map[string]methodHandler{
		"eth_chainId":     chainIDHandler(),
		"eth_blockNumber": staticHandler(`"0x2"`),
	})

	cfg := testConfig("ftp://node.invalid")
	cfg.Logger = zap.New(core)
	c, err := NewConnector(cfg)
	require.NoError(t, err)
	c.Start(context.Background())
	defer c.Stop()

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, StateDisconnected, c.State())
	assert.Equal(t, 1, logs.Len())

	c.SetEndpoint(server.URL)
	n, err := c.GetLatestBlockNumber(callCtx(t))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), n)
}

func TestConnector_SetWatermarkIsMonotonic(t *testing.T) {
	c, err := NewConnector(testConfig("http://localhost:8545"))
	require.NoError(t, err)

	_, ok := c.Watermark()
	assert.False(t, ok)

	c.SetWatermark(20)
	c.SetWatermark(10)
	wm, ok := c.Watermark()
	assert.True(t, ok)
	assert.Equal(t, uint64(20), wm)
}

func TestConnector_SubscribeMinedBlocksPolling(t *testing.T) {
	var (
		mu   sync.Mutex
		head uint64 = 3
	)
	c := newTestConnector(t, map[string]methodHandler{
		"eth_blockNumber": func(_ json.RawMessage) (json.RawMessage, *jrpcError) {
			mu.Lock()
			defer mu.Unlock()
			return json.RawMessage(fmt.Sprintf(`"0x%x"`, head)), nil
		},
		"eth_getBlockByNumber": func(params json.RawMessage) (json.RawMessage, *jrpcError) {
			return makeHeaderJSON(blockNumberParam(params)), nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	feed := c.SubscribeMinedBlocks(ctx, 1)

	next := func() uint64 {
		select {
		case b, ok := <-feed:
			require.True(t, ok)
			return b.Number
		case <-time.After(5 * time.Second):
			t.Fatal("no block delivered")
			return 0
		}
	}

	assert.Equal(t, []uint64{1, 2, 3}, []uint64{next(), next(), next()})

	mu.Lock()
	head = 5
	mu.Unlock()
	assert.Equal(t, []uint64{4, 5}, []uint64{next(), next()})

	cancel()
	for range feed {
	}
}

func TestConnector_FeedResumesAfterWatermark(t *testing.T) {
	c := newTestConnector(t, map[string]methodHandler{
		"eth_blockNumber": staticHandler(`"0x8"`),
		"eth_getBlockByNumber": func(params json.RawMessage) (json.RawMessage, *jrpcError) {
			return makeHeaderJSON(blockNumberParam(params)), nil
		},
	})
	c.SetWatermark(6)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	feed := c.SubscribeMinedBlocks(ctx, 1)

	select {
	case b := <-feed:
		assert.Equal(t, uint64(7), b.Number)
		assert.Equal(t, uint64(1700000007), b.Timestamp)
	case <-time.After(5 * time.Second):
		t.Fatal("no block delivered")
	}
}
