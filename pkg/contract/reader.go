package contract

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

// Caller performs read-only calls against the node.
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	GetBalance(ctx context.Context, address common.Address) (*big.Int, error)
}

// Reader exposes the contract's read accessors with Go types.
type Reader struct {
	caller  Caller
	address common.Address
}

// NewReader creates a reader bound to the contract at address.
func NewReader(caller Caller, address string) *Reader {
	return &Reader{caller: caller, address: common.HexToAddress(address)}
}

// Address returns the contract address.
func (r *Reader) Address() common.Address {
	return r.address
}

func (r *Reader) call(ctx context.Context, method string, args ...interface{}) (interface{}, error) {
	data, err := Pack(method, args...)
	if err != nil {
		return nil, err
	}
	to := r.address
	out, err := r.caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s: %w", method, err)
	}
	values, err := tokenABI.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s: %w", method, err)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("empty result from %s", method)
	}
	return values[0], nil
}

func (r *Reader) callBig(ctx context.Context, method string, args ...interface{}) (*big.Int, error) {
	v, err := r.call(ctx, method, args...)
	if err != nil {
		return nil, err
	}
	n, ok := v.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected %T result from %s", v, method)
	}
	return n, nil
}

func (r *Reader) callBool(ctx context.Context, method string, args ...interface{}) (bool, error) {
	v, err := r.call(ctx, method, args...)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("unexpected %T result from %s", v, method)
	}
	return b, nil
}

func (r *Reader) callString(ctx context.Context, method string) (string, error) {
	v, err := r.call(ctx, method)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("unexpected %T result from %s", v, method)
	}
	return s, nil
}

// BalanceOf returns the token balance in base units.
func (r *Reader) BalanceOf(ctx context.Context, account common.Address) (*big.Int, error) {
	return r.callBig(ctx, "balanceOf", account)
}

// RewardBalanceOf returns the reward balance in base units.
func (r *Reader) RewardBalanceOf(ctx context.Context, account common.Address) (*big.Int, error) {
	return r.callBig(ctx, "rewardBalanceOf", account)
}

// VestingBalanceOf returns the vested balance in base units.
func (r *Reader) VestingBalanceOf(ctx context.Context, account common.Address) (*big.Int, error) {
	return r.callBig(ctx, "vestingBalanceOf", account)
}

// AdminLevel returns the admin level of an account, 0 for non admins.
func (r *Reader) AdminLevel(ctx context.Context, account common.Address) (int, error) {
	v, err := r.call(ctx, "getAdminLevel", account)
	if err != nil {
		return 0, err
	}
	level, ok := v.(uint8)
	if !ok {
		return 0, fmt.Errorf("unexpected %T result from getAdminLevel", v)
	}
	return int(level), nil
}

// IsApprovedAccount reports whether the account may receive tokens.
func (r *Reader) IsApprovedAccount(ctx context.Context, account common.Address) (bool, error) {
	return r.callBool(ctx, "isApprovedAccount", account)
}

// IsInitializedAccount reports whether the account was initialized by an admin.
func (r *Reader) IsInitializedAccount(ctx context.Context, account common.Address) (bool, error) {
	return r.callBool(ctx, "isInitializedAccount", account)
}

// Decimals returns the token decimal exponent.
func (r *Reader) Decimals(ctx context.Context) (int, error) {
	v, err := r.call(ctx, "decimals")
	if err != nil {
		return 0, err
	}
	d, ok := v.(uint8)
	if !ok {
		return 0, fmt.Errorf("unexpected %T result from decimals", v)
	}
	return int(d), nil
}

func (r *Reader) Name(ctx context.Context) (string, error) {
	return r.callString(ctx, "name")
}

func (r *Reader) Symbol(ctx context.Context) (string, error) {
	return r.callString(ctx, "symbol")
}

// Owner returns the contract owner address.
func (r *Reader) Owner(ctx context.Context) (common.Address, error) {
	v, err := r.call(ctx, "owner")
	if err != nil {
		return common.Address{}, err
	}
	a, ok := v.(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("unexpected %T result from owner", v)
	}
	return a, nil
}

func (r *Reader) TotalSupply(ctx context.Context) (*big.Int, error) {
	return r.callBig(ctx, "totalSupply")
}

// SellPrice returns the token sell price in wei.
func (r *Reader) SellPrice(ctx context.Context) (*big.Int, error) {
	return r.callBig(ctx, "getSellPrice")
}

func (r *Reader) IsPaused(ctx context.Context) (bool, error) {
	return r.callBool(ctx, "isPaused")
}

// Version returns the implementation version.
func (r *Reader) Version(ctx context.Context) (int, error) {
	v, err := r.call(ctx, "version")
	if err != nil {
		return 0, err
	}
	version, ok := v.(uint16)
	if !ok {
		return 0, fmt.Errorf("unexpected %T result from version", v)
	}
	return int(version), nil
}

// EtherBalance returns the native balance of an account in wei.
func (r *Reader) EtherBalance(ctx context.Context, account common.Address) (*big.Int, error) {
	balance, err := r.caller.GetBalance(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("failed to get ether balance of %s: %w", account.Hex(), err)
	}
	return balance, nil
}
