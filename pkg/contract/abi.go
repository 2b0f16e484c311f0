// Package contract describes the tracked token contract: its ABI, the
// operations its methods and events map to, typed read accessors and the
// lazy refresh rules of cached contract and wallet state.
package contract

import (
	"bytes"
	_ "embed"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

//go:embed token_abi.json
var tokenABIJSON []byte

var tokenABI = mustParseABI(tokenABIJSON)

func mustParseABI(data []byte) abi.ABI {
	parsed, err := abi.JSON(bytes.NewReader(data))
	if err != nil {
		panic(fmt.Sprintf("invalid token ABI: %v", err))
	}
	return parsed
}

// ABI returns the parsed token contract ABI.
func ABI() abi.ABI {
	return tokenABI
}

// Pack encodes a call to one of the contract methods.
func Pack(method string, args ...interface{}) ([]byte, error) {
	data, err := tokenABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", method, err)
	}
	return data, nil
}

// PackInitializeAccount encodes initializeAccount(receiver, tokenAmount).
func PackInitializeAccount(receiver common.Address, tokenAmount *big.Int) ([]byte, error) {
	return Pack(OpInitializeAccount.MethodName(), receiver, tokenAmount)
}

// PackTransfer encodes transfer(receiver, amount).
func PackTransfer(receiver common.Address, amount *big.Int) ([]byte, error) {
	return Pack(OpTransfer.MethodName(), receiver, amount)
}

// PackReward encodes reward(receiver, tokenAmount, rewardAmount).
func PackReward(receiver common.Address, tokenAmount, rewardAmount *big.Int) ([]byte, error) {
	return Pack(OpReward.MethodName(), receiver, tokenAmount, rewardAmount)
}

// DecodedLog holds the parameters of one recognized log, keyed by the
// event's parameter names.
type DecodedLog struct {
	Spec EventSpec
	Args map[string]interface{}
}

// Address returns an address parameter, or an empty string.
func (d *DecodedLog) Address(name string) string {
	if v, ok := d.Args[name].(common.Address); ok {
		return v.Hex()
	}
	return ""
}

// Uint returns an unsigned integer parameter as a big.Int. Missing
// parameters yield nil.
func (d *DecodedLog) Uint(name string) *big.Int {
	switch v := d.Args[name].(type) {
	case *big.Int:
		return v
	case uint8:
		return new(big.Int).SetUint64(uint64(v))
	case uint16:
		return new(big.Int).SetUint64(uint64(v))
	case uint32:
		return new(big.Int).SetUint64(uint64(v))
	case uint64:
		return new(big.Int).SetUint64(v)
	}
	return nil
}

// DecodeLog matches the log's first topic against the known events and
// unpacks its indexed and data parameters.
func DecodeLog(log *types.Log) (*DecodedLog, error) {
	if log == nil || len(log.Topics) == 0 {
		return nil, ErrUnknownEvent
	}
	spec, ok := LookupEvent(log.Topics[0])
	if !ok {
		return nil, fmt.Errorf("%w: topic %s", ErrUnknownEvent, log.Topics[0].Hex())
	}

	args := make(map[string]interface{})
	var indexed abi.Arguments
	for _, input := range spec.Event.Inputs {
		if input.Indexed {
			indexed = append(indexed, input)
		}
	}
	if len(indexed) > 0 {
		if len(log.Topics)-1 < len(indexed) {
			return nil, fmt.Errorf("event %s: expected %d indexed parameters, got %d", spec.Name, len(indexed), len(log.Topics)-1)
		}
		if err := abi.ParseTopicsIntoMap(args, indexed, log.Topics[1:]); err != nil {
			return nil, fmt.Errorf("failed to parse indexed parameters of %s: %w", spec.Name, err)
		}
	}
	if nonIndexed := spec.Event.Inputs.NonIndexed(); len(nonIndexed) > 0 {
		if err := nonIndexed.UnpackIntoMap(args, log.Data); err != nil {
			return nil, fmt.Errorf("failed to parse data of %s: %w", spec.Name, err)
		}
	}
	return &DecodedLog{Spec: spec, Args: args}, nil
}

// DecodedCall is a decoded contract call input.
type DecodedCall struct {
	Operation Operation
	Args      map[string]interface{}
}

// DecodeCall decodes a transaction input addressed to the contract.
func DecodeCall(input []byte) (*DecodedCall, error) {
	if len(input) < 4 {
		return nil, fmt.Errorf("input too short: %d bytes", len(input))
	}
	method, err := tokenABI.MethodById(input[:4])
	if err != nil {
		return nil, fmt.Errorf("failed to resolve method: %w", err)
	}
	args := make(map[string]interface{})
	if err := method.Inputs.UnpackIntoMap(args, input[4:]); err != nil {
		return nil, fmt.Errorf("failed to decode %s input: %w", method.Name, err)
	}
	return &DecodedCall{Operation: OperationByMethod(method.Name), Args: args}, nil
}
