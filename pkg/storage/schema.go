package storage

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// Key prefixes
const (
	prefixMeta      = "/meta/"
	prefixTxs       = "/data/tx/"
	prefixContracts = "/data/contract/"
	prefixWallets   = "/data/wallet/"
	prefixPending   = "/index/pending/"

	keyWatermark = prefixMeta + "watermark/"
	keyAdminKey  = prefixMeta + "adminkey"
)

func normalizeKeyPart(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// TransactionKey returns the key of a transaction record.
func TransactionKey(networkID uint64, hash string) []byte {
	return []byte(fmt.Sprintf("%s%d/%s", prefixTxs, networkID, normalizeKeyPart(hash)))
}

// PendingIndexKey returns the pending index entry of a transaction.
func PendingIndexKey(networkID uint64, hash string) []byte {
	return []byte(fmt.Sprintf("%s%d/%s", prefixPending, networkID, normalizeKeyPart(hash)))
}

// PendingIndexPrefix returns the prefix of all pending entries of a network.
func PendingIndexPrefix(networkID uint64) []byte {
	return []byte(fmt.Sprintf("%s%d/", prefixPending, networkID))
}

// WatermarkKey returns the key of the last watched block of a network.
func WatermarkKey(networkID uint64) []byte {
	return []byte(fmt.Sprintf("%s%d", keyWatermark, networkID))
}

// AdminKeyKey returns the key of the encrypted admin wallet key.
func AdminKeyKey() []byte {
	return []byte(keyAdminKey)
}

// ContractKey returns the key of a contract snapshot.
func ContractKey(networkID uint64, address string) []byte {
	return []byte(fmt.Sprintf("%s%d/%s", prefixContracts, networkID, normalizeKeyPart(address)))
}

// WalletKey returns the key of a wallet record.
func WalletKey(address string) []byte {
	return []byte(prefixWallets + normalizeKeyPart(address))
}

// EncodeUint64 encodes a uint64 in big-endian order
func EncodeUint64(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}

// DecodeUint64 decodes a big-endian uint64
func DecodeUint64(data []byte) (uint64, error) {
	if len(data) != 8 {
		return 0, fmt.Errorf("%w: expected 8 bytes, got %d", ErrInvalidData, len(data))
	}
	return binary.BigEndian.Uint64(data), nil
}
