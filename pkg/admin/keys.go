package admin

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/0xmhha/tokenwallet-go/pkg/storage"
	"github.com/0xmhha/tokenwallet-go/pkg/types"
)

// adminOwner is the directory owner of the admin wallet
const adminOwner = "admin"

// CreateAdminWallet imports privateKeyHex as the admin key, or generates a
// new key when it is empty, and stores it encrypted. An existing admin key
// is never overwritten.
func (f *Facade) CreateAdminWallet(ctx context.Context, privateKeyHex string) (string, error) {
	f.keyMu.Lock()
	defer f.keyMu.Unlock()

	if _, err := f.store.AdminKey(ctx); err == nil {
		return "", ErrAdminWalletExists
	} else if !errors.Is(err, storage.ErrNotFound) {
		return "", fmt.Errorf("failed to read admin key: %w", err)
	}
	if f.cfg.KeystorePassword == "" {
		return "", errors.New("keystore password is required")
	}

	var (
		priv *ecdsa.PrivateKey
		err  error
	)
	if privateKeyHex == "" {
		priv, err = crypto.GenerateKey()
		if err != nil {
			return "", fmt.Errorf("failed to generate admin key: %w", err)
		}
	} else {
		priv, err = crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
		}
	}

	key := &keystore.Key{
		Id:         uuid.New(),
		Address:    crypto.PubkeyToAddress(priv.PublicKey),
		PrivateKey: priv,
	}
	keyJSON, err := keystore.EncryptKey(key, f.cfg.KeystorePassword, keystore.LightScryptN, keystore.LightScryptP)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt admin key: %w", err)
	}
	if err := f.store.SaveAdminKey(ctx, keyJSON); err != nil {
		return "", fmt.Errorf("failed to save admin key: %w", err)
	}
	f.key = priv

	address := key.Address.Hex()
	if err := f.registerAdminWallet(ctx, address); err != nil {
		f.logger.Warn("failed to register admin wallet", zap.String("wallet", address), zap.Error(err))
	}
	f.logger.Info("admin wallet created", zap.String("wallet", address))
	return address, nil
}

// registerAdminWallet adds the admin wallet to the directory so its chain
// fields are refreshed like any other wallet.
func (f *Facade) registerAdminWallet(ctx context.Context, address string) error {
	if _, err := f.store.FindWallet(ctx, address); err == nil {
		return nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	return f.store.SaveWallet(ctx, &types.Wallet{Address: address, Owner: adminOwner})
}

// AdminAddress returns the admin wallet address.
func (f *Facade) AdminAddress(ctx context.Context) (string, error) {
	key, err := f.adminKey(ctx)
	if err != nil {
		return "", err
	}
	return crypto.PubkeyToAddress(key.PublicKey).Hex(), nil
}

// adminKey returns the decrypted admin key, reading the store once.
func (f *Facade) adminKey(ctx context.Context) (*ecdsa.PrivateKey, error) {
	f.keyMu.Lock()
	defer f.keyMu.Unlock()
	if f.key != nil {
		return f.key, nil
	}

	keyJSON, err := f.store.AdminKey(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrAdminWalletMissing
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read admin key: %w", err)
	}
	key, err := keystore.DecryptKey(keyJSON, f.cfg.KeystorePassword)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt admin key: %w", err)
	}
	f.key = key.PrivateKey
	return f.key, nil
}
