package admin

import "errors"

// Business errors, fatal only to the requested operation.
var (
	// ErrAdminWalletMissing is returned when no admin key was created
	ErrAdminWalletMissing = errors.New("no admin wallet is set")

	// ErrAdminWalletExists is returned when creating a second admin key
	ErrAdminWalletExists = errors.New("admin wallet already exists")

	// ErrInvalidPrivateKey is returned for a malformed imported key
	ErrInvalidPrivateKey = errors.New("invalid private key")

	// ErrAdminLevelTooLow is returned when the admin wallet lacks privileges
	ErrAdminLevelTooLow = errors.New("admin wallet has not enough privileges")

	// ErrReceiverNotApproved is returned when the receiver is not approved
	ErrReceiverNotApproved = errors.New("receiver is not approved")

	// ErrAlreadyInitialized is returned when initializing an initialized account
	ErrAlreadyInitialized = errors.New("account is already initialized")

	// ErrUnknownWallet is returned when the receiver is not in the wallet directory
	ErrUnknownWallet = errors.New("receiver is not a known wallet")

	// ErrInsufficientTokenBalance is returned when the admin lacks tokens
	ErrInsufficientTokenBalance = errors.New("admin wallet has not enough tokens")

	// ErrInsufficientEtherBalance is returned when the admin lacks ether
	ErrInsufficientEtherBalance = errors.New("admin wallet has not enough ether")

	// ErrInvalidAmount is returned for a missing or negative amount
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInvalidReceiver is returned for a malformed receiver address
	ErrInvalidReceiver = errors.New("invalid receiver address")
)
