package contract

import (
	"context"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/0xmhha/tokenwallet-go/pkg/types"
)

// OperationSet is a set of operations observed since the last refresh.
type OperationSet map[Operation]struct{}

// NewOperationSet builds a set from operations.
func NewOperationSet(ops ...Operation) OperationSet {
	set := make(OperationSet, len(ops))
	for _, op := range ops {
		set.Add(op)
	}
	return set
}

// OperationSetFromMethods builds a set from contract method names, ignoring
// unknown ones.
func OperationSetFromMethods(methods ...string) OperationSet {
	set := make(OperationSet, len(methods))
	for _, m := range methods {
		if op := OperationByMethod(m); op != OpUnknown {
			set.Add(op)
		}
	}
	return set
}

func (s OperationSet) Add(op Operation) {
	s[op] = struct{}{}
}

// Intersects reports whether any of ops is in the set.
func (s OperationSet) Intersects(ops OperationSet) bool {
	for op := range ops {
		if _, ok := s[op]; ok {
			return true
		}
	}
	return false
}

// Operations that may change each cached field.
var (
	tokenBalanceOps   = NewOperationSet(OpReward, OpInitializeAccount, OpTransformToVested, OpTransfer, OpTransferFrom, OpApprove)
	rewardBalanceOps  = NewOperationSet(OpReward)
	vestingBalanceOps = NewOperationSet(OpTransformToVested)
	adminLevelOps     = NewOperationSet(OpTransferOwnership, OpRemoveAdmin, OpAddAdmin)
	approvalOps       = NewOperationSet(OpInitializeAccount, OpAddAdmin, OpRemoveAdmin, OpApproveAccount, OpDisapproveAccount, OpTransferOwnership)
	initializationOps = NewOperationSet(OpInitializeAccount)

	contractTypeOps  = NewOperationSet(OpUpgradeImplementation, OpUpgradeData)
	ownerOps         = NewOperationSet(OpTransferOwnership)
	sellPriceOps     = NewOperationSet(OpSetSellPrice)
	pausedOps        = NewOperationSet(OpPause, OpUnpause)
	contractEtherOps = NewOperationSet(OpDepositFunds, OpTransfer, OpTransferFrom, OpApprove)
)

// RefreshWallet re-reads the chain fields of w that the observed operations
// may have modified. A wallet never refreshed before is read entirely.
func (r *Reader) RefreshWallet(ctx context.Context, w *types.Wallet, decimals int, observed OperationSet) error {
	account := common.HexToAddress(w.Address)
	all := !w.Refreshed

	if all || observed.Intersects(tokenBalanceOps) {
		balance, err := r.BalanceOf(ctx, account)
		if err != nil {
			return err
		}
		w.TokenBalance = types.ToDecimal(balance, decimals)
	}
	if all || observed.Intersects(rewardBalanceOps) {
		balance, err := r.RewardBalanceOf(ctx, account)
		if err != nil {
			return err
		}
		w.RewardBalance = types.ToDecimal(balance, decimals)
	}
	if all || observed.Intersects(vestingBalanceOps) {
		balance, err := r.VestingBalanceOf(ctx, account)
		if err != nil {
			return err
		}
		w.VestingBalance = types.ToDecimal(balance, decimals)
	}
	if all || observed.Intersects(adminLevelOps) {
		level, err := r.AdminLevel(ctx, account)
		if err != nil {
			return err
		}
		w.AdminLevel = level
	}
	if all || observed.Intersects(approvalOps) {
		approved, err := r.IsApprovedAccount(ctx, account)
		if err != nil {
			return err
		}
		w.IsApproved = approved
	}
	if w.IsApproved {
		w.IsInitialized = true
	} else if all || observed.Intersects(initializationOps) {
		initialized, err := r.IsInitializedAccount(ctx, account)
		if err != nil {
			return err
		}
		w.IsInitialized = initialized
	}

	balance, err := r.EtherBalance(ctx, account)
	if err != nil {
		return err
	}
	w.EtherBalance = types.WeiToEther(balance)
	w.Refreshed = true
	return nil
}

// RefreshContractDetail re-reads the fields of d that are unset or that the
// observed operations may have modified.
func (r *Reader) RefreshContractDetail(ctx context.Context, d *types.ContractDetail, observed OperationSet) error {
	first := d.ContractType == ""

	if first || observed.Intersects(contractTypeOps) {
		version, err := r.Version(ctx)
		if err != nil {
			return err
		}
		d.ContractType = strconv.Itoa(version)
	}
	if d.Decimals == 0 {
		decimals, err := r.Decimals(ctx)
		if err != nil {
			return err
		}
		d.Decimals = decimals
	}
	if d.Name == "" {
		name, err := r.Name(ctx)
		if err != nil {
			return err
		}
		d.Name = name
	}
	if d.Symbol == "" {
		symbol, err := r.Symbol(ctx)
		if err != nil {
			return err
		}
		d.Symbol = symbol
	}
	if d.Owner == "" || observed.Intersects(ownerOps) {
		owner, err := r.Owner(ctx)
		if err != nil {
			return err
		}
		d.Owner = owner.Hex()
	}
	if d.TotalSupply.IsZero() {
		supply, err := r.TotalSupply(ctx)
		if err != nil {
			return err
		}
		d.TotalSupply = types.ToDecimal(supply, d.Decimals)
	}
	if first || d.SellPrice.IsZero() || observed.Intersects(sellPriceOps) {
		price, err := r.SellPrice(ctx)
		if err != nil {
			return err
		}
		d.SellPrice = types.WeiToEther(price)
	}
	if first || observed.Intersects(pausedOps) {
		paused, err := r.IsPaused(ctx)
		if err != nil {
			return err
		}
		d.IsPaused = paused
	}
	if first || observed.Intersects(contractEtherOps) {
		balance, err := r.EtherBalance(ctx, r.address)
		if err != nil {
			return err
		}
		d.EtherBalance = types.WeiToEther(balance)
	}
	if d.Address == "" {
		d.Address = r.address.Hex()
	}
	return nil
}
