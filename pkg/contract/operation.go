package contract

// Operation is a semantic contract operation resolved from a method call or
// an emitted event.
type Operation int

const (
	OpUnknown Operation = iota
	OpTransfer
	OpTransferFrom
	OpApprove
	OpAddAdmin
	OpRemoveAdmin
	OpApproveAccount
	OpDisapproveAccount
	OpPause
	OpUnpause
	OpDepositFunds
	OpSetSellPrice
	OpTransferOwnership
	OpInitializeAccount
	OpReward
	OpTransformToVested
	OpUpgradeImplementation
	OpUpgradeData
)

type operationInfo struct {
	method string
	admin  bool
}

var operations = map[Operation]operationInfo{
	OpTransfer:              {method: "transfer"},
	OpTransferFrom:          {method: "transferFrom"},
	OpApprove:               {method: "approve"},
	OpAddAdmin:              {method: "addAdmin", admin: true},
	OpRemoveAdmin:           {method: "removeAdmin", admin: true},
	OpApproveAccount:        {method: "approveAccount", admin: true},
	OpDisapproveAccount:     {method: "disapproveAccount", admin: true},
	OpPause:                 {method: "pause", admin: true},
	OpUnpause:               {method: "unpause", admin: true},
	OpDepositFunds:          {method: "depositFunds", admin: true},
	OpSetSellPrice:          {method: "setSellPrice", admin: true},
	OpTransferOwnership:     {method: "transferOwnership", admin: true},
	OpInitializeAccount:     {method: "initializeAccount"},
	OpReward:                {method: "reward"},
	OpTransformToVested:     {method: "transformToVested", admin: true},
	OpUpgradeImplementation: {method: "upgradeImplementation", admin: true},
	OpUpgradeData:           {method: "upgradeData", admin: true},
}

// MethodName returns the contract method name of the operation.
func (o Operation) MethodName() string {
	return operations[o].method
}

// IsAdmin reports whether the operation is reserved to contract admins.
func (o Operation) IsAdmin() bool {
	return operations[o].admin
}

func (o Operation) String() string {
	if name := o.MethodName(); name != "" {
		return name
	}
	return "unknown"
}

// OperationByMethod resolves a method name. Unknown names give OpUnknown.
func OperationByMethod(method string) Operation {
	for op, info := range operations {
		if info.method == method {
			return op
		}
	}
	return OpUnknown
}
