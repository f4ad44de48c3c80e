// Package types defines the domain entities shared across the coredrain
// services: bridge transfers observed on the CORE ledger, anchor transactions
// observed on the EVM chain, watched-address cursors, and the transient block
// representations exchanged with the block fetchers.
package types

import (
	"github.com/ethereum/go-ethereum/common"
)

// TransferStatus describes the correlation state of a bridge transfer.
type TransferStatus uint8

const (
	// StatusPending indicates the transfer awaits correlation.
	StatusPending TransferStatus = iota
	// StatusMatched indicates the EVM transaction has been found.
	StatusMatched
	// StatusFailed indicates an exhaustive search concluded without a match.
	StatusFailed
)

// String returns the canonical lowercase name of the status.
func (s TransferStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusMatched:
		return "matched"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// EVMMatch holds the EVM-side identifiers of a correlated transfer. All
// fields are populated together when a transfer reaches StatusMatched.
type EVMMatch struct {
	InternalHash    common.Hash
	ExplorerHash    common.Hash
	BlockNumber     uint64
	BlockHash       common.Hash
	BlockTime       uint64          // ms
	ContractAddress *common.Address // nil for the native asset
}

// Transfer is an outgoing spot transfer from a watched sender on the CORE
// ledger, awaiting or holding its EVM correlation. CoreHash is the identity.
type Transfer struct {
	CoreHash      common.Hash
	CoreTime      uint64 // ms
	Token         string
	Amount        string // human-scale decimal string
	Recipient     common.Address
	SystemAddress common.Address
	WatchedSender common.Address
	UsdcValue     string
	Fee           string
	NativeFee     string

	Status     TransferStatus
	FailReason string
	EVM        *EVMMatch // nil unless Status == StatusMatched
}

// Copy returns a deep copy of the transfer.
func (t *Transfer) Copy() *Transfer {
	if t == nil {
		return nil
	}
	c := *t
	if t.EVM != nil {
		evm := *t.EVM
		if t.EVM.ContractAddress != nil {
			addr := *t.EVM.ContractAddress
			evm.ContractAddress = &addr
		}
		c.EVM = &evm
	}
	return &c
}
