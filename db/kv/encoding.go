package kv

import (
	"math/big"

	"github.com/d4mr/coredrain/encoding/bytesutil"
	"github.com/d4mr/coredrain/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
)

// Bucket values are msgpack-encoded records. Records keep addresses and
// hashes as raw bytes so the encoding stays independent of go-ethereum's
// marshaling behavior.

type evmMatchRecord struct {
	InternalHash    []byte `msgpack:"internalHash"`
	ExplorerHash    []byte `msgpack:"explorerHash"`
	BlockNumber     uint64 `msgpack:"blockNumber"`
	BlockHash       []byte `msgpack:"blockHash"`
	BlockTime       uint64 `msgpack:"blockTime"`
	ContractAddress []byte `msgpack:"contractAddress,omitempty"`
}

type transferRecord struct {
	CoreHash      []byte          `msgpack:"coreHash"`
	CoreTime      uint64          `msgpack:"coreTime"`
	Token         string          `msgpack:"token"`
	Amount        string          `msgpack:"amount"`
	Recipient     []byte          `msgpack:"recipient"`
	SystemAddress []byte          `msgpack:"systemAddress"`
	WatchedSender []byte          `msgpack:"watchedSender"`
	UsdcValue     string          `msgpack:"usdcValue,omitempty"`
	Fee           string          `msgpack:"fee,omitempty"`
	NativeFee     string          `msgpack:"nativeFee,omitempty"`
	Status        uint8           `msgpack:"status"`
	FailReason    string          `msgpack:"failReason,omitempty"`
	EVM           *evmMatchRecord `msgpack:"evm,omitempty"`
}

type anchorRecord struct {
	InternalHash       []byte `msgpack:"internalHash"`
	ExplorerHash       []byte `msgpack:"explorerHash"`
	BlockNumber        uint64 `msgpack:"blockNumber"`
	BlockHash          []byte `msgpack:"blockHash"`
	BlockTime          uint64 `msgpack:"blockTime"`
	From               []byte `msgpack:"from"`
	AssetRecipient     []byte `msgpack:"assetRecipient"`
	AmountSmallestUnit string `msgpack:"amountSmallestUnit"`
	ContractAddress    []byte `msgpack:"contractAddress,omitempty"`
}

type addressRecord struct {
	Address         []byte `msgpack:"address"`
	LastIndexedTime uint64 `msgpack:"lastIndexedTime"`
	IsActive        bool   `msgpack:"isActive"`
}

func encodeTransfer(t *types.Transfer) ([]byte, error) {
	rec := &transferRecord{
		CoreHash:      t.CoreHash.Bytes(),
		CoreTime:      t.CoreTime,
		Token:         t.Token,
		Amount:        t.Amount,
		Recipient:     t.Recipient.Bytes(),
		SystemAddress: t.SystemAddress.Bytes(),
		WatchedSender: t.WatchedSender.Bytes(),
		UsdcValue:     t.UsdcValue,
		Fee:           t.Fee,
		NativeFee:     t.NativeFee,
		Status:        uint8(t.Status),
		FailReason:    t.FailReason,
	}
	if t.EVM != nil {
		rec.EVM = &evmMatchRecord{
			InternalHash: t.EVM.InternalHash.Bytes(),
			ExplorerHash: t.EVM.ExplorerHash.Bytes(),
			BlockNumber:  t.EVM.BlockNumber,
			BlockHash:    t.EVM.BlockHash.Bytes(),
			BlockTime:    t.EVM.BlockTime,
		}
		if t.EVM.ContractAddress != nil {
			rec.EVM.ContractAddress = t.EVM.ContractAddress.Bytes()
		}
	}
	enc, err := msgpack.Marshal(rec)
	if err != nil {
		return nil, errors.Wrap(err, "could not encode transfer")
	}
	return enc, nil
}

func decodeTransfer(enc []byte) (*types.Transfer, error) {
	rec := &transferRecord{}
	if err := msgpack.Unmarshal(enc, rec); err != nil {
		return nil, errors.Wrap(err, "could not decode transfer")
	}
	t := &types.Transfer{
		CoreHash:      common.BytesToHash(rec.CoreHash),
		CoreTime:      rec.CoreTime,
		Token:         rec.Token,
		Amount:        rec.Amount,
		Recipient:     common.BytesToAddress(rec.Recipient),
		SystemAddress: common.BytesToAddress(rec.SystemAddress),
		WatchedSender: common.BytesToAddress(rec.WatchedSender),
		UsdcValue:     rec.UsdcValue,
		Fee:           rec.Fee,
		NativeFee:     rec.NativeFee,
		Status:        types.TransferStatus(rec.Status),
		FailReason:    rec.FailReason,
	}
	if rec.EVM != nil {
		t.EVM = &types.EVMMatch{
			InternalHash: common.BytesToHash(rec.EVM.InternalHash),
			ExplorerHash: common.BytesToHash(rec.EVM.ExplorerHash),
			BlockNumber:  rec.EVM.BlockNumber,
			BlockHash:    common.BytesToHash(rec.EVM.BlockHash),
			BlockTime:    rec.EVM.BlockTime,
		}
		if len(rec.EVM.ContractAddress) > 0 {
			addr := common.BytesToAddress(rec.EVM.ContractAddress)
			t.EVM.ContractAddress = &addr
		}
	}
	return t, nil
}

func encodeAnchor(a *types.AnchorTx) ([]byte, error) {
	rec := &anchorRecord{
		InternalHash:       a.InternalHash.Bytes(),
		ExplorerHash:       a.ExplorerHash.Bytes(),
		BlockNumber:        a.BlockNumber,
		BlockHash:          a.BlockHash.Bytes(),
		BlockTime:          a.BlockTime,
		From:               a.From.Bytes(),
		AssetRecipient:     a.AssetRecipient.Bytes(),
		AmountSmallestUnit: a.AmountSmallestUnit,
	}
	if a.ContractAddress != nil {
		rec.ContractAddress = a.ContractAddress.Bytes()
	}
	enc, err := msgpack.Marshal(rec)
	if err != nil {
		return nil, errors.Wrap(err, "could not encode anchor tx")
	}
	return enc, nil
}

func decodeAnchor(enc []byte) (*types.AnchorTx, error) {
	rec := &anchorRecord{}
	if err := msgpack.Unmarshal(enc, rec); err != nil {
		return nil, errors.Wrap(err, "could not decode anchor tx")
	}
	a := &types.AnchorTx{
		InternalHash:       common.BytesToHash(rec.InternalHash),
		ExplorerHash:       common.BytesToHash(rec.ExplorerHash),
		BlockNumber:        rec.BlockNumber,
		BlockHash:          common.BytesToHash(rec.BlockHash),
		BlockTime:          rec.BlockTime,
		From:               common.BytesToAddress(rec.From),
		AssetRecipient:     common.BytesToAddress(rec.AssetRecipient),
		AmountSmallestUnit: rec.AmountSmallestUnit,
	}
	if len(rec.ContractAddress) > 0 {
		addr := common.BytesToAddress(rec.ContractAddress)
		a.ContractAddress = &addr
	}
	return a, nil
}

func encodeWatchedAddress(wa *types.WatchedAddress) ([]byte, error) {
	rec := &addressRecord{
		Address:         wa.Address.Bytes(),
		LastIndexedTime: wa.LastIndexedTime,
		IsActive:        wa.IsActive,
	}
	enc, err := msgpack.Marshal(rec)
	if err != nil {
		return nil, errors.Wrap(err, "could not encode watched address")
	}
	return enc, nil
}

func decodeWatchedAddress(enc []byte) (*types.WatchedAddress, error) {
	rec := &addressRecord{}
	if err := msgpack.Unmarshal(enc, rec); err != nil {
		return nil, errors.Wrap(err, "could not decode watched address")
	}
	return &types.WatchedAddress{
		Address:         common.BytesToAddress(rec.Address),
		LastIndexedTime: rec.LastIndexedTime,
		IsActive:        rec.IsActive,
	}, nil
}

// pendingIndexKey orders pending transfers by coreTime, tie-broken by hash.
func pendingIndexKey(coreTime uint64, coreHash common.Hash) []byte {
	return append(bytesutil.Uint64ToBytesBigEndian(coreTime), coreHash.Bytes()...)
}

// anchorTimeKey orders anchors by block timestamp, tie-broken by hash.
func anchorTimeKey(blockTime uint64, internalHash common.Hash) []byte {
	return append(bytesutil.Uint64ToBytesBigEndian(blockTime), internalHash.Bytes()...)
}

// matchTuplePrefix is the fixed-width prefix shared by all anchors with the
// same (from, assetRecipient, amount) tuple. Amounts are encoded as 32-byte
// big-endian integers; EVM amounts never exceed 256 bits.
func matchTuplePrefix(from, recipient common.Address, amount *big.Int) ([]byte, error) {
	if amount == nil || amount.Sign() < 0 {
		return nil, errors.New("match amount must be a non-negative integer")
	}
	if amount.BitLen() > 256 {
		return nil, errors.Errorf("match amount %s overflows 256 bits", amount.String())
	}
	key := make([]byte, 0, 72)
	key = append(key, from.Bytes()...)
	key = append(key, recipient.Bytes()...)
	var amt [32]byte
	amount.FillBytes(amt[:])
	return append(key, amt[:]...), nil
}

// anchorMatchKey extends the tuple prefix with the anchor's position so the
// earliest match in a window is the first key the cursor lands on.
func anchorMatchKey(a *types.AnchorTx) ([]byte, error) {
	amount, ok := a.Amount()
	if !ok {
		return nil, errors.Errorf("anchor %#x carries unparseable amount %q", a.InternalHash, a.AmountSmallestUnit)
	}
	prefix, err := matchTuplePrefix(a.From, a.AssetRecipient, amount)
	if err != nil {
		return nil, err
	}
	key := append(prefix, bytesutil.Uint64ToBytesBigEndian(a.BlockTime)...)
	return append(key, a.InternalHash.Bytes()...), nil
}
