// Package core provides a typed client for the CORE ledger's info API: the
// per-user non-funding ledger history consumed by the indexer fleet and the
// spot token metadata consumed by the asset cache.
package core

import (
	"context"
	"encoding/json"

	"github.com/d4mr/coredrain/api/client"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

const infoPath = "/info"

const (
	kindLedgerUpdates = "userNonFundingLedgerUpdates"
	kindSpotMeta      = "spotMeta"
	// DeltaSpotTransfer marks the ledger entries the bridge cares about.
	DeltaSpotTransfer = "spotTransfer"
)

// Client provides a collection of helper methods for calling the CORE info
// API endpoints.
type Client struct {
	*client.Client
}

// NewClient returns a new Client populated from the host and functional
// options, ex core.WithTimeout.
func NewClient(host string, opts ...client.ClientOpt) (*Client, error) {
	c, err := client.NewClient(host, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{c}, nil
}

// LedgerUpdate is one entry of a user's non-funding ledger history, ascending
// by time. Time is a ms timestamp and Hash identifies the CORE transaction.
type LedgerUpdate struct {
	Time  uint64       `json:"time"`
	Hash  common.Hash  `json:"hash"`
	Delta *LedgerDelta `json:"delta"`
}

// LedgerDelta is the payload of a ledger entry. Only entries with
// Kind == DeltaSpotTransfer carry the transfer fields.
type LedgerDelta struct {
	Kind           string         `json:"kind"`
	Token          string         `json:"token"`
	Amount         string         `json:"amount"`
	User           common.Address `json:"user"`
	Destination    common.Address `json:"destination"`
	UsdcValue      string         `json:"usdcValue"`
	Fee            string         `json:"fee"`
	NativeTokenFee string         `json:"nativeTokenFee"`
}

// EvmContract describes the EVM deployment of a spot token.
type EvmContract struct {
	Address          common.Address `json:"address"`
	ExtraWeiDecimals int            `json:"evm_extra_wei_decimals"`
}

// Token is one entry of the spot token universe.
type Token struct {
	Name        string       `json:"name"`
	Index       int          `json:"index"`
	WeiDecimals int          `json:"weiDecimals"`
	EvmContract *EvmContract `json:"evmContract"`
}

// SpotMeta is the spot metadata document.
type SpotMeta struct {
	Tokens []Token `json:"tokens"`
}

type ledgerUpdatesRequest struct {
	Kind      string         `json:"kind"`
	User      common.Address `json:"user"`
	StartTime uint64         `json:"startTime"`
}

type spotMetaRequest struct {
	Kind string `json:"kind"`
}

// LedgerUpdates returns the user's non-funding ledger entries at or after
// startTime (ms), ascending by time. A 429 from the server surfaces as
// *client.RateLimitError.
func (c *Client) LedgerUpdates(ctx context.Context, user common.Address, startTime uint64) ([]LedgerUpdate, error) {
	body, err := json.Marshal(&ledgerUpdatesRequest{
		Kind:      kindLedgerUpdates,
		User:      user,
		StartTime: startTime,
	})
	if err != nil {
		return nil, err
	}
	b, err := c.Post(ctx, infoPath, body)
	if err != nil {
		return nil, errors.Wrapf(err, "error requesting ledger updates for %#x", user)
	}
	var updates []LedgerUpdate
	if err := json.Unmarshal(b, &updates); err != nil {
		return nil, errors.Wrap(err, "error decoding ledger updates response")
	}
	return updates, nil
}

// SpotMeta returns the spot token universe.
func (c *Client) SpotMeta(ctx context.Context) (*SpotMeta, error) {
	body, err := json.Marshal(&spotMetaRequest{Kind: kindSpotMeta})
	if err != nil {
		return nil, err
	}
	b, err := c.Post(ctx, infoPath, body)
	if err != nil {
		return nil, errors.Wrap(err, "error requesting spot metadata")
	}
	meta := &SpotMeta{}
	if err := json.Unmarshal(b, meta); err != nil {
		return nil, errors.Wrap(err, "error decoding spot metadata response")
	}
	return meta, nil
}
