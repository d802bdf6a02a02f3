package http

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"

	"github.com/compose-network/rootchain/x/rootchain"
)

// Amounts travel as decimal wei strings.

// submitBlockReq is the JSON schema for POST routeSubmitBlock.
type submitBlockReq struct {
	Fork  uint64              `json:"fork"`
	Kind  rootchain.BlockKind `json:"kind"`
	From  common.Address      `json:"from"`
	Roots rootchain.Roots     `json:"roots"`
	Bond  string              `json:"bond"`
}

// requestReq is the JSON schema for enter, exit and user exit requests.
type requestReq struct {
	From    common.Address `json:"from"`
	Asset   common.Address `json:"asset"`
	TrieKey common.Hash    `json:"trie_key"`
	Value   string         `json:"value"`
	Bond    string         `json:"bond"`
}

// prepareReq is the JSON schema for POST routePrepare.
type prepareReq struct {
	From common.Address `json:"from"`
	Bond string         `json:"bond"`
}

// userBlockReq is the JSON schema for POST routeUserBlock.
type userBlockReq struct {
	From  common.Address  `json:"from"`
	Roots rootchain.Roots `json:"roots"`
	Bond  string          `json:"bond"`
}

// finalizeRequestsReq is the JSON schema for POST routeFinalizeReqs.
// With ID set only that request is tried; otherwise up to Limit requests
// are finalized in order (zero means no bound).
type finalizeRequestsReq struct {
	ID    *uint64 `json:"id,omitempty"`
	Limit int     `json:"limit"`
}

// challengeReq is the JSON schema for POST routeChallenge. Evidence is either
// a failed receipt or a committed balance (decimal wei) below the exit.
type challengeReq struct {
	Fork         uint64          `json:"fork"`
	BlockNumber  uint64          `json:"block_number"`
	RequestIndex uint64          `json:"request_index"`
	Receipt      hexutil.Bytes   `json:"receipt,omitempty"`
	Balance      string          `json:"balance,omitempty"`
	Proof        []hexutil.Bytes `json:"proof"`
}

func (c challengeReq) proofNodes() [][]byte {
	out := make([][]byte, len(c.Proof))
	for i, p := range c.Proof {
		out[i] = p
	}
	return out
}

type submitBlockResp struct {
	Fork   uint64 `json:"fork"`
	Number uint64 `json:"number"`
}

type requestResp struct {
	Kind rootchain.RequestKind `json:"kind"`
	ID   uint64                `json:"id"`
}

type finalizeBlockResp struct {
	Fork      uint64 `json:"fork"`
	Finalized int    `json:"finalized"`
}

type classifyResp struct {
	Fork      uint64 `json:"fork"`
	Number    uint64 `json:"number"`
	IsRequest bool   `json:"is_request"`
	IsEmpty   bool   `json:"is_empty"`
}

type eventsResp struct {
	Events []rootchain.Event `json:"events"`
	Last   uint64            `json:"last"`
}

func parseWei(field, s string) (*uint256.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("%s is required", field)
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", field, err)
	}
	return v, nil
}
