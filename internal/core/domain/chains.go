package domain

import "math/big"

type ChainID string
type ChainType string

const (
	ChainIDEthereum ChainID = "ethereum"
	ChainIDStacks   ChainID = "stacks"

	ChainTypeEVM    ChainType = "evm"
	ChainTypeStacks ChainType = "stacks"
)

// ChainTypeOf maps well-known chain ids to their adapter family.
var ChainTypeOf = map[ChainID]ChainType{
	ChainIDEthereum: ChainTypeEVM,
	ChainIDStacks:   ChainTypeStacks,
}

// Receipt is what a chain reports about a submitted transaction.
type Receipt struct {
	Included      bool
	Confirmations uint64
	// MessageID identifies the cross-chain message emitted by a burn, if any.
	MessageID string
	// Aborted is set when the transaction was included but failed on chain.
	Aborted bool
	Reason  string
}

// MintQuery locates the destination-side mint of a bridge transfer.
type MintQuery struct {
	MessageID   string
	Attestation string
	Recipient   string
	Asset       string
	// Amount in base units; nil matches any amount.
	Amount *big.Int
}
