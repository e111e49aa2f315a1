package domain

import "math/big"

type SignerType uint8

const (
	SignerEd25519 SignerType = iota
	SignerSr25519
	SignerEcdsa
)

// Verifier is the optional signer a crowdloan requires contributions to be signed by.
type Verifier struct {
	Type      SignerType
	PublicKey []byte
}

type LastContributionPhase uint8

const (
	PhaseNever LastContributionPhase = iota
	PhasePreEnding
	PhaseEnding
)

type LastContribution struct {
	Phase LastContributionPhase
	// Value is the auction index for PreEnding and the block number for Ending.
	Value uint32
}

// FundInfo mirrors the crowdloan fund record stored under Crowdloan.Funds.
type FundInfo struct {
	Depositor        [32]byte
	Verifier         *Verifier
	Deposit          *big.Int
	Raised           *big.Int
	End              uint32
	Cap              *big.Int
	LastContribution LastContribution
	FirstPeriod      uint32
	LastPeriod       uint32
	FundIndex        uint32
}
