package domain

import (
	"math/big"
	"time"
)

var (
	obNumerator   = big.NewInt(33)
	obDenominator = big.NewInt(100)
)

type Contribution struct {
	Contributor string   `json:"contributor"`
	Balance     *big.Int `json:"balance"`
	Ob          *big.Int `json:"ob"`
}

func NewContribution(contributor string, balance *big.Int) Contribution {
	return Contribution{
		Contributor: contributor,
		Balance:     balance,
		Ob:          ObAmount(balance),
	}
}

// ObAmount computes floor(floor(balance / 100 * 33) / 100) on integers. Both
// truncations are kept, so the result is not a rounded 0.33 percent.
func ObAmount(balance *big.Int) *big.Int {
	scaled := new(big.Int).Mul(balance, obNumerator)
	scaled.Quo(scaled, obDenominator)
	return scaled.Quo(scaled, obDenominator)
}

type Totals struct {
	Count   int      `json:"count"`
	Balance *big.Int `json:"balance"`
	Ob      *big.Int `json:"ob"`
}

func Summarize(contributions []Contribution) Totals {
	totals := Totals{
		Count:   len(contributions),
		Balance: new(big.Int),
		Ob:      new(big.Int),
	}
	for _, c := range contributions {
		totals.Balance.Add(totals.Balance, c.Balance)
		totals.Ob.Add(totals.Ob, c.Ob)
	}
	return totals
}

type BlockRef struct {
	Hash   string `json:"hash"`
	Number uint64 `json:"number"`
}

type NodeInfo struct {
	Chain       string `json:"chain"`
	SpecName    string `json:"specName"`
	SpecVersion uint32 `json:"specVersion"`
}

// Export is the result of one run. Contributions keep the enumeration order of the child keys.
type Export struct {
	ParaID        uint32
	Block         BlockRef
	FundIndex     uint32
	ChildKey      string
	Contributions []Contribution
	Totals        Totals
}

func (e *Export) Summary(exportedAt time.Time) ExportSummary {
	return ExportSummary{
		ParaID:     e.ParaID,
		Block:      e.Block,
		FundIndex:  e.FundIndex,
		ChildKey:   e.ChildKey,
		Totals:     e.Totals,
		ExportedAt: exportedAt.UTC(),
	}
}

type ExportSummary struct {
	ParaID     uint32    `json:"paraId"`
	Block      BlockRef  `json:"block"`
	FundIndex  uint32    `json:"fundIndex"`
	ChildKey   string    `json:"childKey"`
	Totals     Totals    `json:"totals"`
	ExportedAt time.Time `json:"exportedAt"`
}
