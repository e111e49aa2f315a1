package substrate

import (
	"bytes"
	"math/big"

	"github.com/centrifuge/go-substrate-rpc-client/v4/scale"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types"
	"github.com/chainx-org/psc-contributors/domain"
	"github.com/pkg/errors"
)

// EncodeContribution is the inverse of DecodeContribution.
func EncodeContribution(balance *big.Int, memo []byte) ([]byte, error) {
	value, err := toU128(balance)
	if err != nil {
		return nil, errors.Wrap(err, "encoding balance")
	}
	if memo == nil {
		memo = []byte{}
	}

	var buf bytes.Buffer
	encoder := scale.NewEncoder(&buf)
	if err = encoder.Encode(value); err != nil {
		return nil, errors.Wrap(err, "encoding balance")
	}
	if err = encoder.Encode(memo); err != nil {
		return nil, errors.Wrap(err, "encoding memo")
	}
	return buf.Bytes(), nil
}

// EncodeFundInfo is the inverse of DecodeFundInfo.
func EncodeFundInfo(fund *domain.FundInfo) ([]byte, error) {
	deposit, err := toU128(fund.Deposit)
	if err != nil {
		return nil, errors.Wrap(err, "encoding deposit")
	}
	raised, err := toU128(fund.Raised)
	if err != nil {
		return nil, errors.Wrap(err, "encoding raised")
	}
	limit, err := toU128(fund.Cap)
	if err != nil {
		return nil, errors.Wrap(err, "encoding cap")
	}
	var verifier multiSigner
	if fund.Verifier != nil {
		verifier = multiSigner(*fund.Verifier)
	}

	var buf bytes.Buffer
	encoder := scale.NewEncoder(&buf)
	if err = encoder.Encode(fund.Depositor); err != nil {
		return nil, errors.Wrap(err, "encoding depositor")
	}
	if err = encoder.EncodeOption(fund.Verifier != nil, verifier); err != nil {
		return nil, errors.Wrap(err, "encoding verifier")
	}
	for _, field := range []any{
		deposit,
		raised,
		fund.End,
		limit,
		lastContribution(fund.LastContribution),
		fund.FirstPeriod,
		fund.LastPeriod,
		fund.FundIndex,
	} {
		if err = encoder.Encode(field); err != nil {
			return nil, errors.Wrap(err, "encoding fund info")
		}
	}
	return buf.Bytes(), nil
}

// toU128 rejects values the u128 encoder cannot represent.
func toU128(value *big.Int) (types.U128, error) {
	if value == nil {
		value = new(big.Int)
	}
	if value.Sign() < 0 || value.BitLen() > 128 {
		return types.U128{}, errors.Errorf("value [%s] out of u128 range", value)
	}
	return types.NewU128(*value), nil
}
