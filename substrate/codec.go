package substrate

import (
	"bytes"
	"math/big"

	"github.com/centrifuge/go-substrate-rpc-client/v4/scale"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types"
	"github.com/chainx-org/psc-contributors/domain"
	"github.com/pkg/errors"
)

// reader keeps the remaining length of the input, the scale decoder does not expose it.
type reader struct {
	data    []byte
	source  *bytes.Reader
	decoder *scale.Decoder
}

func newReader(data []byte) *reader {
	source := bytes.NewReader(data)
	return &reader{data: data, source: source, decoder: scale.NewDecoder(source)}
}

func (r *reader) decode(target any) error {
	return r.decoder.Decode(target)
}

func (r *reader) u128() (*big.Int, error) {
	var value types.U128
	if err := r.decoder.Decode(&value); err != nil {
		return nil, err
	}
	return value.Int, nil
}

// byteVec checks the length prefix against the remaining input first. The decoder allocates
// the announced length up front and ignores a missing prefix.
func (r *reader) byteVec() ([]byte, error) {
	remaining := r.data[len(r.data)-r.source.Len():]
	length, err := scale.NewDecoder(bytes.NewReader(remaining)).DecodeUintCompact()
	if err != nil {
		return nil, errors.Wrap(err, "decoding length")
	}
	if !length.IsInt64() || length.Int64() > int64(len(remaining)) {
		return nil, errors.Errorf("length [%s] exceeds remaining [%d] bytes", length, len(remaining))
	}
	var value []byte
	if err = r.decoder.Decode(&value); err != nil {
		return nil, err
	}
	return value, nil
}

func (r *reader) done() error {
	if r.source.Len() > 0 {
		return errors.Errorf("[%d] trailing bytes", r.source.Len())
	}
	return nil
}

// DecodeContribution decodes a crowdloan child trie value, (Balance, Vec<u8>), into balance and memo.
func DecodeContribution(data []byte) (*big.Int, []byte, error) {
	r := newReader(data)
	balance, err := r.u128()
	if err != nil {
		return nil, nil, errors.Wrap(err, "decoding balance")
	}
	memo, err := r.byteVec()
	if err != nil {
		return nil, nil, errors.Wrap(err, "decoding memo")
	}
	if err = r.done(); err != nil {
		return nil, nil, errors.Wrap(err, "decoding contribution")
	}
	return balance, memo, nil
}

func DecodeFundInfo(data []byte) (*domain.FundInfo, error) {
	r := newReader(data)
	var fund domain.FundInfo

	if err := r.decode(&fund.Depositor); err != nil {
		return nil, errors.Wrap(err, "decoding depositor")
	}

	var hasVerifier bool
	var verifier multiSigner
	if err := r.decoder.DecodeOption(&hasVerifier, &verifier); err != nil {
		return nil, errors.Wrap(err, "decoding verifier")
	}
	if hasVerifier {
		v := domain.Verifier(verifier)
		fund.Verifier = &v
	}

	var err error
	if fund.Deposit, err = r.u128(); err != nil {
		return nil, errors.Wrap(err, "decoding deposit")
	}
	if fund.Raised, err = r.u128(); err != nil {
		return nil, errors.Wrap(err, "decoding raised")
	}
	if err = r.decode(&fund.End); err != nil {
		return nil, errors.Wrap(err, "decoding end")
	}
	if fund.Cap, err = r.u128(); err != nil {
		return nil, errors.Wrap(err, "decoding cap")
	}

	var last lastContribution
	if err = r.decode(&last); err != nil {
		return nil, errors.Wrap(err, "decoding last contribution")
	}
	fund.LastContribution = domain.LastContribution(last)

	if err = r.decode(&fund.FirstPeriod); err != nil {
		return nil, errors.Wrap(err, "decoding first period")
	}
	if err = r.decode(&fund.LastPeriod); err != nil {
		return nil, errors.Wrap(err, "decoding last period")
	}
	if err = r.decode(&fund.FundIndex); err != nil {
		return nil, errors.Wrap(err, "decoding fund index")
	}
	if err = r.done(); err != nil {
		return nil, errors.Wrap(err, "decoding fund info")
	}
	return &fund, nil
}

// multiSigner is the scale form of a crowdloan verifier, an enum of public keys.
type multiSigner domain.Verifier

func (s *multiSigner) Decode(decoder scale.Decoder) error {
	var tag uint8
	if err := decoder.Decode(&tag); err != nil {
		return err
	}
	s.Type = domain.SignerType(tag)
	switch s.Type {
	case domain.SignerEd25519, domain.SignerSr25519:
		var key [32]byte
		if err := decoder.Decode(&key); err != nil {
			return err
		}
		s.PublicKey = key[:]
	case domain.SignerEcdsa:
		var key [33]byte
		if err := decoder.Decode(&key); err != nil {
			return err
		}
		s.PublicKey = key[:]
	default:
		return errors.Errorf("unknown signer type [%d]", tag)
	}
	return nil
}

func (s multiSigner) Encode(encoder scale.Encoder) error {
	keyLength := 32
	if s.Type == domain.SignerEcdsa {
		keyLength = 33
	}
	if len(s.PublicKey) != keyLength {
		return errors.Errorf("invalid public key length [%d] for signer type [%d]", len(s.PublicKey), s.Type)
	}
	if err := encoder.Encode(uint8(s.Type)); err != nil {
		return err
	}
	return encoder.Write(s.PublicKey)
}

type lastContribution domain.LastContribution

func (l *lastContribution) Decode(decoder scale.Decoder) error {
	var tag uint8
	if err := decoder.Decode(&tag); err != nil {
		return err
	}
	l.Phase = domain.LastContributionPhase(tag)
	switch l.Phase {
	case domain.PhaseNever:
		return nil
	case domain.PhasePreEnding, domain.PhaseEnding:
		return decoder.Decode(&l.Value)
	default:
		return errors.Errorf("unknown phase [%d]", tag)
	}
}

func (l lastContribution) Encode(encoder scale.Encoder) error {
	if err := encoder.Encode(uint8(l.Phase)); err != nil {
		return err
	}
	if l.Phase == domain.PhaseNever {
		return nil
	}
	return encoder.Encode(l.Value)
}
