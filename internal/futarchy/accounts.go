package futarchy

import (
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// ProposalState is the on-chain lifecycle of a proposal.
type ProposalState uint8

const (
	ProposalDraft ProposalState = iota
	ProposalPending
	ProposalPassed
	ProposalFailed
)

func (s ProposalState) String() string {
	switch s {
	case ProposalDraft:
		return "draft"
	case ProposalPending:
		return "pending"
	case ProposalPassed:
		return "passed"
	case ProposalFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Dao is the decoded futarchy DAO account. The DAO's spot AMM is embedded
// ahead of the governance fields.
type Dao struct {
	Amm                               FutarchyAmm
	Nonce                             uint64
	DaoCreator                        solana.PublicKey
	PdaBump                           uint8
	SquadsMultisig                    solana.PublicKey
	SquadsMultisigVault               solana.PublicKey
	BaseMint                          solana.PublicKey
	QuoteMint                         solana.PublicKey
	ProposalCount                     uint32
	PassThresholdBps                  uint16
	SecondsPerProposal                uint32
	TwapInitialObservation            U128
	TwapMaxObservationChangePerUpdate U128
	TwapStartDelaySeconds             uint32
	MinQuoteFutarchicLiquidity        uint64
	MinBaseFutarchicLiquidity         uint64
	BaseToStake                       uint64
	SeqNum                            uint64
	InitialSpendingLimit              *SpendingLimit `bin:"optional"`
	TeamSponsoredPassThresholdBps     int16
	TeamAddress                       solana.PublicKey
}

// FutarchyAmm is the AMM state a DAO carries: the spot pool, and while a
// proposal trades, its pass and fail pools.
type FutarchyAmm struct {
	State          PoolState
	TotalLiquidity U128
	BaseMint       solana.PublicKey
	QuoteMint      solana.PublicKey
	AmmBaseVault   solana.PublicKey
	AmmQuoteVault  solana.PublicKey
}

// TwapOracle is the time-weighted price oracle of one pool.
type TwapOracle struct {
	Aggregator                    U128
	LastUpdatedTimestamp          int64
	CreatedAtTimestamp            int64
	LastPrice                     U128
	LastObservation               U128
	MaxObservationChangePerUpdate U128
	InitialObservation            U128
	StartDelaySeconds             uint32
}

// Pool is one constant-product pool of the DAO's AMM.
type Pool struct {
	Oracle                  TwapOracle
	QuoteReserves           uint64
	BaseReserves            uint64
	QuoteProtocolFeeBalance uint64
	BaseProtocolFeeBalance  uint64
}

// PoolState is the Borsh enum Spot{spot} | Futarchy{spot, pass, fail}. Pass
// and Fail are zero unless Futarchy is set.
type PoolState struct {
	Futarchy bool
	Spot     Pool
	Pass     Pool
	Fail     Pool
}

const (
	poolStateSpot     uint8 = 0
	poolStateFutarchy uint8 = 1
)

func (s PoolState) MarshalWithEncoder(enc *bin.Encoder) error {
	if !s.Futarchy {
		if err := enc.WriteUint8(poolStateSpot); err != nil {
			return err
		}
		return enc.Encode(s.Spot)
	}
	if err := enc.WriteUint8(poolStateFutarchy); err != nil {
		return err
	}
	for _, p := range []Pool{s.Spot, s.Pass, s.Fail} {
		if err := enc.Encode(p); err != nil {
			return err
		}
	}
	return nil
}

func (s *PoolState) UnmarshalWithDecoder(dec *bin.Decoder) error {
	variant, err := dec.ReadUint8()
	if err != nil {
		return err
	}
	switch variant {
	case poolStateSpot:
		*s = PoolState{}
		return dec.Decode(&s.Spot)
	case poolStateFutarchy:
		*s = PoolState{Futarchy: true}
		for _, p := range []*Pool{&s.Spot, &s.Pass, &s.Fail} {
			if err := dec.Decode(p); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("futarchy: unknown pool state %d", variant)
	}
}

// Refs returns the addresses other builders need, given the DAO's address.
func (d Dao) Refs(address solana.PublicKey) DaoRefs {
	return DaoRefs{
		Address:       address,
		BaseMint:      d.BaseMint,
		QuoteMint:     d.QuoteMint,
		Multisig:      d.SquadsMultisig,
		MultisigVault: d.SquadsMultisigVault,
	}
}

// Proposal is the decoded futarchy proposal account.
type Proposal struct {
	Number            uint32
	Proposer          solana.PublicKey
	TimestampEnqueued int64
	State             ProposalState
	BaseVault         solana.PublicKey
	QuoteVault        solana.PublicKey
	Dao               solana.PublicKey
	PdaBump           uint8
	Question          solana.PublicKey
	DurationInSeconds uint32
	SquadsProposal    solana.PublicKey
	PassBaseMint      solana.PublicKey
	PassQuoteMint     solana.PublicKey
	FailBaseMint      solana.PublicKey
	FailQuoteMint     solana.PublicKey
}

// IsFinal reports whether the proposal has been finalized on-chain.
func (p Proposal) IsFinal() bool {
	return p.State == ProposalPassed || p.State == ProposalFailed
}

// AmmPosition is a liquidity provider's share of a DAO's spot pool.
type AmmPosition struct {
	Dao               solana.PublicKey
	PositionAuthority solana.PublicKey
	Liquidity         U128
}

// Account names used for discriminators.
const (
	accountDao         = "Dao"
	accountProposal    = "Proposal"
	accountAmmPosition = "AmmPosition"
)

// ammPositionSize is discriminator + dao + authority + u128.
const ammPositionSize = discriminatorLen + 32 + 32 + 16

// DecodeDao decodes raw DAO account data.
func DecodeDao(data []byte) (Dao, error) {
	var d Dao
	err := decodeAccount(accountDao, data, &d)
	return d, err
}

// DecodeProposal decodes raw proposal account data.
func DecodeProposal(data []byte) (Proposal, error) {
	var p Proposal
	err := decodeAccount(accountProposal, data, &p)
	return p, err
}

// DecodeAmmPosition decodes raw AMM position account data.
func DecodeAmmPosition(data []byte) (AmmPosition, error) {
	var p AmmPosition
	err := decodeAccount(accountAmmPosition, data, &p)
	return p, err
}

// EncodeDao, EncodeProposal and EncodeAmmPosition produce account data in the
// on-chain layout. They back local fixtures and simulations.
func EncodeDao(d Dao) ([]byte, error) { return encodeAccount(accountDao, d) }

func EncodeProposal(p Proposal) ([]byte, error) { return encodeAccount(accountProposal, p) }

func EncodeAmmPosition(p AmmPosition) ([]byte, error) {
	return encodeAccount(accountAmmPosition, p)
}

// SquadsMultisig is the leading part of a squads multisig account, up to
// the transaction counters. Members and the rest are not decoded.
type SquadsMultisig struct {
	CreateKey             solana.PublicKey
	ConfigAuthority       solana.PublicKey
	Threshold             uint16
	TimeLock              uint32
	TransactionIndex      uint64
	StaleTransactionIndex uint64
}

const accountSquadsMultisig = "Multisig"

// DecodeSquadsMultisig decodes the header of a squads multisig account.
func DecodeSquadsMultisig(data []byte) (SquadsMultisig, error) {
	var m SquadsMultisig
	err := decodeAccount(accountSquadsMultisig, data, &m)
	return m, err
}

// EncodeSquadsMultisig encodes m as a multisig account header.
func EncodeSquadsMultisig(m SquadsMultisig) ([]byte, error) {
	return encodeAccount(accountSquadsMultisig, m)
}
