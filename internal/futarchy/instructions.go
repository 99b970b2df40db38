package futarchy

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
)

// Market selects the conditional market of a swap.
type Market uint8

const (
	MarketSpot Market = iota
	MarketPass
	MarketFail
)

// SwapType is the direction of a swap.
type SwapType uint8

const (
	SwapBuy SwapType = iota
	SwapSell
)

// DaoParams are the economic parameters of a new DAO.
type DaoParams struct {
	TwapInitialObservation            U128
	TwapMaxObservationChangePerUpdate U128
	TwapStartDelaySeconds             uint32
	MinQuoteFutarchicLiquidity        uint64
	MinBaseFutarchicLiquidity         uint64
	BaseToStake                       uint64
	PassThresholdBps                  uint16
	SecondsPerProposal                uint32
	TeamSponsoredPassThresholdBps     int16
	TeamAddress                       solana.PublicKey
}

// SpendingLimit is the optional initial spending limit of a DAO's treasury.
type SpendingLimit struct {
	AmountPerMonth uint64
	Members        []solana.PublicKey
}

type initializeDaoArgs struct {
	TwapInitialObservation            U128
	TwapMaxObservationChangePerUpdate U128
	TwapStartDelaySeconds             uint32
	MinQuoteFutarchicLiquidity        uint64
	MinBaseFutarchicLiquidity         uint64
	BaseToStake                       uint64
	PassThresholdBps                  uint16
	SecondsPerProposal                uint32
	Nonce                             uint64
	InitialSpendingLimit              *SpendingLimit `bin:"optional"`
	TeamSponsoredPassThresholdBps     int16
	TeamAddress                       solana.PublicKey
}

type conditionalSwapArgs struct {
	Market          Market
	SwapType        SwapType
	InputAmount     uint64
	MinOutputAmount uint64
}

type withdrawLiquidityArgs struct {
	LiquidityToWithdraw U128
	MinBaseAmount       uint64
	MinQuoteAmount      uint64
}

type initializeQuestionArgs struct {
	QuestionID  [32]byte
	Oracle      solana.PublicKey
	NumOutcomes uint8
}

// DaoRefs are the addresses of an existing or freshly initialized DAO.
type DaoRefs struct {
	Address       solana.PublicKey
	BaseMint      solana.PublicKey
	QuoteMint     solana.PublicKey
	Multisig      solana.PublicKey
	MultisigVault solana.PublicKey
}

// AmmVaults returns the DAO's spot pool token accounts.
func (d DaoRefs) AmmVaults() (base, quote solana.PublicKey, err error) {
	if base, err = AssociatedTokenAddress(d.Address, d.BaseMint); err != nil {
		return
	}
	quote, err = AssociatedTokenAddress(d.Address, d.QuoteMint)
	return
}

// ConditionalMints are the four outcome mints of a proposal.
type ConditionalMints struct {
	PassBase  solana.PublicKey
	PassQuote solana.PublicKey
	FailBase  solana.PublicKey
	FailQuote solana.PublicKey
}

// ProposalRefs are the addresses of an initialized proposal.
type ProposalRefs struct {
	Address        solana.PublicKey
	Dao            DaoRefs
	SquadsProposal solana.PublicKey
	Question       solana.PublicKey
	BaseVault      solana.PublicKey
	QuoteVault     solana.PublicKey
	Mints          ConditionalMints
}

// Refs returns the addresses of p, given its address and its DAO.
func (p Proposal) Refs(address solana.PublicKey, dao DaoRefs) ProposalRefs {
	return ProposalRefs{
		Address:        address,
		Dao:            dao,
		SquadsProposal: p.SquadsProposal,
		Question:       p.Question,
		BaseVault:      p.BaseVault,
		QuoteVault:     p.QuoteVault,
		Mints: ConditionalMints{
			PassBase:  p.PassBaseMint,
			PassQuote: p.PassQuoteMint,
			FailBase:  p.FailBaseMint,
			FailQuote: p.FailQuoteMint,
		},
	}
}

// ConditionalPools are the DAO-owned token accounts of the pass and fail
// markets. The quote accounts are the pools an idea is mapped to.
type ConditionalPools struct {
	PassBase  solana.PublicKey
	PassQuote solana.PublicKey
	FailBase  solana.PublicKey
	FailQuote solana.PublicKey
}

// Pools derives the conditional pool token accounts of p.
func (p ProposalRefs) Pools() (ConditionalPools, error) {
	var out ConditionalPools
	var err error
	dao := p.Dao.Address
	if out.PassBase, err = AssociatedTokenAddress(dao, p.Mints.PassBase); err != nil {
		return out, err
	}
	if out.PassQuote, err = AssociatedTokenAddress(dao, p.Mints.PassQuote); err != nil {
		return out, err
	}
	if out.FailBase, err = AssociatedTokenAddress(dao, p.Mints.FailBase); err != nil {
		return out, err
	}
	if out.FailQuote, err = AssociatedTokenAddress(dao, p.Mints.FailQuote); err != nil {
		return out, err
	}
	return out, nil
}

// DaoInit is the result of InitializeDao.
type DaoInit struct {
	Instructions []solana.Instruction
	Nonce        uint64
	Refs         DaoRefs
}

// ProposalInit is the result of InitializeProposal.
type ProposalInit struct {
	Instructions []solana.Instruction
	Refs         ProposalRefs
}

// Launch is the result of LaunchProposal.
type Launch struct {
	Instructions []solana.Instruction
	PassPool     solana.PublicKey
	FailPool     solana.PublicKey
}

func meta(pk solana.PublicKey, writable, signer bool) *solana.AccountMeta {
	return solana.NewAccountMeta(pk, writable, signer)
}

func readonly(pk solana.PublicKey) *solana.AccountMeta { return meta(pk, false, false) }
func writable(pk solana.PublicKey) *solana.AccountMeta { return meta(pk, true, false) }

// InitializeDao builds the instruction creating a DAO, its treasury multisig
// and its spot pool. The DAO address is derived from creator and nonce.
func (p Programs) InitializeDao(creator, payer, baseMint, quoteMint solana.PublicKey, nonce uint64, params DaoParams) (DaoInit, error) {
	dao, err := p.DAOAddress(creator, nonce)
	if err != nil {
		return DaoInit{}, err
	}
	multisig, err := p.SquadsMultisig(dao)
	if err != nil {
		return DaoInit{}, err
	}
	vault, err := p.SquadsVault(multisig)
	if err != nil {
		return DaoInit{}, err
	}
	refs := DaoRefs{Address: dao, BaseMint: baseMint, QuoteMint: quoteMint, Multisig: multisig, MultisigVault: vault}
	ammBase, ammQuote, err := refs.AmmVaults()
	if err != nil {
		return DaoInit{}, err
	}
	eventAuthority, err := p.EventAuthority()
	if err != nil {
		return DaoInit{}, err
	}

	data, err := encodeInstruction("initialize_dao", initializeDaoArgs{
		TwapInitialObservation:            params.TwapInitialObservation,
		TwapMaxObservationChangePerUpdate: params.TwapMaxObservationChangePerUpdate,
		TwapStartDelaySeconds:             params.TwapStartDelaySeconds,
		MinQuoteFutarchicLiquidity:        params.MinQuoteFutarchicLiquidity,
		MinBaseFutarchicLiquidity:         params.MinBaseFutarchicLiquidity,
		BaseToStake:                       params.BaseToStake,
		PassThresholdBps:                  params.PassThresholdBps,
		SecondsPerProposal:                params.SecondsPerProposal,
		Nonce:                             nonce,
		TeamSponsoredPassThresholdBps:     params.TeamSponsoredPassThresholdBps,
		TeamAddress:                       params.TeamAddress,
	})
	if err != nil {
		return DaoInit{}, err
	}

	ix := solana.NewInstruction(p.Futarchy, solana.AccountMetaSlice{
		writable(dao),
		meta(creator, false, true),
		meta(payer, true, true),
		readonly(solana.SystemProgramID),
		readonly(baseMint),
		readonly(quoteMint),
		writable(multisig),
		readonly(vault),
		readonly(p.Squads),
		writable(ammBase),
		writable(ammQuote),
		readonly(solana.TokenProgramID),
		readonly(solana.SPLAssociatedTokenAccountProgramID),
		readonly(eventAuthority),
		readonly(p.Futarchy),
	}, data)

	return DaoInit{Instructions: []solana.Instruction{ix}, Nonce: nonce, Refs: refs}, nil
}

// InitializeProposal builds the instructions that set up the proposal's
// question, its base and quote conditional vaults and the proposal itself.
func (p Programs) InitializeProposal(dao DaoRefs, squadsProposal, proposer, payer solana.PublicKey) (ProposalInit, error) {
	proposal, err := p.ProposalAddress(squadsProposal)
	if err != nil {
		return ProposalInit{}, err
	}
	question, err := p.QuestionAddress(proposal)
	if err != nil {
		return ProposalInit{}, err
	}
	baseVault, err := p.ConditionalVaultAddress(question, dao.BaseMint)
	if err != nil {
		return ProposalInit{}, err
	}
	quoteVault, err := p.ConditionalVaultAddress(question, dao.QuoteMint)
	if err != nil {
		return ProposalInit{}, err
	}
	var mints ConditionalMints
	if mints.PassBase, err = p.ConditionalTokenMint(baseVault, outcomePass); err != nil {
		return ProposalInit{}, err
	}
	if mints.FailBase, err = p.ConditionalTokenMint(baseVault, outcomeFail); err != nil {
		return ProposalInit{}, err
	}
	if mints.PassQuote, err = p.ConditionalTokenMint(quoteVault, outcomePass); err != nil {
		return ProposalInit{}, err
	}
	if mints.FailQuote, err = p.ConditionalTokenMint(quoteVault, outcomeFail); err != nil {
		return ProposalInit{}, err
	}
	vaultEvents, err := p.VaultEventAuthority()
	if err != nil {
		return ProposalInit{}, err
	}
	events, err := p.EventAuthority()
	if err != nil {
		return ProposalInit{}, err
	}

	questionData, err := encodeInstruction("initialize_question", initializeQuestionArgs{
		QuestionID:  [32]byte(proposal),
		Oracle:      proposal,
		NumOutcomes: numOutcomes,
	})
	if err != nil {
		return ProposalInit{}, err
	}
	ixs := []solana.Instruction{
		solana.NewInstruction(p.ConditionalVault, solana.AccountMetaSlice{
			writable(question),
			meta(payer, true, true),
			readonly(solana.SystemProgramID),
			readonly(vaultEvents),
			readonly(p.ConditionalVault),
		}, questionData),
	}

	for _, v := range []struct {
		vault, underlying, pass, fail solana.PublicKey
	}{
		{baseVault, dao.BaseMint, mints.PassBase, mints.FailBase},
		{quoteVault, dao.QuoteMint, mints.PassQuote, mints.FailQuote},
	} {
		underlyingAccount, err := AssociatedTokenAddress(v.vault, v.underlying)
		if err != nil {
			return ProposalInit{}, err
		}
		data, err := encodeInstruction("initialize_conditional_vault", nil)
		if err != nil {
			return ProposalInit{}, err
		}
		ixs = append(ixs, solana.NewInstruction(p.ConditionalVault, solana.AccountMetaSlice{
			writable(v.vault),
			readonly(question),
			readonly(v.underlying),
			writable(underlyingAccount),
			meta(payer, true, true),
			readonly(solana.TokenProgramID),
			readonly(solana.SPLAssociatedTokenAccountProgramID),
			readonly(solana.SystemProgramID),
			readonly(vaultEvents),
			readonly(p.ConditionalVault),
			writable(v.fail),
			writable(v.pass),
		}, data))
	}

	data, err := encodeInstruction("initialize_proposal", nil)
	if err != nil {
		return ProposalInit{}, err
	}
	ixs = append(ixs, solana.NewInstruction(p.Futarchy, solana.AccountMetaSlice{
		writable(proposal),
		readonly(squadsProposal),
		readonly(dao.Multisig),
		writable(dao.Address),
		readonly(question),
		readonly(quoteVault),
		readonly(baseVault),
		meta(proposer, false, true),
		meta(payer, true, true),
		readonly(solana.SystemProgramID),
		readonly(events),
		readonly(p.Futarchy),
	}, data))

	return ProposalInit{
		Instructions: ixs,
		Refs: ProposalRefs{
			Address:        proposal,
			Dao:            dao,
			SquadsProposal: squadsProposal,
			Question:       question,
			BaseVault:      baseVault,
			QuoteVault:     quoteVault,
			Mints:          mints,
		},
	}, nil
}

// LaunchProposal builds the instruction that opens the pass and fail markets.
// The returned pools are the DAO's pass and fail quote token accounts.
func (p Programs) LaunchProposal(prop ProposalRefs, payer solana.PublicKey) (Launch, error) {
	pools, err := prop.Pools()
	if err != nil {
		return Launch{}, err
	}
	ammBase, ammQuote, err := prop.Dao.AmmVaults()
	if err != nil {
		return Launch{}, err
	}
	events, err := p.EventAuthority()
	if err != nil {
		return Launch{}, err
	}
	data, err := encodeInstruction("launch_proposal", nil)
	if err != nil {
		return Launch{}, err
	}
	ix := solana.NewInstruction(p.Futarchy, solana.AccountMetaSlice{
		writable(prop.Address),
		readonly(prop.BaseVault),
		readonly(prop.QuoteVault),
		readonly(prop.Mints.PassBase),
		readonly(prop.Mints.PassQuote),
		readonly(prop.Mints.FailBase),
		readonly(prop.Mints.FailQuote),
		writable(prop.Dao.Address),
		meta(payer, true, true),
		writable(ammBase),
		writable(ammQuote),
		writable(pools.PassBase),
		writable(pools.PassQuote),
		writable(pools.FailBase),
		writable(pools.FailQuote),
		readonly(solana.SystemProgramID),
		readonly(solana.TokenProgramID),
		readonly(solana.SPLAssociatedTokenAccountProgramID),
		readonly(events),
		readonly(p.Futarchy),
	}, data)
	return Launch{
		Instructions: []solana.Instruction{ix},
		PassPool:     pools.PassQuote,
		FailPool:     pools.FailQuote,
	}, nil
}

// ConditionalSwap builds a swap of inputAmount base units in market. Buying
// spends the trader's underlying quote tokens.
func (p Programs) ConditionalSwap(prop ProposalRefs, trader solana.PublicKey, market Market, swapType SwapType, inputAmount, minOutputAmount uint64) (solana.Instruction, error) {
	if market != MarketPass && market != MarketFail {
		return nil, fmt.Errorf("futarchy: conditional swap: unsupported market %d", market)
	}
	pools, err := prop.Pools()
	if err != nil {
		return nil, err
	}
	ammBase, ammQuote, err := prop.Dao.AmmVaults()
	if err != nil {
		return nil, err
	}
	outMint := prop.Mints.PassBase
	if market == MarketFail {
		outMint = prop.Mints.FailBase
	}
	inMint := prop.Dao.QuoteMint
	if swapType == SwapSell {
		inMint, outMint = outMint, prop.Dao.QuoteMint
	}
	userIn, err := AssociatedTokenAddress(trader, inMint)
	if err != nil {
		return nil, err
	}
	userOut, err := AssociatedTokenAddress(trader, outMint)
	if err != nil {
		return nil, err
	}
	baseUnderlying, err := AssociatedTokenAddress(prop.BaseVault, prop.Dao.BaseMint)
	if err != nil {
		return nil, err
	}
	quoteUnderlying, err := AssociatedTokenAddress(prop.QuoteVault, prop.Dao.QuoteMint)
	if err != nil {
		return nil, err
	}
	vaultEvents, err := p.VaultEventAuthority()
	if err != nil {
		return nil, err
	}
	events, err := p.EventAuthority()
	if err != nil {
		return nil, err
	}

	data, err := encodeInstruction("conditional_swap", conditionalSwapArgs{
		Market:          market,
		SwapType:        swapType,
		InputAmount:     inputAmount,
		MinOutputAmount: minOutputAmount,
	})
	if err != nil {
		return nil, err
	}

	return solana.NewInstruction(p.Futarchy, solana.AccountMetaSlice{
		writable(prop.Dao.Address),
		writable(ammBase),
		writable(ammQuote),
		readonly(prop.Address),
		writable(pools.PassBase),
		writable(pools.PassQuote),
		writable(pools.FailBase),
		writable(pools.FailQuote),
		meta(trader, false, true),
		writable(userIn),
		writable(userOut),
		writable(prop.BaseVault),
		writable(baseUnderlying),
		writable(prop.QuoteVault),
		writable(quoteUnderlying),
		writable(prop.Mints.PassBase),
		writable(prop.Mints.FailBase),
		writable(prop.Mints.PassQuote),
		writable(prop.Mints.FailQuote),
		readonly(p.ConditionalVault),
		readonly(vaultEvents),
		readonly(prop.Question),
		readonly(solana.TokenProgramID),
		readonly(events),
		readonly(p.Futarchy),
	}, data), nil
}

// FinalizeProposal builds the instruction that settles a proposal from its
// market TWAPs and resolves the question.
func (p Programs) FinalizeProposal(prop ProposalRefs) (solana.Instruction, error) {
	pools, err := prop.Pools()
	if err != nil {
		return nil, err
	}
	ammBase, ammQuote, err := prop.Dao.AmmVaults()
	if err != nil {
		return nil, err
	}
	baseUnderlying, err := AssociatedTokenAddress(prop.BaseVault, prop.Dao.BaseMint)
	if err != nil {
		return nil, err
	}
	quoteUnderlying, err := AssociatedTokenAddress(prop.QuoteVault, prop.Dao.QuoteMint)
	if err != nil {
		return nil, err
	}
	vaultEvents, err := p.VaultEventAuthority()
	if err != nil {
		return nil, err
	}
	events, err := p.EventAuthority()
	if err != nil {
		return nil, err
	}
	data, err := encodeInstruction("finalize_proposal", nil)
	if err != nil {
		return nil, err
	}
	return solana.NewInstruction(p.Futarchy, solana.AccountMetaSlice{
		writable(prop.Address),
		writable(prop.Dao.Address),
		writable(prop.Question),
		writable(prop.SquadsProposal),
		readonly(prop.Dao.Multisig),
		readonly(p.Squads),
		writable(pools.PassBase),
		writable(pools.PassQuote),
		writable(pools.FailBase),
		writable(pools.FailQuote),
		writable(ammBase),
		writable(ammQuote),
		readonly(p.ConditionalVault),
		readonly(vaultEvents),
		readonly(solana.TokenProgramID),
		writable(prop.QuoteVault),
		writable(quoteUnderlying),
		writable(prop.Mints.PassQuote),
		writable(prop.Mints.FailQuote),
		writable(prop.Mints.PassBase),
		writable(prop.Mints.FailBase),
		writable(prop.BaseVault),
		writable(baseUnderlying),
		readonly(events),
		readonly(p.Futarchy),
	}, data), nil
}

// WithdrawLiquidity builds the instruction removing liquidity from dao's
// spot pool into the authority's token accounts.
func (p Programs) WithdrawLiquidity(dao DaoRefs, authority solana.PublicKey, liquidity U128, minBase, minQuote uint64) (solana.Instruction, error) {
	position, err := p.AmmPositionAddress(dao.Address, authority)
	if err != nil {
		return nil, err
	}
	ammBase, ammQuote, err := dao.AmmVaults()
	if err != nil {
		return nil, err
	}
	lpBase, err := AssociatedTokenAddress(authority, dao.BaseMint)
	if err != nil {
		return nil, err
	}
	lpQuote, err := AssociatedTokenAddress(authority, dao.QuoteMint)
	if err != nil {
		return nil, err
	}
	events, err := p.EventAuthority()
	if err != nil {
		return nil, err
	}
	data, err := encodeInstruction("withdraw_liquidity", withdrawLiquidityArgs{
		LiquidityToWithdraw: liquidity,
		MinBaseAmount:       minBase,
		MinQuoteAmount:      minQuote,
	})
	if err != nil {
		return nil, err
	}
	return solana.NewInstruction(p.Futarchy, solana.AccountMetaSlice{
		writable(dao.Address),
		meta(authority, false, true),
		writable(lpBase),
		writable(lpQuote),
		writable(ammBase),
		writable(ammQuote),
		writable(position),
		readonly(solana.TokenProgramID),
		readonly(events),
		readonly(p.Futarchy),
	}, data), nil
}

// createIdempotent is the associated token program's CreateIdempotent tag.
// An empty payload is the legacy Create, which fails on existing accounts.
const createIdempotent byte = 1

// CreateTokenAccountIdempotent builds an associated token program
// CreateIdempotent instruction, which succeeds when the account exists.
func CreateTokenAccountIdempotent(payer, owner, mint solana.PublicKey) (solana.Instruction, error) {
	create, err := associatedtokenaccount.NewCreateInstruction(payer, owner, mint).ValidateAndBuild()
	if err != nil {
		return nil, fmt.Errorf("futarchy: create token account: %w", err)
	}
	return solana.NewInstruction(create.ProgramID(), create.Accounts(), []byte{createIdempotent}), nil
}
