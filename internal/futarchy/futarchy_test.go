package futarchy

import (
	"bytes"
	"context"
	"encoding/binary"
	"math/big"
	"testing"

	"github.com/alanyoungcy/ideapool/internal/domain"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newKey(t *testing.T) solana.PublicKey {
	t.Helper()
	k, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	return k.PublicKey()
}

func TestAddressDerivationIsDeterministic(t *testing.T) {
	p := DefaultPrograms()
	creator := newKey(t)

	a, err := p.DAOAddress(creator, 1_700_000_000_000)
	require.NoError(t, err)
	b, err := p.DAOAddress(creator, 1_700_000_000_000)
	require.NoError(t, err)
	c, err := p.DAOAddress(creator, 1_700_000_000_001)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)

	authority := newKey(t)
	pos1, err := p.AmmPositionAddress(a, authority)
	require.NoError(t, err)
	pos2, err := p.AmmPositionAddress(a, authority)
	require.NoError(t, err)
	assert.Equal(t, pos1, pos2)

	want, _, err := solana.FindProgramAddress([][]byte{[]byte("amm_position"), a.Bytes(), authority.Bytes()}, p.Futarchy)
	require.NoError(t, err)
	assert.Equal(t, want, pos1)

	ev, err := p.EventAuthority()
	require.NoError(t, err)
	wantEv, _, err := solana.FindProgramAddress([][]byte{[]byte("__event_authority")}, p.Futarchy)
	require.NoError(t, err)
	assert.Equal(t, wantEv, ev)
}

func TestToBaseUnits(t *testing.T) {
	zero := decimal.Zero
	tests := []struct {
		name     string
		amount   string
		decimals int32
		want     uint64
		wantErr  bool
	}{
		{"one and a half usdc", "1.5", 6, 1_500_000, false},
		{"whole", "10", 6, 10_000_000, false},
		{"smallest unit", "0.000001", 6, 1, false},
		{"too precise", "1.0000001", 6, 0, true},
		{"zero", "0", 6, 0, true},
		{"negative", "-2", 6, 0, true},
		{"overflow", "18446744073709.551616", 6, 0, true},
		{"max", "18446744073709.551615", 6, 18446744073709551615, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ToBaseUnits(decimal.RequireFromString(tt.amount), tt.decimals, zero)
			if tt.wantErr {
				assert.ErrorIs(t, err, domain.ErrInvalidAmount)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestToBaseUnitsEpsilonRoundsTowardZero(t *testing.T) {
	got, err := ToBaseUnits(decimal.RequireFromString("1.0000004"), 6, decimal.RequireFromString("0.5"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_000), got)
}

func TestBaseUnitsRoundTrip(t *testing.T) {
	for _, units := range []uint64{1, 999_999, 1_500_000, 123_456_789_012} {
		back, err := ToBaseUnits(FromBaseUnits(units, 6), 6, decimal.Zero)
		require.NoError(t, err)
		assert.Equal(t, units, back)
	}
}

func TestPriceObservation(t *testing.T) {
	obs, err := PriceObservation(decimal.NewFromInt(1), 6, 6)
	require.NoError(t, err)
	assert.Equal(t, "1000000000000", obs.String())
}

func TestSlippageHelpers(t *testing.T) {
	assert.Equal(t, uint64(0), ExpectedSwapOutput(0, 100, 10, 0))
	// 1000 in against 10_000/10_000 reserves without fee.
	assert.Equal(t, uint64(909), ExpectedSwapOutput(10_000, 10_000, 1_000, 0))
	assert.Equal(t, uint64(900), MinOutputWithSlippage(1_000, 1_000))
	assert.Equal(t, uint64(1_000), MinOutputWithSlippage(1_000, 0))
}

func TestU128(t *testing.T) {
	v, ok := new(big.Int).SetString("340282366920938463463374607431768211455", 10)
	require.True(t, ok)
	u, err := U128FromBig(v)
	require.NoError(t, err)
	assert.Equal(t, v.String(), u.String())

	_, err = U128FromBig(new(big.Int).Lsh(big.NewInt(1), 128))
	assert.Error(t, err)
}

func TestConditionalSwapEncodesAmount(t *testing.T) {
	p := DefaultPrograms()
	dao := DaoRefs{Address: newKey(t), BaseMint: newKey(t), QuoteMint: newKey(t), Multisig: newKey(t), MultisigVault: newKey(t)}
	init, err := p.InitializeProposal(dao, newKey(t), newKey(t), newKey(t))
	require.NoError(t, err)
	trader := newKey(t)

	ix, err := p.ConditionalSwap(init.Refs, trader, MarketPass, SwapBuy, 1_500_000, 0)
	require.NoError(t, err)
	data, err := ix.Data()
	require.NoError(t, err)

	disc := instructionDiscriminator("conditional_swap")
	require.Len(t, data, 8+1+1+8+8)
	assert.Equal(t, disc[:], data[:8])
	assert.Equal(t, byte(MarketPass), data[8])
	assert.Equal(t, byte(SwapBuy), data[9])
	assert.Equal(t, uint64(1_500_000), binary.LittleEndian.Uint64(data[10:18]))
	assert.Equal(t, uint64(0), binary.LittleEndian.Uint64(data[18:26]))

	var signers []solana.PublicKey
	for _, m := range ix.Accounts() {
		if m.IsSigner {
			signers = append(signers, m.PublicKey)
		}
	}
	assert.Equal(t, []solana.PublicKey{trader}, signers)

	_, err = p.ConditionalSwap(init.Refs, trader, MarketSpot, SwapBuy, 1, 0)
	assert.Error(t, err)
}

func TestLaunchPoolsAreDaoOwnedQuoteAccounts(t *testing.T) {
	p := DefaultPrograms()
	dao := DaoRefs{Address: newKey(t), BaseMint: newKey(t), QuoteMint: newKey(t), Multisig: newKey(t), MultisigVault: newKey(t)}
	init, err := p.InitializeProposal(dao, newKey(t), newKey(t), newKey(t))
	require.NoError(t, err)
	require.Len(t, init.Instructions, 4)

	launch, err := p.LaunchProposal(init.Refs, newKey(t))
	require.NoError(t, err)

	pass, err := AssociatedTokenAddress(dao.Address, init.Refs.Mints.PassQuote)
	require.NoError(t, err)
	fail, err := AssociatedTokenAddress(dao.Address, init.Refs.Mints.FailQuote)
	require.NoError(t, err)
	assert.Equal(t, pass, launch.PassPool)
	assert.Equal(t, fail, launch.FailPool)
	assert.NotEqual(t, launch.PassPool, launch.FailPool)
}

func TestProposalContainerRequiresCreatorSignature(t *testing.T) {
	p := DefaultPrograms()
	multisig := newKey(t)
	dao := DaoRefs{Address: newKey(t), Multisig: multisig, MultisigVault: newKey(t)}
	creator, payer := newKey(t), newKey(t)

	c, err := p.CreateProposalContainer(dao, creator, payer, 42)
	require.NoError(t, err)
	require.Len(t, c.Instructions, 2)

	want, err := p.SquadsProposal(multisig, 42)
	require.NoError(t, err)
	assert.Equal(t, want, c.SquadsProposal)

	for _, ix := range c.Instructions {
		var creatorSigns bool
		for _, m := range ix.Accounts() {
			if m.PublicKey.Equals(creator) && m.IsSigner {
				creatorSigns = true
			}
		}
		assert.True(t, creatorSigns)
	}
}

func TestCompileVaultMessage(t *testing.T) {
	vault := newKey(t)
	noop := solana.NewInstruction(solana.SystemProgramID, solana.AccountMetaSlice{
		solana.NewAccountMeta(vault, true, true),
		solana.NewAccountMeta(vault, true, false),
	}, []byte{2, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0})

	msg, err := compileVaultMessage(vault, []solana.Instruction{noop})
	require.NoError(t, err)

	// signers, writable signers, writable non-signers, key count
	assert.Equal(t, []byte{1, 1, 0, 2}, msg[:4])
	assert.True(t, bytes.Equal(vault.Bytes(), msg[4:36]))
	assert.True(t, bytes.Equal(solana.SystemProgramID.Bytes(), msg[36:68]))
	// one instruction: program index 1, two accounts both index 0, 12 bytes
	assert.Equal(t, []byte{1, 1, 2, 0, 0, 12, 0}, msg[68:75])
	assert.Equal(t, byte(0), msg[len(msg)-1])
}

func TestAccountRoundTrip(t *testing.T) {
	pos := AmmPosition{Dao: newKey(t), PositionAuthority: newKey(t), Liquidity: U128{Lo: 5_000}}
	data, err := EncodeAmmPosition(pos)
	require.NoError(t, err)
	assert.Len(t, data, ammPositionSize)

	got, err := DecodeAmmPosition(data)
	require.NoError(t, err)
	assert.Equal(t, pos, got)

	_, err = DecodeDao(data)
	assert.Error(t, err)
}

func TestCreateTokenAccountIdempotent(t *testing.T) {
	payer, mint := newKey(t), newKey(t)
	ix, err := CreateTokenAccountIdempotent(payer, payer, mint)
	require.NoError(t, err)

	assert.Equal(t, solana.SPLAssociatedTokenAccountProgramID, ix.ProgramID())
	data, err := ix.Data()
	require.NoError(t, err)
	assert.Equal(t, []byte{1}, data)

	ata, err := AssociatedTokenAddress(payer, mint)
	require.NoError(t, err)
	accounts := ix.Accounts()
	require.GreaterOrEqual(t, len(accounts), 6)
	assert.True(t, accounts[0].IsSigner)
	assert.Equal(t, ata, accounts[1].PublicKey)
	assert.True(t, accounts[1].IsWritable)
	assert.Equal(t, mint, accounts[3].PublicKey)
	assert.Equal(t, solana.TokenProgramID, accounts[5].PublicKey)

	_, err = CreateTokenAccountIdempotent(payer, solana.PublicKey{}, mint)
	assert.Error(t, err)
}

// daoBytes lays out a DAO account field by field: discriminator, embedded
// AMM, governance fields, seq_num, the optional spending limit and the team
// fields.
type daoBytes struct{ bytes.Buffer }

func (b *daoBytes) u8(v uint8) { b.WriteByte(v) }
func (b *daoBytes) u16(v uint16) {
	b.Write(binary.LittleEndian.AppendUint16(nil, v))
}
func (b *daoBytes) u32(v uint32) {
	b.Write(binary.LittleEndian.AppendUint32(nil, v))
}
func (b *daoBytes) u64(v uint64) {
	b.Write(binary.LittleEndian.AppendUint64(nil, v))
}
func (b *daoBytes) u128(lo uint64)         { b.u64(lo); b.u64(0) }
func (b *daoBytes) key(k solana.PublicKey) { b.Write(k[:]) }

func (b *daoBytes) pool(quote, base uint64) {
	b.u128(1)     // aggregator
	b.u64(100)    // last updated
	b.u64(50)     // created at
	b.u128(2)     // last price
	b.u128(3)     // last observation
	b.u128(4)     // max change per update
	b.u128(5)     // initial observation
	b.u32(86_400) // start delay
	b.u64(quote)
	b.u64(base)
	b.u64(0)
	b.u64(0)
}

func TestDecodeDaoLayout(t *testing.T) {
	creator, multisig, vault := newKey(t), newKey(t), newKey(t)
	baseMint, quoteMint, team, member := newKey(t), newKey(t), newKey(t), newKey(t)
	ammBase, ammQuote := newKey(t), newKey(t)

	var b daoBytes
	disc := accountDiscriminator(accountDao)
	b.Write(disc[:])
	b.u8(1) // futarchy state: spot, pass, fail
	b.pool(10_000, 20_000)
	b.pool(3_000, 4_000)
	b.pool(5_000, 6_000)
	b.u128(777) // total liquidity
	b.key(baseMint)
	b.key(quoteMint)
	b.key(ammBase)
	b.key(ammQuote)
	b.u64(1_700_000_000_000) // nonce
	b.key(creator)
	b.u8(254)
	b.key(multisig)
	b.key(vault)
	b.key(baseMint)
	b.key(quoteMint)
	b.u32(7)       // proposal count
	b.u16(300)     // pass threshold
	b.u32(259_200) // seconds per proposal
	b.u128(1_000_000)
	b.u128(10_000)
	b.u32(86_400)
	b.u64(10_000)
	b.u64(10_000)
	b.u64(0)
	b.u64(42) // seq num
	b.u8(1)   // spending limit present
	b.u64(5_000)
	b.u32(1)
	b.key(member)
	b.u16(300)
	b.key(team)

	dao, err := DecodeDao(b.Bytes())
	require.NoError(t, err)
	assert.True(t, dao.Amm.State.Futarchy)
	assert.Equal(t, uint64(10_000), dao.Amm.State.Spot.QuoteReserves)
	assert.Equal(t, uint64(4_000), dao.Amm.State.Pass.BaseReserves)
	assert.Equal(t, uint64(5_000), dao.Amm.State.Fail.QuoteReserves)
	assert.Equal(t, uint32(86_400), dao.Amm.State.Fail.Oracle.StartDelaySeconds)
	assert.Equal(t, "777", dao.Amm.TotalLiquidity.String())
	assert.Equal(t, ammQuote, dao.Amm.AmmQuoteVault)
	assert.Equal(t, uint64(1_700_000_000_000), dao.Nonce)
	assert.Equal(t, creator, dao.DaoCreator)
	assert.Equal(t, multisig, dao.SquadsMultisig)
	assert.Equal(t, vault, dao.SquadsMultisigVault)
	assert.Equal(t, baseMint, dao.BaseMint)
	assert.Equal(t, quoteMint, dao.QuoteMint)
	assert.Equal(t, uint32(7), dao.ProposalCount)
	assert.Equal(t, uint64(42), dao.SeqNum)
	require.NotNil(t, dao.InitialSpendingLimit)
	assert.Equal(t, []solana.PublicKey{member}, dao.InitialSpendingLimit.Members)
	assert.Equal(t, int16(300), dao.TeamSponsoredPassThresholdBps)
	assert.Equal(t, team, dao.TeamAddress)

	again, err := EncodeDao(dao)
	require.NoError(t, err)
	assert.Equal(t, b.Bytes(), again)
}

func TestDecodeDaoSpotState(t *testing.T) {
	want := Dao{
		Amm:       FutarchyAmm{State: PoolState{Spot: Pool{QuoteReserves: 9}}},
		BaseMint:  newKey(t),
		QuoteMint: newKey(t),
		SeqNum:    3,
	}
	data, err := EncodeDao(want)
	require.NoError(t, err)
	// The spot variant follows the discriminator.
	assert.Equal(t, byte(0), data[discriminatorLen])

	got, err := DecodeDao(data)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	data[discriminatorLen] = 9
	_, err = DecodeDao(data)
	assert.ErrorContains(t, err, "unknown pool state")
}

type fakeReader struct {
	accounts map[solana.PublicKey][]byte
	program  []*rpc.KeyedAccount
}

func (f *fakeReader) AccountData(_ context.Context, addr solana.PublicKey) ([]byte, error) {
	if d, ok := f.accounts[addr]; ok {
		return d, nil
	}
	return nil, domain.ErrNotFound
}

func (f *fakeReader) ProgramAccounts(context.Context, solana.PublicKey, []rpc.RPCFilter) ([]*rpc.KeyedAccount, error) {
	return f.program, nil
}

func TestFetchAmmPosition(t *testing.T) {
	p := DefaultPrograms()
	dao, authority := newKey(t), newKey(t)
	reader := &fakeReader{accounts: map[solana.PublicKey][]byte{}}
	c := NewClient(p, reader)

	addr, pos, err := c.FetchAmmPosition(context.Background(), dao, authority)
	require.NoError(t, err)
	assert.Nil(t, pos)

	data, err := EncodeAmmPosition(AmmPosition{Dao: dao, PositionAuthority: authority, Liquidity: U128{Lo: 77}})
	require.NoError(t, err)
	reader.accounts[addr] = data
	reader.program = []*rpc.KeyedAccount{{
		Pubkey:  addr,
		Account: &rpc.Account{Data: rpc.DataBytesOrJSONFromBytes(data)},
	}}

	_, pos, err = c.FetchAmmPosition(context.Background(), dao, authority)
	require.NoError(t, err)
	require.NotNil(t, pos)
	assert.Equal(t, uint64(77), pos.Liquidity.Lo)

	all, err := c.ListAmmPositions(context.Background(), dao)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, addr, all[0].Address)
}

func TestProposalRefsChecksDao(t *testing.T) {
	p := DefaultPrograms()
	daoAddr, otherDao, propAddr := newKey(t), newKey(t), newKey(t)
	daoData, err := EncodeDao(Dao{BaseMint: newKey(t), QuoteMint: newKey(t)})
	require.NoError(t, err)
	propData, err := EncodeProposal(Proposal{Dao: otherDao, State: ProposalPending})
	require.NoError(t, err)

	c := NewClient(p, &fakeReader{accounts: map[solana.PublicKey][]byte{daoAddr: daoData, propAddr: propData}})
	_, _, err = c.ProposalRefs(context.Background(), daoAddr, propAddr)
	assert.Error(t, err)
}

func TestNextTransactionIndex(t *testing.T) {
	multisig := newKey(t)
	data, err := EncodeSquadsMultisig(SquadsMultisig{CreateKey: newKey(t), Threshold: 1, TransactionIndex: 6})
	require.NoError(t, err)

	c := NewClient(DefaultPrograms(), &fakeReader{accounts: map[solana.PublicKey][]byte{multisig: data}})
	next, err := c.NextTransactionIndex(context.Background(), multisig)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), next)

	_, err = c.NextTransactionIndex(context.Background(), newKey(t))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
