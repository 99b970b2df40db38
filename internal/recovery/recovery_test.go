package recovery

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/alanyoungcy/ideapool/internal/domain"
	"github.com/alanyoungcy/ideapool/internal/futarchy"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newKey() solana.PublicKey { return solana.NewWallet().PublicKey() }

// fakeChain is the signer's ledger and the futarchy account reader.
type fakeChain struct {
	signer   solana.PublicKey
	accounts map[solana.PublicKey][]byte
	program  []*rpc.KeyedAccount
	balances map[solana.PublicKey]uint64
	sent     [][]solana.Instruction

	// onSend credits balances when a transaction lands.
	onSend map[solana.PublicKey]uint64
}

func (f *fakeChain) PublicKey() solana.PublicKey { return f.signer }

func (f *fakeChain) TokenBalance(_ context.Context, addr solana.PublicKey) (uint64, error) {
	return f.balances[addr], nil
}

func (f *fakeChain) SignAndSend(_ context.Context, ixs []solana.Instruction, _ ...solana.PrivateKey) (solana.Signature, error) {
	f.sent = append(f.sent, ixs)
	for addr, n := range f.onSend {
		f.balances[addr] += n
	}
	var sig solana.Signature
	sig[0] = 9
	return sig, nil
}

func (f *fakeChain) ExplorerLink(sig solana.Signature) string {
	return "https://explorer.test/tx/" + sig.String()
}

func (f *fakeChain) AccountData(_ context.Context, addr solana.PublicKey) ([]byte, error) {
	if d, ok := f.accounts[addr]; ok {
		return d, nil
	}
	return nil, domain.ErrNotFound
}

func (f *fakeChain) ProgramAccounts(context.Context, solana.PublicKey, []rpc.RPCFilter) ([]*rpc.KeyedAccount, error) {
	return f.program, nil
}

type fixture struct {
	chain     *fakeChain
	tool      *Tool
	programs  futarchy.Programs
	dao       solana.PublicKey
	baseMint  solana.PublicKey
	quoteMint solana.PublicKey
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	f := fixture{
		chain: &fakeChain{
			signer:   newKey(),
			accounts: map[solana.PublicKey][]byte{},
			balances: map[solana.PublicKey]uint64{},
		},
		programs:  futarchy.DefaultPrograms(),
		dao:       newKey(),
		baseMint:  newKey(),
		quoteMint: newKey(),
	}
	data, err := futarchy.EncodeDao(futarchy.Dao{BaseMint: f.baseMint, QuoteMint: f.quoteMint})
	require.NoError(t, err)
	f.chain.accounts[f.dao] = data

	protocol := futarchy.NewClient(f.programs, f.chain)
	f.tool = New(f.chain, protocol, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return f
}

func (f fixture) addPosition(t *testing.T, authority solana.PublicKey, liquidity uint64) solana.PublicKey {
	t.Helper()
	addr, err := f.programs.AmmPositionAddress(f.dao, authority)
	require.NoError(t, err)
	data, err := futarchy.EncodeAmmPosition(futarchy.AmmPosition{
		Dao:               f.dao,
		PositionAuthority: authority,
		Liquidity:         futarchy.U128{Lo: liquidity},
	})
	require.NoError(t, err)
	f.chain.accounts[addr] = data
	f.chain.program = append(f.chain.program, &rpc.KeyedAccount{
		Pubkey:  addr,
		Account: &rpc.Account{Data: rpc.DataBytesOrJSONFromBytes(data)},
	})
	return addr
}

func TestInspectReportsSignerPosition(t *testing.T) {
	f := newFixture(t)
	addr := f.addPosition(t, f.chain.signer, 5_000)

	r, err := f.tool.Inspect(context.Background(), f.dao, false)
	require.NoError(t, err)
	assert.True(t, r.Signer.Exists)
	assert.Equal(t, addr, r.Signer.Address)
	assert.Equal(t, uint64(5_000), r.Signer.Liquidity.Lo)
	assert.Equal(t, f.baseMint, r.BaseMint)
	assert.False(t, r.Scanned)
	assert.Empty(t, f.chain.sent)
}

func TestInspectScansWhenSignerHasNoPosition(t *testing.T) {
	f := newFixture(t)
	f.addPosition(t, newKey(), 10)
	f.addPosition(t, newKey(), 20)

	r, err := f.tool.Inspect(context.Background(), f.dao, false)
	require.NoError(t, err)
	assert.False(t, r.Signer.Exists)
	assert.True(t, r.Scanned)
	assert.Len(t, r.Positions, 2)
}

func TestInspectIsRepeatable(t *testing.T) {
	f := newFixture(t)
	f.addPosition(t, f.chain.signer, 42)

	first, err := f.tool.Inspect(context.Background(), f.dao, true)
	require.NoError(t, err)
	second, err := f.tool.Inspect(context.Background(), f.dao, true)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Empty(t, f.chain.sent)
}

func TestInspectUnknownDao(t *testing.T) {
	f := newFixture(t)
	_, err := f.tool.Inspect(context.Background(), newKey(), false)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestWithdrawRefusals(t *testing.T) {
	f := newFixture(t)
	_, err := f.tool.Withdraw(context.Background(), f.dao)
	assert.ErrorIs(t, err, ErrNoPosition)

	f.addPosition(t, f.chain.signer, 0)
	_, err = f.tool.Withdraw(context.Background(), f.dao)
	assert.ErrorIs(t, err, ErrZeroLiquidity)
	assert.Empty(t, f.chain.sent)
}

func TestWithdrawFullPosition(t *testing.T) {
	f := newFixture(t)
	f.addPosition(t, f.chain.signer, 1_000)

	baseATA, err := futarchy.AssociatedTokenAddress(f.chain.signer, f.baseMint)
	require.NoError(t, err)
	quoteATA, err := futarchy.AssociatedTokenAddress(f.chain.signer, f.quoteMint)
	require.NoError(t, err)
	f.chain.balances[quoteATA] = 50
	f.chain.onSend = map[solana.PublicKey]uint64{baseATA: 700, quoteATA: 300}

	w, err := f.tool.Withdraw(context.Background(), f.dao)
	require.NoError(t, err)

	require.Len(t, f.chain.sent, 1)
	ixs := f.chain.sent[0]
	require.Len(t, ixs, 3)
	assert.Equal(t, solana.SPLAssociatedTokenAccountProgramID, ixs[0].ProgramID())
	assert.Equal(t, solana.SPLAssociatedTokenAccountProgramID, ixs[1].ProgramID())
	assert.Equal(t, f.programs.Futarchy, ixs[2].ProgramID())

	assert.Equal(t, uint64(1_000), w.Liquidity.Lo)
	assert.Equal(t, int64(700), w.BaseDelta())
	assert.Equal(t, int64(300), w.QuoteDelta())
	assert.Equal(t, uint64(350), w.QuoteAfter)
	assert.Contains(t, w.ExplorerURL, w.Signature.String())
}

func TestWriteReport(t *testing.T) {
	f := newFixture(t)
	f.addPosition(t, f.chain.signer, 42)
	f.addPosition(t, newKey(), 7)

	r, err := f.tool.Inspect(context.Background(), f.dao, true)
	require.NoError(t, err)

	var buf bytes.Buffer
	WriteReport(&buf, r)
	out := buf.String()
	assert.Contains(t, out, f.dao.String())
	assert.Contains(t, out, "Liquidity:    42")
	assert.Contains(t, out, "Positions for DAO (2)")
	assert.Contains(t, out, f.chain.signer.String())
}
