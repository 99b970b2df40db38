package futarchy

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
)

// ProposalContainer is the result of CreateProposalContainer.
type ProposalContainer struct {
	Instructions     []solana.Instruction
	TransactionIndex uint64
	VaultTransaction solana.PublicKey
	SquadsProposal   solana.PublicKey
}

type vaultTransactionCreateArgs struct {
	VaultIndex         uint8
	EphemeralSigners   uint8
	TransactionMessage []byte
	Memo               *string `bin:"optional"`
}

type proposalCreateArgs struct {
	TransactionIndex uint64
	Draft            bool
}

// CreateProposalContainer builds the squads vault transaction and proposal
// that a futarchy proposal is bound to. The wrapped payload is a zero-lamport
// self-transfer from the DAO's treasury vault. creator must be a multisig
// member allowed to initiate, which for futarchy DAOs is the protocol's
// permissionless account; it has to co-sign the transaction.
func (p Programs) CreateProposalContainer(dao DaoRefs, creator, payer solana.PublicKey, index uint64) (ProposalContainer, error) {
	txAddr, err := p.SquadsTransaction(dao.Multisig, index)
	if err != nil {
		return ProposalContainer{}, err
	}
	proposal, err := p.SquadsProposal(dao.Multisig, index)
	if err != nil {
		return ProposalContainer{}, err
	}

	noop := system.NewTransferInstruction(0, dao.MultisigVault, dao.MultisigVault).Build()
	msg, err := compileVaultMessage(dao.MultisigVault, []solana.Instruction{noop})
	if err != nil {
		return ProposalContainer{}, err
	}

	createData, err := encodeInstruction("vault_transaction_create", vaultTransactionCreateArgs{
		VaultIndex:         0,
		EphemeralSigners:   0,
		TransactionMessage: msg,
	})
	if err != nil {
		return ProposalContainer{}, err
	}
	proposalData, err := encodeInstruction("proposal_create", proposalCreateArgs{
		TransactionIndex: index,
		Draft:            false,
	})
	if err != nil {
		return ProposalContainer{}, err
	}

	ixs := []solana.Instruction{
		solana.NewInstruction(p.Squads, solana.AccountMetaSlice{
			writable(dao.Multisig),
			writable(txAddr),
			meta(creator, false, true),
			meta(payer, true, true),
			readonly(solana.SystemProgramID),
		}, createData),
		solana.NewInstruction(p.Squads, solana.AccountMetaSlice{
			readonly(dao.Multisig),
			writable(proposal),
			meta(creator, false, true),
			meta(payer, true, true),
			readonly(solana.SystemProgramID),
		}, proposalData),
	}

	return ProposalContainer{
		Instructions:     ixs,
		TransactionIndex: index,
		VaultTransaction: txAddr,
		SquadsProposal:   proposal,
	}, nil
}

// compileVaultMessage serializes instructions in the squads transaction
// message layout: u8 counts, u8-prefixed key and instruction lists and
// u16-prefixed instruction data. The vault is the only signer.
func compileVaultMessage(vault solana.PublicKey, ixs []solana.Instruction) ([]byte, error) {
	type keyFlags struct{ signer, writable bool }
	order := []solana.PublicKey{vault}
	flags := map[solana.PublicKey]*keyFlags{vault: {signer: true, writable: true}}

	add := func(pk solana.PublicKey, signer, writable bool) {
		f, ok := flags[pk]
		if !ok {
			f = &keyFlags{}
			flags[pk] = f
			order = append(order, pk)
		}
		f.signer = f.signer || signer
		f.writable = f.writable || writable
	}
	for _, ix := range ixs {
		for _, m := range ix.Accounts() {
			add(m.PublicKey, m.IsSigner, m.IsWritable)
		}
		add(ix.ProgramID(), false, false)
	}

	// Writable signers, readonly signers, writable non-signers, readonly
	// non-signers. The vault stays first.
	var keys []solana.PublicKey
	var numSigners, numWritableSigners, numWritableNonSigners uint8
	for pass := 0; pass < 4; pass++ {
		for _, pk := range order {
			f := flags[pk]
			signer, wr := f.signer, f.writable
			var want bool
			switch pass {
			case 0:
				want = signer && wr
			case 1:
				want = signer && !wr
			case 2:
				want = !signer && wr
			case 3:
				want = !signer && !wr
			}
			if !want {
				continue
			}
			keys = append(keys, pk)
			switch {
			case signer && wr:
				numSigners++
				numWritableSigners++
			case signer:
				numSigners++
			case wr:
				numWritableNonSigners++
			}
		}
	}
	if len(keys) > 255 {
		return nil, fmt.Errorf("futarchy: vault message has %d accounts", len(keys))
	}
	index := make(map[solana.PublicKey]uint8, len(keys))
	for i, pk := range keys {
		index[pk] = uint8(i)
	}

	var buf bytes.Buffer
	buf.WriteByte(numSigners)
	buf.WriteByte(numWritableSigners)
	buf.WriteByte(numWritableNonSigners)
	buf.WriteByte(uint8(len(keys)))
	for _, pk := range keys {
		buf.Write(pk.Bytes())
	}
	buf.WriteByte(uint8(len(ixs)))
	for _, ix := range ixs {
		data, err := ix.Data()
		if err != nil {
			return nil, fmt.Errorf("futarchy: vault message data: %w", err)
		}
		buf.WriteByte(index[ix.ProgramID()])
		accounts := ix.Accounts()
		buf.WriteByte(uint8(len(accounts)))
		for _, m := range accounts {
			buf.WriteByte(index[m.PublicKey])
		}
		var n [2]byte
		binary.LittleEndian.PutUint16(n[:], uint16(len(data)))
		buf.Write(n[:])
		buf.Write(data)
	}
	buf.WriteByte(0) // no address table lookups
	return buf.Bytes(), nil
}
