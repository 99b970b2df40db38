// Package futarchy builds instructions for the futarchy DAO, conditional vault
// and squads multisig programs and decodes their accounts. Builders are pure:
// they never touch the network and return unsigned instructions together with
// every address they derived.
package futarchy

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// Well-known program ids and mints on mainnet-beta.
const (
	DefaultProgramID                 = "metaRK9dUBnrAdZN6uUDKvxBVKW5pyCbPVmLtUZwtBp"
	DefaultConditionalVaultProgramID = "VLTX1ishMBbcX3rdBWGssxawAo1Q2X2qxYFYqiGodVg"
	DefaultSquadsProgramID           = "SQDS4ep65T869zMMBKyuUq6aD6EgTu8psMjkvj52pCf"

	MetaMint = "METADDFL6wWMWEoKTFJwcThTbUmtarRJZjRpzUvkxhr"
	USDCMint = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
)

// Programs groups the program ids a Client talks to.
type Programs struct {
	Futarchy         solana.PublicKey
	ConditionalVault solana.PublicKey
	Squads           solana.PublicKey
}

// ParsePrograms parses base58 program ids. Empty strings fall back to the
// mainnet defaults.
func ParsePrograms(futarchy, vault, squads string) (Programs, error) {
	var p Programs
	var err error
	if p.Futarchy, err = parseOr(futarchy, DefaultProgramID); err != nil {
		return Programs{}, fmt.Errorf("futarchy: program id: %w", err)
	}
	if p.ConditionalVault, err = parseOr(vault, DefaultConditionalVaultProgramID); err != nil {
		return Programs{}, fmt.Errorf("futarchy: conditional vault program id: %w", err)
	}
	if p.Squads, err = parseOr(squads, DefaultSquadsProgramID); err != nil {
		return Programs{}, fmt.Errorf("futarchy: squads program id: %w", err)
	}
	return p, nil
}

// DefaultPrograms returns the mainnet program ids.
func DefaultPrograms() Programs {
	p, err := ParsePrograms("", "", "")
	if err != nil {
		panic(err)
	}
	return p
}

func parseOr(s, fallback string) (solana.PublicKey, error) {
	if s == "" {
		s = fallback
	}
	return solana.PublicKeyFromBase58(s)
}
