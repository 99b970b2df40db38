package ledger

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gagliardetto/solana-go"
)

// Wallet is the signing identity the Client submits transactions for.
// Implementations may be local keys or remote signers.
type Wallet interface {
	PublicKey() solana.PublicKey
	SignTransaction(ctx context.Context, tx *solana.Transaction) error
}

// BatchSigner is implemented by wallets that can sign several transactions
// in one round trip.
type BatchSigner interface {
	SignAllTransactions(ctx context.Context, txs []*solana.Transaction) error
}

// KeypairWallet signs with a private key held in memory.
type KeypairWallet struct {
	key solana.PrivateKey
}

// NewKeypairWallet wraps key.
func NewKeypairWallet(key solana.PrivateKey) *KeypairWallet {
	return &KeypairWallet{key: key}
}

// PublicKey returns the wallet's address.
func (w *KeypairWallet) PublicKey() solana.PublicKey { return w.key.PublicKey() }

// SignTransaction adds the wallet's signature to tx.
func (w *KeypairWallet) SignTransaction(_ context.Context, tx *solana.Transaction) error {
	return partialSign(tx, w.key)
}

// SignAllTransactions signs every transaction in txs.
func (w *KeypairWallet) SignAllTransactions(ctx context.Context, txs []*solana.Transaction) error {
	for i, tx := range txs {
		if err := w.SignTransaction(ctx, tx); err != nil {
			return fmt.Errorf("ledger: sign transaction %d: %w", i, err)
		}
	}
	return nil
}

// partialSign places each key's signature at its slot among the message's
// required signers, leaving other slots untouched.
func partialSign(tx *solana.Transaction, keys ...solana.PrivateKey) error {
	msg, err := tx.Message.MarshalBinary()
	if err != nil {
		return fmt.Errorf("ledger: marshal message: %w", err)
	}
	n := int(tx.Message.Header.NumRequiredSignatures)
	if len(tx.Signatures) != n {
		tx.Signatures = make([]solana.Signature, n)
	}
	for _, key := range keys {
		pub := key.PublicKey()
		slot := -1
		for i := 0; i < n && i < len(tx.Message.AccountKeys); i++ {
			if tx.Message.AccountKeys[i].Equals(pub) {
				slot = i
				break
			}
		}
		if slot < 0 {
			return fmt.Errorf("ledger: %s is not a required signer", pub)
		}
		sig, err := key.Sign(msg)
		if err != nil {
			return fmt.Errorf("ledger: sign as %s: %w", pub, err)
		}
		tx.Signatures[slot] = sig
	}
	return nil
}

// missingSigner returns the first required signer without a signature.
func missingSigner(tx *solana.Transaction) (solana.PublicKey, bool) {
	var zero solana.Signature
	n := int(tx.Message.Header.NumRequiredSignatures)
	for i := 0; i < n; i++ {
		if i >= len(tx.Signatures) || tx.Signatures[i] == zero {
			return tx.Message.AccountKeys[i], true
		}
	}
	return solana.PublicKey{}, false
}

// ExpandHome replaces a leading "~/" with the user's home directory.
func ExpandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("ledger: resolve home: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

// LoadKeypairFile reads a keypair stored as a JSON array of 64 bytes, the
// format written by solana-keygen.
func LoadKeypairFile(path string) (solana.PrivateKey, error) {
	resolved, err := ExpandHome(path)
	if err != nil {
		return nil, err
	}
	key, err := solana.PrivateKeyFromSolanaKeygenFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("ledger: load keypair %s: %w", resolved, err)
	}
	return key, nil
}

// ParsePrivateKey decodes a base58 secret key.
func ParsePrivateKey(s string) (solana.PrivateKey, error) {
	key, err := solana.PrivateKeyFromBase58(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("ledger: parse private key: %w", err)
	}
	return key, nil
}
