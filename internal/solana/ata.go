package solana

import (
	"fmt"

	"swap-relay/internal/domain"
)

// FindAssociatedTokenAddress returns the associated token account of owner
// for mint under the classic token program.
func FindAssociatedTokenAddress(owner, mint PublicKey) (PublicKey, error) {
	return FindAssociatedTokenAddressWithProgram(owner, mint, TokenProgramID)
}

// FindAssociatedTokenAddressWithProgram derives the associated token account
// for a mint owned by tokenProgram.
func FindAssociatedTokenAddressWithProgram(owner, mint, tokenProgram PublicKey) (PublicKey, error) {
	ata, _, err := FindProgramAddress(
		[][]byte{owner[:], tokenProgram[:], mint[:]},
		AssociatedTokenProgramID,
	)
	return ata, err
}

// ResolveTokenAccounts derives the owner's associated token accounts for two
// mints. It is pure and safe for concurrent use.
// Returns domain.ErrInvalidIdentity if any address is malformed.
func ResolveTokenAccounts(owner, tokenA, tokenB string) (string, string, error) {
	ownerKey, err := ParsePublicKey(owner)
	if err != nil {
		return "", "", fmt.Errorf("%w: owner: %v", domain.ErrInvalidIdentity, err)
	}
	mintA, err := ParsePublicKey(tokenA)
	if err != nil {
		return "", "", fmt.Errorf("%w: token %q: %v", domain.ErrInvalidIdentity, tokenA, err)
	}
	mintB, err := ParsePublicKey(tokenB)
	if err != nil {
		return "", "", fmt.Errorf("%w: token %q: %v", domain.ErrInvalidIdentity, tokenB, err)
	}

	accountA, err := FindAssociatedTokenAddress(ownerKey, mintA)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", domain.ErrInvalidIdentity, err)
	}
	accountB, err := FindAssociatedTokenAddress(ownerKey, mintB)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", domain.ErrInvalidIdentity, err)
	}
	return accountA.String(), accountB.String(), nil
}
