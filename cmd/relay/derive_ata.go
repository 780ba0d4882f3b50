package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"swap-relay/internal/solana"
)

func runDeriveATA(cmd *cobra.Command, _ []string) error {
	ownerArg, _ := cmd.Flags().GetString("owner")
	mintArg, _ := cmd.Flags().GetString("mint")
	token2022, _ := cmd.Flags().GetBool("token-2022")

	owner, err := solana.ParsePublicKey(ownerArg)
	if err != nil {
		return fmt.Errorf("owner: %w", err)
	}
	mint, err := solana.ParsePublicKey(mintArg)
	if err != nil {
		return fmt.Errorf("mint: %w", err)
	}

	program := solana.TokenProgramID
	if token2022 {
		program = solana.Token2022ProgramID
	}
	ata, err := solana.FindAssociatedTokenAddressWithProgram(owner, mint, program)
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), ata.String())
	return nil
}
