package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/plantrungnampl/realtime-board-sub000/internal/boardauth"
)

func keygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a P-256 JWT signing key for board session tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, encoded, err := boardauth.GenerateECKey()
			if err != nil {
				return fmt.Errorf("generate key: %w", err)
			}
			fmt.Println(encoded)
			fmt.Fprintln(cmd.ErrOrStderr(), "set this as BOARDENGINE_JWT_KEY")
			return nil
		},
	}
}
