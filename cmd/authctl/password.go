package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"classdesk.org/internal/auth"
)

func newPasswordCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "password",
		Short: "Generate or hash passwords",
	}
	cmd.AddCommand(newPasswordGenerateCmd())
	cmd.AddCommand(newPasswordHashCmd())
	return cmd
}

func newPasswordGenerateCmd() *cobra.Command {
	var length int
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Print a random password with every character class",
		RunE: func(cmd *cobra.Command, _ []string) error {
			pm, err := auth.NewPasswordManager(auth.WithBcryptCost(4))
			if err != nil {
				return err
			}
			pw, err := pm.GenerateRandomPassword(length)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), pw)
			return nil
		},
	}
	cmd.Flags().IntVar(&length, "length", auth.DefaultPasswordLength, "password length")
	return cmd
}

func newPasswordHashCmd() *cobra.Command {
	var cost int
	cmd := &cobra.Command{
		Use:   "hash",
		Short: "Read a password from stdin and print its bcrypt digest",
		RunE: func(cmd *cobra.Command, _ []string) error {
			pm, err := auth.NewPasswordManager(auth.WithBcryptCost(cost))
			if err != nil {
				return err
			}
			plain, err := readSecretLine(cmd.InOrStdin())
			if err != nil {
				return err
			}
			digest, err := pm.Hash(plain)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), digest)
			return nil
		},
	}
	cmd.Flags().IntVar(&cost, "cost", 0, "bcrypt cost (0 keeps the default)")
	return cmd
}
