package main

import (
	"github.com/spf13/cobra"

	"github.com/alecgard/riff/internal/crypto"
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Print a fresh key for identity.cache_key",
	Long:  "Print a random 32-byte hex key. Set it as identity.cache_key or RIFF_IDENTITY_CACHE_KEY to seal the local session cache.",
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := crypto.GenerateKey()
		if err != nil {
			return err
		}
		cmd.Println(key)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(keygenCmd)
}
