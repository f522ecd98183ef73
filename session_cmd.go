package main

import (
	"github.com/researchaccelerator-hub/telegram-netscan/telegramhelper"
	"github.com/spf13/cobra"
)

func newGenerateSessionCmd(a *app) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "generate-session",
		Short: "Log in interactively and pack the TDLib session into a reusable archive",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.load(cmd, nil)
			if err != nil {
				return err
			}
			return telegramhelper.GenerateSessionArchive(cmd.Context(), connectConfig(cfg), out)
		},
	}
	cmd.Flags().StringVar(&out, "out", "tdlib_session.tar.gz", "archive to write")
	return cmd
}
