package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"csclub/backend/internal/repository"
	"csclub/backend/internal/services"
)

func newAskCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ask [text...]",
		Short: "Run the page workflow once and print its report",
		Long: "Runs the page workflow with the given text, or the configured page prompt\n" +
			"when none is given, then prints the run report followed by the answer.",
		RunE: func(cmd *cobra.Command, args []string) error {
			advisor := newAdvisor(a.cfg, repository.NopJournal{}, a.logger)

			resp, err := advisor.RunPage(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, services.DebugReport(&resp.Data, a.cfg.Page.OutputKey))

			text, err := services.OutputString(resp.Data.Outputs, a.cfg.Page.OutputKey)
			if err != nil {
				text = services.NoOutputText
			}
			fmt.Fprintln(out, text)
			return nil
		},
	}
}
