package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bobarin/fragment/internal/app"
	"github.com/bobarin/fragment/internal/config"
	"github.com/bobarin/fragment/internal/models"
	"github.com/bobarin/fragment/internal/orchestrator"
	"github.com/bobarin/fragment/internal/services"
)

func newPlanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan <topic>",
		Short: "Run only the script stage and print the scene plan as JSON",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := requestFromFlags(cmd, strings.Join(args, " "))
			if err != nil {
				return err
			}
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}

			openaiSvc := services.NewOpenAIService(cfg.OpenAIKey, cfg.OpenAIBaseURL)
			writer := services.NewScriptWriter(openaiSvc, cfg.ScriptModel)
			plan, err := orchestrator.Script(cmd.Context(), writer, app.Policies(cfg).Script, req)
			if err != nil {
				return err
			}
			return printPlan(cmd.OutOrStdout(), plan)
		},
	}
	addRequestFlags(cmd)
	return cmd
}

func printPlan(w io.Writer, plan *models.ScenePlan) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(plan)
}
