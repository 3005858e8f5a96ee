package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"sircharge/admin/internal/app"
)

var importAuthor string

var importPromptsCmd = &cobra.Command{
	Use:   "import-prompts <file.yaml>",
	Short: "Load prompt configs from a YAML file",
	Long: `Create or update prompt configs from a YAML file with a top-level
"prompts" list. A config whose name already exists gets a new version when its
content differs; the active version is left alone.`,
	Args: cobra.ExactArgs(1),
	RunE: runImportPrompts,
}

func init() {
	importPromptsCmd.Flags().StringVar(&importAuthor, "author", "sircharge-admin", "commit author recorded for imported versions")
}

func runImportPrompts(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	return withService(cmd.Context(), func(svc *app.Service, logger *zap.Logger) error {
		session := app.Session{UserID: "cli", UserName: importAuthor}
		result, err := svc.ImportPrompts(cmd.Context(), session, f)
		out := cmd.OutOrStdout()
		for _, id := range result.Created {
			fmt.Fprintf(out, "created %s\n", id)
		}
		for _, id := range result.Updated {
			fmt.Fprintf(out, "updated %s\n", id)
		}
		for _, id := range result.Unchanged {
			fmt.Fprintf(out, "unchanged %s\n", id)
		}
		if err != nil {
			return describe(err)
		}
		logger.Info("imported prompts",
			zap.Int("created", len(result.Created)),
			zap.Int("updated", len(result.Updated)),
			zap.Int("unchanged", len(result.Unchanged)))
		return nil
	})
}
