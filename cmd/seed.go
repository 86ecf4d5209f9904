package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/satriahrh/persona-chat/adapters/persona"
	"github.com/satriahrh/persona-chat/domain"
)

var seedFile string

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load the default persona catalog",
	Long: `Replace every default persona with the ones from the catalog. Personas
created through the API are kept. The built-in catalog is used unless --file
points at a TOML file with the same layout.`,
	Args: cobra.NoArgs,
	RunE: runSeed,
}

func init() {
	seedCmd.Flags().StringVarP(&seedFile, "file", "f", "", "TOML persona catalog to load instead of the built-in one")
	rootCmd.AddCommand(seedCmd)
}

func runSeed(cmd *cobra.Command, _ []string) error {
	var (
		personas     []domain.Persona
		globalPrompt string
		err          error
	)
	if seedFile != "" {
		data, readErr := os.ReadFile(seedFile)
		if readErr != nil {
			return fmt.Errorf("read catalog: %w", readErr)
		}
		personas, globalPrompt, err = persona.ParseCatalog(data)
	} else {
		personas, globalPrompt, err = persona.DefaultCatalog()
	}
	if err != nil {
		return err
	}

	store, err := persona.Open(cfg.PersonaDBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	n, err := store.Seed(cmd.Context(), personas, globalPrompt)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d default personas into %s\n", n, cfg.PersonaDBPath)
	return nil
}
