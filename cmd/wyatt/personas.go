package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/loadmi/Wyatt-sub000/internal/statepaths"
	"github.com/loadmi/Wyatt-sub000/persona"
)

func newPersonasCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "personas",
		Short: "List the persona definitions in the personas directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := persona.LoadRegistry(statepaths.PersonasDir())
			if err != nil {
				return err
			}
			defaultID := viper.GetString("personas.default_id")
			for _, id := range registry.IDs() {
				def, _ := registry.Get(id)
				marker := ""
				if id == defaultID {
					marker = " (default)"
				}
				name := def.Name
				if name == "" {
					name = "-"
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s%s\n", id, name, marker)
			}
			return nil
		},
	}
}
