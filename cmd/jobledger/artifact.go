package main

import (
	"github.com/spf13/cobra"

	"github.com/petrijr/jobledger"
)

func newArtifactCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "artifact",
		Short: "Register job artifacts",
	}

	var kind, path, sha256, actor string
	register := &cobra.Command{
		Use:   "register JOB_ID ARTIFACT_ID",
		Short: "Register or refresh an artifact by path",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := a.ledger.Jobs.RegisterArtifact(cmd.Context(), jobledger.Artifact{
				JobID:      args[0],
				ArtifactID: args[1],
				Kind:       kind,
				Path:       path,
				SHA256:     sha256,
			}, actor, "")
			return a.respond(cmd, map[string]string{"artifact_id": args[1]}, err)
		},
	}
	register.Flags().StringVar(&kind, "kind", "", "artifact kind, e.g. csv or xlsx")
	register.Flags().StringVar(&path, "path", "", "artifact location")
	register.Flags().StringVar(&sha256, "sha256", "", "content hash")
	register.Flags().StringVar(&actor, "actor", "", "acting party (default \"glue\")")

	cmd.AddCommand(register)
	return cmd
}
