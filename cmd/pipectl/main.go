// pipectl inspects the generation pipeline offline: derived seeds, resource
// selection and full pass graphs, without a database or backend.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/G858-debug/No-Safe-Word-sub002/internal/domain"
	"github.com/G858-debug/No-Safe-Word-sub002/internal/pipeline"
	"github.com/G858-debug/No-Safe-Word-sub002/internal/selector"
)

func main() {
	root := &cobra.Command{
		Use:           "pipectl",
		Short:         "Inspect the image generation pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(seedsCmd(), selectCmd(), graphCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func seedsCmd() *cobra.Command {
	var seed int64
	cmd := &cobra.Command{
		Use:   "seeds",
		Short: "Print the per-pass seeds derived from a base seed",
		RunE: func(cmd *cobra.Command, args []string) error {
			return printJSON(pipeline.DeriveSeeds(seed))
		},
	}
	cmd.Flags().Int64Var(&seed, "seed", 0, "base seed")
	return cmd
}

func selectCmd() *cobra.Command {
	var prompt, scene, forceModel string
	cmd := &cobra.Command{
		Use:   "select",
		Short: "Classify a prompt and show the selected checkpoint and adapters",
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := domain.NormalizeSceneKind(scene)
			cls := selector.Classify(prompt, kind)
			sel := selector.Select(cls, kind, selector.Options{ForceModel: forceModel})
			return printJSON(map[string]any{
				"classification": cls,
				"selection":      sel,
			})
		},
	}
	cmd.Flags().StringVar(&prompt, "prompt", "", "scene prompt")
	cmd.Flags().StringVar(&scene, "scene", "full_body", "scene kind (portrait, full_body, story_scene)")
	cmd.Flags().StringVar(&forceModel, "force-model", "", "bypass selection with a fixed checkpoint")
	_ = cmd.MarkFlagRequired("prompt")
	return cmd
}

func graphCmd() *cobra.Command {
	var (
		prompt, scene, trigger, secondTrigger string
		seed                                  int64
		width, height                         int
		skipFace, debug                       bool
	)
	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Build and print the full pass graph for a prompt",
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := domain.NormalizeSceneKind(scene)
			cls := selector.Classify(prompt, kind)
			primary := pipeline.CharacterRef{
				ID:          "primary",
				Name:        "primary",
				Gender:      domain.CharacterGenderFemale,
				TriggerWord: trigger,
			}
			var secondary *pipeline.CharacterRef
			if secondTrigger != "" {
				cls.DualCharacter = true
				secondary = &pipeline.CharacterRef{
					ID:          "secondary",
					Name:        "secondary",
					Gender:      domain.CharacterGenderMale,
					TriggerWord: secondTrigger,
				}
			}
			sel := selector.Select(cls, kind, selector.Options{})
			built, err := pipeline.Build(pipeline.Request{
				Prompt:           prompt,
				SceneKind:        kind,
				Selection:        sel,
				Primary:          primary,
				Secondary:        secondary,
				BaseSeed:         seed,
				Width:            width,
				Height:           height,
				SkipFaceDetailer: skipFace,
				Debug:            debug,
			})
			if err != nil {
				return err
			}
			return printJSON(built.Graph)
		},
	}
	cmd.Flags().StringVar(&prompt, "prompt", "", "scene prompt")
	cmd.Flags().StringVar(&scene, "scene", "full_body", "scene kind")
	cmd.Flags().StringVar(&trigger, "trigger", "nsw_character", "primary character trigger word")
	cmd.Flags().StringVar(&secondTrigger, "second-trigger", "", "secondary character trigger word (enables dual-character passes)")
	cmd.Flags().Int64Var(&seed, "seed", 42, "base seed")
	cmd.Flags().IntVar(&width, "width", 1024, "output width")
	cmd.Flags().IntVar(&height, "height", 1024, "output height")
	cmd.Flags().BoolVar(&skipFace, "skip-face-detailer", false, "omit the face refinement passes")
	cmd.Flags().BoolVar(&debug, "debug", false, "add per-pass debug image taps")
	_ = cmd.MarkFlagRequired("prompt")
	return cmd
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
