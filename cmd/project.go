package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gluk-w/codelive/internal/config"
	"github.com/gluk-w/codelive/internal/database"
	"github.com/gluk-w/codelive/internal/filetree"
)

const maxSeedFileSize = 1 << 20

func newProjectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Manage projects",
	}
	cmd.AddCommand(newProjectCreateCmd())
	return cmd
}

func newProjectCreateCmd() *cobra.Command {
	var (
		name string
		from string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a project and print its id",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if name == "" {
				return fmt.Errorf("--name is required")
			}
			var tree *filetree.Tree
			if from != "" {
				var err error
				if tree, err = seedTree(from); err != nil {
					return err
				}
			}

			if err := database.Init(config.Cfg.DatabasePath); err != nil {
				return fmt.Errorf("database init: %w", err)
			}
			defer database.Close()
			store := database.NewStore(database.DB)

			p, err := store.CreateProject(cmd.Context(), name)
			if err != nil {
				return err
			}
			if tree != nil {
				if err := store.SaveFileTree(cmd.Context(), p.ID, tree); err != nil {
					return err
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), p.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "project name")
	cmd.Flags().StringVar(&from, "from", "", "directory whose top-level files seed the project")
	return cmd
}

// seedTree reads the regular, non-hidden files directly under dir.
func seedTree(dir string) (*filetree.Tree, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}
	tree := filetree.New()
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		info, err := e.Info()
		if err != nil || info.Size() > maxSeedFileSize {
			continue
		}
		b, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		tree.SetFile(e.Name(), string(b))
	}
	return tree, nil
}
