package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/actorkit/actorkit/pkg/models"
)

var (
	initVersion     string
	initDescription string
	initTimeout     int
	initMemory      int
)

// initCmd represents the init command
var initCmd = &cobra.Command{
	Use:   "init <name>",
	Short: "Scaffold an actor definition",
	Long:  `Create an actor.yaml definition file in the current directory.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)

	initCmd.Flags().StringVar(&initVersion, "version", "0.1.0", "actor version")
	initCmd.Flags().StringVar(&initDescription, "description", "", "actor description")
	initCmd.Flags().IntVar(&initTimeout, "timeout", 3600, "default run timeout in seconds")
	initCmd.Flags().IntVar(&initMemory, "memory", 1024, "default run memory in MB")
}

func runInit(cmd *cobra.Command, args []string) error {
	path := filepath.Join(".", "actor.yaml")
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("actor.yaml already exists in this directory")
	}

	def := &models.ActorDefinition{
		Name:        args[0],
		Version:     initVersion,
		Description: initDescription,
		RunOptions: models.RunOptions{
			TimeoutSecs: initTimeout,
			MemoryMB:    initMemory,
		},
	}
	if err := def.Save(path); err != nil {
		return err
	}

	fmt.Printf("Created %s for actor %q\n", path, def.Name)
	return nil
}
