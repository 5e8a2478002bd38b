package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/marcus/assetlock/internal/clientconfig"
	"github.com/marcus/assetlock/internal/output"
)

var errNameRequired = errors.New("user name is required")

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show or set the user name used for locks",
	Long: `Prints the identity lock requests are made as. When no identity is configured
and the terminal is interactive, prompts for one and saves it to the config file.`,
	GroupID: "system",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		set, _ := cmd.Flags().GetBool("set")

		current := clientconfig.GetUserName()
		if override, _ := cmd.Flags().GetString("user"); strings.TrimSpace(override) != "" {
			current = strings.TrimSpace(override)
		}
		if current != "" && !set {
			fmt.Println(current)
			return nil
		}

		if !term.IsTerminal(int(os.Stdin.Fd())) {
			output.Error("%v; run 'assetlock config set user_name <name>'", clientconfig.ErrNoIdentity)
			return clientconfig.ErrNoIdentity
		}

		name, err := promptUserName(current)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		if err := saveUserName(name); err != nil {
			output.Error("save config: %v", err)
			return err
		}
		output.Success("locks will be requested as %s", name)
		return nil
	},
}

func promptUserName(current string) (string, error) {
	name := current
	form := huh.NewForm(huh.NewGroup(
		huh.NewInput().
			Title("User name").
			Description("Shown to teammates as the holder of your locks").
			Value(&name).
			Placeholder("jane.doe").
			Validate(validateUserName),
	))
	if err := form.Run(); err != nil {
		return "", err
	}
	return strings.TrimSpace(name), nil
}

func validateUserName(s string) error {
	if strings.TrimSpace(s) == "" {
		return errNameRequired
	}
	return nil
}

func saveUserName(name string) error {
	cfg, err := clientconfig.LoadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Set("user_name", name); err != nil {
		return err
	}
	return clientconfig.SaveConfig(cfg)
}

func init() {
	whoamiCmd.Flags().Bool("set", false, "prompt for a new user name even if one is configured")
	rootCmd.AddCommand(whoamiCmd)
}
