package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/marcus/assetlock/internal/clientconfig"
	"github.com/marcus/assetlock/internal/output"
	"github.com/marcus/assetlock/internal/suggest"
)

var configCmd = &cobra.Command{
	Use:     "config",
	Short:   "Manage assetlock client configuration",
	GroupID: "system",
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a config value (empty value clears it)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runConfigSet(args[0], args[1])
	},
}

func runConfigSet(key, val string) error {
	cfg, err := clientconfig.LoadConfig()
	if err != nil {
		output.Error("load config: %v", err)
		return err
	}

	if err := cfg.Set(key, val); err != nil {
		output.Error("%v", err)
		if errors.Is(err, clientconfig.ErrUnknownKey) {
			printKeyHint(key)
		}
		return err
	}

	if err := clientconfig.SaveConfig(cfg); err != nil {
		output.Error("save config: %v", err)
		return err
	}

	stored, _ := cfg.Get(key)
	if stored == "" {
		output.Success("cleared %s", key)
	} else {
		output.Success("set %s = %s", key, stored)
	}
	return nil
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a config value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		val, err := configValue(args[0])
		if err != nil {
			output.Error("%v", err)
			if errors.Is(err, clientconfig.ErrUnknownKey) {
				printKeyHint(args[0])
			}
			return err
		}
		fmt.Println(val)
		return nil
	},
}

// printKeyHint suggests keys close to a mistyped one, or lists them all.
func printKeyHint(key string) {
	if near := suggest.Keys(key, clientconfig.Keys()); len(near) > 0 {
		fmt.Printf("Did you mean: %s?\n", strings.Join(near, ", "))
		return
	}
	fmt.Println("Valid keys:", strings.Join(clientconfig.Keys(), ", "))
}

// configValue returns the stored value of key, or the effective default
// annotated with "(default)" when unset.
func configValue(key string) (string, error) {
	cfg, err := clientconfig.LoadConfig()
	if err != nil {
		return "", fmt.Errorf("load config: %w", err)
	}
	val, err := cfg.Get(key)
	if err != nil {
		return "", err
	}
	if val != "" {
		return val, nil
	}

	switch key {
	case "server_url":
		return clientconfig.GetServerURL() + " (default)", nil
	case "refresh_interval":
		return clientconfig.GetRefreshInterval().String() + " (default)", nil
	case "auto_unlock_interval":
		return clientconfig.GetAutoUnlockInterval().String() + " (default)", nil
	case "request_timeout":
		return clientconfig.GetRequestTimeout().String() + " (default)", nil
	case "shutdown_timeout":
		return clientconfig.GetShutdownTimeout().String() + " (default)", nil
	case "tracked_extensions":
		return strings.Join(clientconfig.GetTrackedExtensions(), ",") + " (default)", nil
	}
	return "", nil
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all config values",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := clientconfig.LoadConfig()
		if err != nil {
			output.Error("load config: %v", err)
			return err
		}

		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			output.Error("marshal config: %v", err)
			return err
		}

		fmt.Println(string(data))
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file location",
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := clientconfig.ConfigPath()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		fmt.Println(p)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configListCmd)
	configCmd.AddCommand(configPathCmd)
	rootCmd.AddCommand(configCmd)
}
