package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/peopleinfo/pocketpaw/internal/config"
	"github.com/peopleinfo/pocketpaw/internal/plugins"
)

func pluginCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "plugin",
		Short: "Manage installed AI UI plugins",
	}
	root.AddCommand(pluginListCmd())
	root.AddCommand(pluginInstallCmd())
	root.AddCommand(pluginStartCmd())
	root.AddCommand(pluginStopCmd())
	root.AddCommand(pluginRemoveCmd())
	return root
}

func openSupervisor() (*plugins.Supervisor, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, err
	}
	registry, err := plugins.NewRegistry(config.ExpandHome(cfg.Plugins.Dir))
	if err != nil {
		return nil, err
	}
	return plugins.NewSupervisor(registry), nil
}

func pluginListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List installed plugins",
		RunE: func(cmd *cobra.Command, args []string) error {
			sup, err := openSupervisor()
			if err != nil {
				return err
			}
			infos, err := sup.Registry().List(sup.IsRunning)
			if err != nil {
				return err
			}
			if len(infos) == 0 {
				cmd.Println("no plugins installed.")
				return nil
			}
			for _, info := range infos {
				cmd.Printf("%-20s %-10s %s\n", info.ID, info.Status, info.Name)
			}
			return nil
		},
	}
}

func pluginInstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "install <source>",
		Short: "Install a plugin from builtin:<id>, a git URL, or a local directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sup, err := openSupervisor()
			if err != nil {
				return err
			}
			res, err := sup.Install(context.Background(), args[0])
			if err != nil {
				return err
			}
			cmd.Println(res.Message)
			return nil
		},
	}
}

func pluginStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start <id>",
		Short: "Launch an installed plugin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sup, err := openSupervisor()
			if err != nil {
				return err
			}
			res, err := sup.Launch(context.Background(), args[0])
			if err != nil {
				return err
			}
			cmd.Printf("%s: %s\n", args[0], res.Status)
			return nil
		},
	}
}

func pluginStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop <id>",
		Short: "Stop a running plugin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sup, err := openSupervisor()
			if err != nil {
				return err
			}
			res, err := sup.Stop(context.Background(), args[0])
			if err != nil {
				return err
			}
			cmd.Printf("%s: %s\n", args[0], res.Status)
			return nil
		},
	}
}

func pluginRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Stop (if running) and delete an installed plugin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sup, err := openSupervisor()
			if err != nil {
				return err
			}
			res, err := sup.Remove(context.Background(), args[0])
			if err != nil {
				return err
			}
			cmd.Println(res.Message)
			return nil
		},
	}
}
