package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/gdorsi/BangleApps/internal/catalog"
	"github.com/gdorsi/BangleApps/internal/device"
	"github.com/gdorsi/BangleApps/internal/notify"
)

// withRuntime runs fn against a freshly wired runtime whose installer
// also reports to the command's output
func withRuntime(cmdCtx *commandContext, cmd *cobra.Command, fn func(ctx context.Context, rt *runtime) error) error {
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)

	rt, err := newRuntime(cmd.Context(), cmdCtx.cfg, cmdCtx.commandLogger(cmd.ErrOrStderr()), runtimeOptions{
		toasters:   []notify.Toaster{consoleToaster{w: out, colorize: colorize}},
		progresses: []notify.Progress{consoleProgress{w: out}},
	})
	if err != nil {
		return err
	}
	defer rt.Close()

	return fn(cmd.Context(), rt)
}

// catalogApp looks id up in the loaded catalog
func catalogApp(ctx context.Context, rt *runtime, id string) (*catalog.App, error) {
	cat, err := rt.library.Ready(ctx)
	if err != nil {
		return nil, err
	}
	app, ok := cat.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: app %s", catalog.ErrNotFound, id)
	}
	return app, nil
}

// installedApps returns the connected device's records
func installedApps(rt *runtime) []device.InstalledApp {
	if inst := rt.installer.Installed().Get(); inst != nil {
		return inst.Apps
	}
	return nil
}

func newCatalogCommand(cmdCtx *commandContext) *cobra.Command {
	var filter catalog.Filter

	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "List the apps in the catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmdCtx, cmd, func(ctx context.Context, rt *runtime) error {
				cat, err := rt.library.Ready(ctx)
				if err != nil {
					return err
				}
				apps, err := cat.Visible(filter, rt.library.SortInfo())
				if err != nil {
					return err
				}

				rows := make([][]string, 0, len(apps))
				for _, app := range apps {
					rows = append(rows, []string{app.ID, app.Name, app.Version, app.Type, app.Tags})
				}
				out := cmd.OutOrStdout()
				fmt.Fprintln(out, renderTable([]string{"ID", "Name", "Version", "Type", "Tags"}, rows, shouldColorize(out)))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&filter.Tag, "tag", "", "Only apps with this tag")
	cmd.Flags().StringVar(&filter.Search, "search", "", "Only apps whose name or tags contain this text")
	cmd.Flags().StringVar(&filter.Sort, "sort", "", "Order by date: created or modified")
	return cmd
}

func newListCommand(cmdCtx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the apps installed on the device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmdCtx, cmd, func(ctx context.Context, rt *runtime) error {
				if err := rt.installer.Connect(ctx); err != nil {
					return err
				}
				cat, _ := rt.library.Ready(ctx)

				var rows [][]string
				for _, rec := range installedApps(rt) {
					latest, update := "", ""
					if cat != nil {
						if app, ok := cat.Get(rec.ID); ok {
							latest = app.Version
							if catalog.CanUpdate(app, rec.Version, true) {
								update = "yes"
							}
						}
					}
					rows = append(rows, []string{rec.ID, rec.Name, rec.Version, latest, update})
				}
				out := cmd.OutOrStdout()
				fmt.Fprintln(out, renderTable([]string{"ID", "Name", "Installed", "Latest", "Update"}, rows, shouldColorize(out)))
				fmt.Fprintln(out, strconv.Itoa(len(rows))+" apps installed")
				return nil
			})
		},
	}
}

func newInstallCommand(cmdCtx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "install <id>...",
		Short: "Install catalog apps and their dependencies",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmdCtx, cmd, func(ctx context.Context, rt *runtime) error {
				if len(args) > 1 {
					if _, err := rt.library.Ready(ctx); err != nil {
						return err
					}
					return rt.installer.InstallMultipleApps(ctx, args)
				}
				app, err := catalogApp(ctx, rt, args[0])
				if err != nil {
					return err
				}
				return rt.installer.Install(ctx, app)
			})
		},
	}
}

func newUpdateCommand(cmdCtx *commandContext) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "update [<id>...]",
		Short: "Update installed apps to the catalog version",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !all && len(args) == 0 {
				return fmt.Errorf("name an app or pass --all")
			}
			return withRuntime(cmdCtx, cmd, func(ctx context.Context, rt *runtime) error {
				ids := args
				if all {
					var err error
					if ids, err = updatable(ctx, rt); err != nil {
						return err
					}
					if len(ids) == 0 {
						fmt.Fprintln(cmd.OutOrStdout(), "All apps up to date")
						return nil
					}
				}
				for _, id := range ids {
					app, err := catalogApp(ctx, rt, id)
					if err != nil {
						return err
					}
					if err := rt.installer.Update(ctx, app); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Update every app with a newer catalog version")
	return cmd
}

// updatable lists the installed apps whose catalog version differs
func updatable(ctx context.Context, rt *runtime) ([]string, error) {
	if err := rt.installer.Connect(ctx); err != nil {
		return nil, err
	}
	cat, err := rt.library.Ready(ctx)
	if err != nil {
		return nil, err
	}

	var ids []string
	for _, rec := range installedApps(rt) {
		if app, ok := cat.Get(rec.ID); ok && catalog.CanUpdate(app, rec.Version, true) {
			ids = append(ids, rec.ID)
		}
	}
	return ids, nil
}

func newRemoveCommand(cmdCtx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove an app and its data from the device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmdCtx, cmd, func(ctx context.Context, rt *runtime) error {
				return rt.installer.Remove(ctx, args[0])
			})
		},
	}
}

func newRemoveAllCommand(cmdCtx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "remove-all",
		Short: "Remove every app from the device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmdCtx, cmd, func(ctx context.Context, rt *runtime) error {
				return rt.installer.RemoveAll(ctx)
			})
		},
	}
}

func newResetDefaultsCommand(cmdCtx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reset-defaults",
		Short: "Replace every app with the default set and set the clock",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmdCtx, cmd, func(ctx context.Context, rt *runtime) error {
				if _, err := rt.library.Ready(ctx); err != nil {
					return err
				}
				return rt.installer.ResetToDefaults(ctx)
			})
		},
	}
}

func newSetTimeCommand(cmdCtx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "set-time",
		Short: "Set the device clock to this computer's time",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmdCtx, cmd, func(ctx context.Context, rt *runtime) error {
				return rt.installer.SetTime(ctx)
			})
		},
	}
}

func newReadFileCommand(cmdCtx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "read-file <name>",
		Short: "Print a file from device storage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmdCtx, cmd, func(ctx context.Context, rt *runtime) error {
				data, err := rt.installer.ReadStorageFile(ctx, args[0])
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(data)
				return err
			})
		},
	}
}
