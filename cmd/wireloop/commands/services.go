package commands

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/wireloop/wireloop/config"
	"github.com/wireloop/wireloop/registry"
	"github.com/wireloop/wireloop/server"
)

// servicesOptions holds options for the services command.
type servicesOptions struct {
	configFile string
}

// NewServicesCommand creates the services command: it builds the same
// registry a "serve" invocation would (health/reflection auto-registered
// per config) and prints the resulting method catalog, so an operator
// can see what a given config exposes without starting a listener.
func NewServicesCommand() *cobra.Command {
	opts := &servicesOptions{}

	cmd := &cobra.Command{
		Use:   "services [flags]",
		Short: "List the services a config would expose",
		Long: `Print the service/method catalog that "wireloop serve" would register for
the given configuration, without binding a listener.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServices(opts)
		},
	}

	cmd.Flags().StringVarP(&opts.configFile, "config", "c", "", "Configuration file path (YAML)")

	return cmd
}

func runServices(opts *servicesOptions) error {
	cfg, err := config.Load(opts.configFile)
	if err != nil {
		return fmt.Errorf("wireloop services: %w", err)
	}

	reg := registry.New()
	if _, err := server.New(cfg, reg, nil); err != nil {
		return fmt.Errorf("wireloop services: %w", err)
	}

	names := reg.ServiceNames()
	if len(names) == 0 {
		color.Yellow("no services registered")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Service", "Method", "Pattern"})
	table.SetHeaderColor(
		tablewriter.Colors{tablewriter.FgHiCyanColor},
		tablewriter.Colors{tablewriter.FgHiCyanColor},
		tablewriter.Colors{tablewriter.FgHiCyanColor},
	)
	table.SetAlignment(tablewriter.ALIGN_LEFT)

	for _, name := range names {
		svc, ok := reg.Service(name)
		if !ok {
			continue
		}
		for methodName, m := range svc.Methods() {
			table.Append([]string{name, methodName, m.Pattern.String()})
		}
	}

	table.Render()
	return nil
}
