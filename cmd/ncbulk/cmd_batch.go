package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/newtron-network/ncbulk/pkg/operation"
	"github.com/newtron-network/ncbulk/pkg/util"
)

const (
	defaultFilterFile = "bulk_filter.xml"
	defaultConfigFile = "bulk_config.xml"
)

var (
	writeJSON   bool
	deviceNames string
)

var readCmd = &cobra.Command{
	Use:   "read [filter.xml] [devices]",
	Short: "NETCONF <get> with a subtree filter on every device",
	Long: `Retrieve configuration and state data from every device in the device
list, selected by the subtree filter in FILTER (default bulk_filter.xml).

Each device's reply is saved to <output>/out_read_<device>.xml. A device that
fails produces no file; the failure is shown in the summary.

The device list is a text file with one device per line (blank lines and
# comments ignored) or a YAML inventory with a "devices" list.

Examples:
  ncbulk read
  ncbulk read interfaces.xml lab-devices.txt
  ncbulk read filter.xml inventory.yaml -w 20 --timeout 2m`,
	Args: cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		filterPath := argOr(args, 0, defaultFilterFile)
		filter, err := operation.LoadSubtreeFilter(filterPath)
		if err != nil {
			return err
		}
		op, err := operation.NewRead(operation.FilterSubtree, filter)
		if err != nil {
			return fmt.Errorf("%s: %w", filterPath, err)
		}
		return runOperation(cmd, argOr(args, 1, ""), op)
	},
}

var xpathCmd = &cobra.Command{
	Use:   "xpath <expression> [devices]",
	Short: "NETCONF <get> with an XPath filter on every device",
	Long: `Retrieve configuration and state data from every device in the device
list, selected by an XPath expression. Devices must advertise the :xpath
capability.

Examples:
  ncbulk xpath /interfaces/interface/name
  ncbulk xpath "/system/hostname" core.txt`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		op, err := operation.NewRead(operation.FilterXPath, args[0])
		if err != nil {
			return err
		}
		return runOperation(cmd, argOr(args, 1, ""), op)
	},
}

var writeCmd = &cobra.Command{
	Use:   "write [config.xml] [devices]",
	Short: "NETCONF <edit-config> to the running datastore of every device",
	Long: `Load the configuration in CONFIG (default bulk_config.xml) into the
running datastore of every device in the device list.

The root element of the document is renamed to the NETCONF <config> element
if needed. Results are collected in <output>/config_report.html.

Examples:
  ncbulk write
  ncbulk write ntp.xml devices.txt --json`,
	Args: cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := operation.LoadConfigDocument(argOr(args, 0, defaultConfigFile))
		if err != nil {
			return err
		}
		op, err := operation.NewApply(doc)
		if err != nil {
			return fmt.Errorf("%s: %w", argOr(args, 0, defaultConfigFile), err)
		}
		return runOperation(cmd, argOr(args, 1, ""), op)
	},
}

func init() {
	writeCmd.Flags().BoolVar(&writeJSON, "json", false, "Also write the report as JSON")
	for _, cmd := range []*cobra.Command{readCmd, xpathCmd, writeCmd} {
		cmd.Flags().StringVarP(&deviceNames, "devices", "d", "", "Comma-separated devices instead of a device list file")
	}
}

func argOr(args []string, i int, def string) string {
	if len(args) > i && strings.TrimSpace(args[i]) != "" {
		return args[i]
	}
	return def
}

// resolveDevices returns the --devices list when given, otherwise the
// contents of the device list file.
func resolveDevices(inline, path, defaultPath string) ([]string, error) {
	if inline != "" {
		if path != "" {
			return nil, util.NewValidationError("--devices and a device list file are mutually exclusive")
		}
		return util.SplitCommaSeparated(inline), nil
	}
	if path == "" {
		path = defaultPath
	}
	return operation.LoadDevices(path)
}

// runOperation loads the device list and credentials and runs the batch.
func runOperation(cmd *cobra.Command, devicesPath string, op *operation.Descriptor) error {
	cfg := runConfig
	devices, err := resolveDevices(deviceNames, devicesPath, cfg.DevicesFile)
	if err != nil {
		return err
	}
	creds, err := loadCredentials(os.Getenv, cfg.Username)
	if err != nil {
		return err
	}

	b := &batch{
		cfg:        cfg,
		creds:      creds,
		out:        cmd.OutOrStdout(),
		jsonReport: writeJSON,
	}
	_, err = b.run(cmd.Context(), devices, op)
	return err
}
