package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/greencredits/report-server/internal/zones"
)

func init() {
	rootCmd.AddCommand(zonesCmd)
	zonesCmd.AddCommand(zonesListCmd)
	zonesCmd.AddCommand(zonesRouteCmd)

	zonesCmd.PersistentFlags().String("file", "", "Zones TOML file (defaults to ZONES_FILE, then the built-in zones)")
	zonesRouteCmd.Flags().Float64("lat", 0, "Latitude")
	zonesRouteCmd.Flags().Float64("lng", 0, "Longitude")
}

var zonesCmd = &cobra.Command{
	Use:   "zones",
	Short: "Inspect zone routing",
}

var zonesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured zones",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		router, err := zoneRouter(cmd)
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ZONE\tKEYWORDS\tCENTROID\tRADIUS")
		for _, z := range router.Zones() {
			id := z.ID
			if id == router.Default() {
				id += " (default)"
			}
			fmt.Fprintf(tw, "%s\t%s\t%.4f,%.4f\t%.1f km\n", id, strings.Join(z.Keywords, ", "), z.Lat, z.Lng, z.RadiusKm)
		}
		return tw.Flush()
	},
}

var zonesRouteCmd = &cobra.Command{
	Use:   "route [ADDRESS]",
	Short: "Show which zone a report would be routed to",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		router, err := zoneRouter(cmd)
		if err != nil {
			return err
		}
		lat, _ := cmd.Flags().GetFloat64("lat")
		lng, _ := cmd.Flags().GetFloat64("lng")
		address := ""
		if len(args) == 1 {
			address = args[0]
		}

		zone, reason := router.RouteWithReason(address, lat, lng)
		fmt.Fprintf(cmd.OutOrStdout(), "%s (by %s)\n", zone, reason)
		return nil
	},
}

func zoneRouter(cmd *cobra.Command) (*zones.Router, error) {
	path, _ := cmd.Flags().GetString("file")
	if path == "" {
		cfg, err := loadConfig()
		if err != nil {
			return nil, err
		}
		path = cfg.ZonesFile
	}
	return zones.Open(path)
}
