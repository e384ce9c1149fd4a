package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"regions-server/internal/app"
	"regions-server/internal/auth"
	"regions-server/internal/models"
	"regions-server/internal/resource"
	"regions-server/internal/spatial"

	"github.com/spf13/cobra"
)

func NewMigrateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				if err := a.Migrate(ctx); err != nil {
					return WrapExitError(ExitFailure, "migration failed", err)
				}
				return opts.formatter(cmd).Success(map[string]string{"migrations": "applied"}, func(w io.Writer) {
					fmt.Fprintln(w, "Migrations applied")
				})
			})
		},
	}
}

// CellReport describes a coordinate's cell and its neighborhood
type CellReport struct {
	Coordinate   models.Coordinate `json:"coordinate"`
	CellIndex    string            `json:"cell_index"`
	Resolution   int               `json:"resolution"`
	Neighborhood []string          `json:"neighborhood"`
}

type coordinateFlags struct {
	lat, lng float64
}

func (c *coordinateFlags) register(cmd *cobra.Command) {
	cmd.Flags().Float64Var(&c.lat, "lat", 0, "latitude in degrees")
	cmd.Flags().Float64Var(&c.lng, "lng", 0, "longitude in degrees")
	_ = cmd.MarkFlagRequired("lat")
	_ = cmd.MarkFlagRequired("lng")
}

func (c *coordinateFlags) coordinate() models.Coordinate {
	return models.Coordinate{Lat: c.lat, Lng: c.lng}
}

func NewCellCommand(opts *RootOptions) *cobra.Command {
	var coord coordinateFlags
	var resolution, ring int

	cmd := &cobra.Command{
		Use:   "cell",
		Short: "Show the grid cell and neighborhood of a coordinate",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("resolution") {
				resolution = cfg.World.RegionResolution
			}
			if !cmd.Flags().Changed("ring") {
				ring = cfg.World.ScanRingDistance
			}

			cell, err := spatial.CellForCoordinate(coord.coordinate(), resolution)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid coordinate", err)
			}
			neighborhood, err := spatial.Neighborhood(cell, ring)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid ring distance", err)
			}

			report := CellReport{Coordinate: coord.coordinate(), CellIndex: cell, Resolution: resolution, Neighborhood: neighborhood}
			return opts.formatter(cmd).Success(report, func(w io.Writer) {
				fmt.Fprintf(w, "Cell %s (resolution %d)\n", report.CellIndex, report.Resolution)
				for _, n := range report.Neighborhood {
					fmt.Fprintf(w, "  %s\n", n)
				}
			})
		},
	}

	coord.register(cmd)
	cmd.Flags().IntVar(&resolution, "resolution", 9, "grid resolution")
	cmd.Flags().IntVar(&ring, "ring", 1, "neighborhood ring distance")
	return cmd
}

func NewScanCommand(opts *RootOptions) *cobra.Command {
	var coord coordinateFlags

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan around a coordinate, creating missing regions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				result, err := a.Scans.Scan(ctx, coord.coordinate())
				if err != nil {
					return WrapExitError(ExitFailure, "scan failed", err)
				}
				return opts.formatter(cmd).Success(result, func(w io.Writer) {
					fmt.Fprintf(w, "Scan %s at %s: %d regions (%d created), %d resources\n",
						result.ScanID, result.CellIndex, len(result.Regions), result.RegionsCreated, len(result.Resources))
					for _, r := range result.Resources {
						marker := " "
						if r.UserCanInteract {
							marker = "*"
						}
						fmt.Fprintf(w, " %s %-12s %s %7.1fm  %d/%d\n",
							marker, r.Name, r.CellIndex, r.DistanceFromUser, r.QuantityRemaining, r.QuantityInitial)
					}
				})
			})
		},
	}

	coord.register(cmd)
	return cmd
}

func NewRefreshCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh <region-id>",
		Short: "Refresh one region, regenerating its resources when stale",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.Atoi(args[0])
			if err != nil || id <= 0 {
				return WrapExitError(ExitCommandError, fmt.Sprintf("invalid region id %q", args[0]), err)
			}

			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				refreshed, err := a.Lifecycle.RefreshByID(ctx, id)
				if err != nil {
					return WrapExitError(ExitFailure, "refresh failed", err)
				}
				return opts.formatter(cmd).Success(refreshed, func(w io.Writer) {
					fmt.Fprintf(w, "Region %d (%s) refreshed, stale at %s\n",
						refreshed.ID, refreshed.CellIndex, refreshed.StaleAt.Format("2006-01-02 15:04:05Z07:00"))
				})
			})
		},
	}
}

func NewRefreshStaleCommand(opts *RootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "refresh-stale",
		Short: "Refresh regions whose reset deadline has passed or that hold no resources",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				if !cmd.Flags().Changed("limit") {
					limit = a.Config.World.StaleSweepBatchSize
				}

				if limit <= 0 {
					return WrapExitError(ExitCommandError, fmt.Sprintf("--limit must be positive, got %d", limit), nil)
				}

				summary, err := a.Lifecycle.RefreshStale(ctx, limit)
				if err != nil {
					return WrapExitError(ExitFailure, "stale sweep failed", err)
				}
				if err := opts.formatter(cmd).Success(summary, func(w io.Writer) {
					printSweep(w, summary)
				}); err != nil {
					return err
				}
				if len(summary.Failed) > 0 {
					return WrapExitError(ExitFailure, fmt.Sprintf("%d regions failed to refresh", len(summary.Failed)), nil)
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 100, "maximum regions to refresh")
	return cmd
}

func printSweep(w io.Writer, summary resource.SweepSummary) {
	fmt.Fprintf(w, "Refreshed %d regions\n", len(summary.Refreshed))
	for id, reason := range summary.Failed {
		fmt.Fprintf(w, "  region %d: %s\n", id, reason)
	}
}

func NewTokenCommand(opts *RootOptions) *cobra.Command {
	var role string
	var playerID int

	cmd := &cobra.Command{
		Use:   "token <username>",
		Short: "Issue a signed API token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if role != auth.RoleOperator && role != auth.RolePlayer {
				return WrapExitError(ExitCommandError, fmt.Sprintf("unknown role %q", role), nil)
			}

			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			tokens, err := auth.NewTokenManager(cfg.Auth)
			if err != nil {
				return WrapExitError(ExitCommandError, "cannot issue tokens", err)
			}

			token, err := tokens.Generate(playerID, args[0], role)
			if err != nil {
				return WrapExitError(ExitFailure, "failed to sign token", err)
			}
			return opts.formatter(cmd).Success(map[string]string{"token": token}, func(w io.Writer) {
				fmt.Fprintln(w, token)
			})
		},
	}

	cmd.Flags().StringVar(&role, "role", auth.RoleOperator, "token role (operator|player)")
	cmd.Flags().IntVar(&playerID, "player-id", 0, "player id; 0 issues a service token")
	return cmd
}
