package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/paulschiretz/pgl-appsave/pkg/buildinfo"
	"github.com/paulschiretz/pgl-appsave/pkg/engine"
	"github.com/paulschiretz/pgl-appsave/pkg/flagparse"
	"github.com/paulschiretz/pgl-appsave/pkg/planner"
	"github.com/paulschiretz/pgl-appsave/pkg/plog"
)

// RunList handles the logic for the list command.
func RunList(ctx context.Context, flagMap map[string]any) error {
	runConfig, err := loadRunConfig(flagparse.List, flagMap)
	if err != nil {
		return err
	}

	// Get the Plan
	listPlan, err := planner.GenerateListPlan(runConfig)
	if err != nil {
		return err
	}

	startTime := time.Now()
	sets, err := engine.ListBackupSets(ctx, listPlan.Paths.Base, listPlan.Sort)
	if err != nil {
		return err
	}
	if len(sets) == 0 {
		plog.Info("No backup sets found.", "base", listPlan.Paths.Base)
	} else {
		writeBackupSets(os.Stdout, sets)
	}
	duration := time.Since(startTime).Round(time.Millisecond)
	plog.Info(buildinfo.Name+" list finished successfully.", "sets", len(sets), "duration", duration)
	return nil
}

func writeBackupSets(w io.Writer, sets []engine.BackupSet) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PLUGIN\tNAME\tCREATED\tSIZE\tITEMS\tCOMPLETE\tCOMPRESSED")
	for _, s := range sets {
		compressed := "-"
		if s.Meta.IsCompressed {
			compressed = s.Meta.CompressionFormat
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%t\t%s\n",
			s.Meta.PluginID,
			s.Meta.PluginName,
			humanize.Time(s.Meta.TimestampUTC),
			humanize.IBytes(uint64(s.Meta.SizeBytes)),
			s.Meta.ItemCount,
			s.Meta.Success,
			compressed,
		)
	}
	tw.Flush()
}
