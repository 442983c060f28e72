package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"

	"github.com/paulschiretz/pgl-appsave/pkg/flagparse"
	"github.com/paulschiretz/pgl-appsave/pkg/history"
	"github.com/paulschiretz/pgl-appsave/pkg/planner"
	"github.com/paulschiretz/pgl-appsave/pkg/plog"
	"github.com/paulschiretz/pgl-appsave/pkg/task"
)

const defaultHistoryLimit = 20

// RunHistory handles the logic for the history command. With -task-id it
// prints the full record of one task, otherwise a table of recent tasks.
func RunHistory(ctx context.Context, flagMap map[string]any) error {
	runConfig, err := loadRunConfig(flagparse.History, flagMap)
	if err != nil {
		return err
	}

	listPlan, err := planner.GenerateListPlan(runConfig)
	if err != nil {
		return err
	}
	store, err := openHistory(listPlan.Paths)
	if err != nil {
		return err
	}
	defer store.Close()

	if taskID, ok := flagMap["task-id"].(string); ok && taskID != "" {
		t, err := store.Get(ctx, taskID)
		if err != nil {
			return err
		}
		data, err := json.MarshalIndent(t, "", "  ")
		if err != nil {
			return fmt.Errorf("could not marshal task %s: %w", taskID, err)
		}
		fmt.Fprintln(os.Stdout, string(data))
		return nil
	}

	filter := history.Filter{Limit: defaultHistoryLimit}
	if v, ok := flagMap["plugin"].(string); ok {
		filter.PluginID = v
	}
	if v, ok := flagMap["state"].(string); ok && v != "" {
		if filter.State, err = task.ParseState(v); err != nil {
			return err
		}
	}
	if v, ok := flagMap["limit"].(int); ok {
		filter.Limit = v
	}

	tasks, err := store.List(ctx, filter)
	if err != nil {
		return fmt.Errorf("failed to list task history: %w", err)
	}
	if len(tasks) == 0 {
		plog.Info("No tasks recorded.", "plugin", filter.PluginID, "state", filter.State)
		return nil
	}
	writeTasks(os.Stdout, tasks)
	return nil
}

func writeTasks(w io.Writer, tasks []*task.ExecutionTask) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPLUGIN\tTYPE\tRUN\tSTATE\tSUCCESS\tPROGRESS\tCREATED")
	for _, t := range tasks {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%t\t%d/%d\t%s\n",
			t.ID, t.PluginID, t.ExecType, t.RunType, t.State, t.Success,
			t.CurrentProgress, t.TotalProgress, humanize.Time(t.CreatedAt))
	}
	tw.Flush()
}
