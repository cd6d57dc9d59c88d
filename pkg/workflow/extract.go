package workflow

import (
	"context"
	"fmt"
)

// MaxRows is the number of rows kept from a query result.
const MaxRows = 100

// Extract produces the data the answer is built from. Summary mode and
// questions without SQL use the aggregate statistics. A failing query also
// falls back to the statistics; only when that fails too is a *Failed result
// recorded for validation to classify.
func (w *Workflow) Extract(ctx context.Context, st *State) error {
	if st.Mode == ModeSummary {
		if _, ok := st.Data.(*Statistics); !ok {
			summary, err := w.cfg.Stats.GetSummary(ctx)
			if err != nil {
				return fmt.Errorf("failed to get summary statistics: %w", err)
			}
			st.Data = &Statistics{Summary: summary}
		}
		st.Status = StatusPassed
		w.log.Debug("workflow: summary mode, using aggregate statistics")
		return nil
	}

	if st.SQL == "" {
		w.log.Info("workflow: no SQL, using aggregate statistics")
		w.fallbackToStatistics(ctx, st, "no SQL query was produced")
		return nil
	}

	res, err := w.cfg.Catalog.Execute(ctx, st.SQL)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("failed to execute query: %w", ctx.Err())
		}
		w.log.Warn("workflow: query failed, using aggregate statistics", "sql", st.SQL, "error", err)
		w.fallbackToStatistics(ctx, st, err.Error())
		return nil
	}

	rows := res.Rows
	if len(rows) > MaxRows {
		w.log.Info("workflow: limiting results", "from", len(rows), "to", MaxRows)
		rows = rows[:MaxRows]
	}
	columns := res.Columns
	if len(rows) == 0 {
		rows = []map[string]any{}
		columns = []string{}
	}
	st.Data = &Tabular{Rows: rows, RowCount: len(rows), Columns: columns}
	st.appendMessage(RoleAssistant, fmt.Sprintf("Data extracted: %d rows retrieved", len(rows)))
	return nil
}

func (w *Workflow) fallbackToStatistics(ctx context.Context, st *State, reason string) {
	summary, err := w.cfg.Stats.GetSummary(ctx)
	if err != nil {
		w.log.Error("workflow: statistics fallback failed", "error", err)
		msg := fmt.Sprintf("%s; statistics fallback failed: %v", reason, err)
		st.Data = &Failed{Error: msg}
		st.appendMessage(RoleAssistant, "Error extracting data: "+msg)
		return
	}
	st.Data = &Statistics{Summary: summary}
	st.Status = StatusPassed
	st.appendMessage(RoleAssistant, "Data extracted: using summary statistics")
}
