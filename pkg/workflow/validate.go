package workflow

import "context"

// Classify maps an extraction outcome to a validation status.
func Classify(hasError bool, rowCount int) ValidationStatus {
	switch {
	case hasError:
		return StatusFailed
	case rowCount == 0:
		return StatusWarning
	default:
		return StatusPassed
	}
}

// Validate classifies the extracted data unless an earlier stage already
// passed it. It never modifies the data.
func (w *Workflow) Validate(_ context.Context, st *State) error {
	if st.Status == StatusPassed {
		w.log.Debug("workflow: validation already passed, skipping")
		return nil
	}

	switch d := st.Data.(type) {
	case *Failed:
		st.Status = Classify(true, 0)
	case *Tabular:
		st.Status = Classify(false, d.RowCount)
	case *Statistics:
		st.Status = Classify(false, 1)
	default:
		st.Status = Classify(false, 0)
	}

	w.log.Info("workflow: validation", "status", st.Status)
	st.appendMessage(RoleAssistant, "Validation: "+string(st.Status))
	return nil
}
