package agent

import (
	"context"
	"fmt"

	"github.com/ldi/nightshift/pkg/models"
)

// CriteriaValidator is the default completion-validation boundary. It
// checks the agent produced output and flags suspicious results. An empty
// change set on a non-documentation task is a warning, not a failure:
// some tasks legitimately end in "nothing to do".
type CriteriaValidator struct{}

func (CriteriaValidator) Validate(ctx context.Context, task *models.Task, result *models.WorkResult) (models.ValidationReport, error) {
	report := models.ValidationReport{Passed: true}

	if result == nil || !result.Success {
		report.Passed = false
		report.Errors = append(report.Errors, "delegated work reported no successful result")
		return report, nil
	}
	if result.Output == "" {
		report.Passed = false
		report.Errors = append(report.Errors, fmt.Sprintf("task %s produced no output", task.ID))
		return report, nil
	}
	if len(result.FilesChanged) == 0 && task.Type != models.TaskTypeDocs {
		report.Warnings = append(report.Warnings,
			fmt.Sprintf("task %s (%s) changed no files", task.ID, task.Type))
	}
	return report, nil
}
