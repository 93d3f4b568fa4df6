package listing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"marketplace/internal/metrics"
	"marketplace/internal/models"
	"marketplace/internal/storage"
)

// transitions lists the legal successors of each non-terminal state.
// Resell and Buy go straight from Idle to Submitting.
var transitions = map[models.WorkflowState][]models.WorkflowState{
	models.WorkflowIdle:       {models.WorkflowUploading, models.WorkflowSubmitting, models.WorkflowFailed},
	models.WorkflowUploading:  {models.WorkflowSubmitting, models.WorkflowFailed},
	models.WorkflowSubmitting: {models.WorkflowConfirming, models.WorkflowFailed},
	models.WorkflowConfirming: {models.WorkflowSucceeded, models.WorkflowFailed},
}

// CanTransition reports whether a workflow may move from one state to another
func CanTransition(from, to models.WorkflowState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Workflow is one execution of List, Resell or Buy. It is driven by a single
// goroutine and journals every transition.
type Workflow struct {
	record  models.WorkflowRecord
	started time.Time
	journal storage.Repository
}

// ID returns the workflow instance id
func (w *Workflow) ID() string {
	return w.record.ID
}

// Record returns a copy of the journaled state
func (w *Workflow) Record() models.WorkflowRecord {
	return w.record
}

// advance moves the workflow to state at stage
func (w *Workflow) advance(ctx context.Context, to models.WorkflowState, stage models.Stage) error {
	from := w.record.State
	if !CanTransition(from, to) {
		return fmt.Errorf("illegal workflow transition %s -> %s", from, to)
	}
	w.record.State = to
	w.record.Stage = stage
	w.save(ctx)

	slog.Debug("Workflow advanced",
		"workflow_id", w.record.ID,
		"kind", w.record.Kind,
		"from", from,
		"to", to,
		"stage", stage,
	)
	return nil
}

// succeed records the confirmed listing and closes the workflow
func (w *Workflow) succeed(ctx context.Context, listing models.Listing) error {
	w.record.Artifacts.ListingID = listing.ListingID
	if err := w.advance(ctx, models.WorkflowSucceeded, models.StageConfirm); err != nil {
		return err
	}
	w.observe("succeeded", "")
	return nil
}

// fail closes the workflow with err at stage. Terminal workflows are left untouched.
func (w *Workflow) fail(ctx context.Context, stage models.Stage, err error) {
	if w.record.State.Terminal() {
		return
	}
	w.record.State = models.WorkflowFailed
	w.record.Stage = stage
	w.record.Error = err.Error()
	w.record.ErrorKind = models.ErrorKind(err)
	w.save(ctx)
	w.observe("failed", stage)
}

func (w *Workflow) observe(outcome string, stage models.Stage) {
	kind := string(w.record.Kind)
	metrics.WorkflowsFinished.WithLabelValues(kind, outcome, string(stage)).Inc()
	metrics.WorkflowDuration.WithLabelValues(kind).Observe(time.Since(w.started).Seconds())
}

// save journals the record. The journal is a record of progress, not part of
// the workflow, so a write failure is logged and the workflow carries on.
func (w *Workflow) save(ctx context.Context) {
	w.record.UpdatedAt = time.Now().UTC()
	if w.journal == nil {
		return
	}
	// Journal even when the caller has abandoned the workflow
	if err := w.journal.SaveWorkflow(context.WithoutCancel(ctx), &w.record); err != nil {
		slog.Error("Failed to journal workflow",
			"workflow_id", w.record.ID,
			"state", w.record.State,
			"error", err,
		)
	}
}
