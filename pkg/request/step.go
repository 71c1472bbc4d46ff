package request

import "time"

// Stage identifies one phase of the approval pipeline. Each stage owns at
// most one WorkflowStep slot per request.
type Stage string

const (
	StageVerification  Stage = "verification"
	StageValidationDEC Stage = "validation_dec"
	StageValidationBAO Stage = "validation_bao"
	StageAssignation   Stage = "assignation"
	StageResolution    Stage = "resolution"
)

// AllStages returns the pipeline stages in order.
func AllStages() []Stage {
	return []Stage{
		StageVerification,
		StageValidationDEC,
		StageValidationBAO,
		StageAssignation,
		StageResolution,
	}
}

// StepStatus tracks the progress of a single workflow step.
type StepStatus string

const (
	StepEnAttente StepStatus = "en_attente"
	StepEnCours   StepStatus = "en_cours"
	StepTermine   StepStatus = "termine"
	StepRejete    StepStatus = "rejete"
)

// WorkflowStep is one row of the per-request stage ledger. Steps are created
// lazily on first entry to their stage, mutated in place as the stage
// progresses, and never deleted.
type WorkflowStep struct {
	Stage       Stage      `json:"stage"`
	Status      StepStatus `json:"status"`
	AssigneeID  *string    `json:"assignee_id,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Comment     string     `json:"comment,omitempty"`
}

// Step returns the step for the given stage, or nil if the stage has not
// been entered yet.
func (r *Request) Step(stage Stage) *WorkflowStep {
	for i := range r.Steps {
		if r.Steps[i].Stage == stage {
			return &r.Steps[i]
		}
	}
	return nil
}

// EnsureStep returns the step for the given stage, creating it in en_attente
// if the stage has not been entered before.
func (r *Request) EnsureStep(stage Stage) *WorkflowStep {
	if s := r.Step(stage); s != nil {
		return s
	}
	r.Steps = append(r.Steps, WorkflowStep{
		Stage:  stage,
		Status: StepEnAttente,
	})
	return &r.Steps[len(r.Steps)-1]
}

// StartStep moves the stage's step to en_cours and records the assignee and
// start time. Idempotent: a step already started keeps its original start
// time and assignee.
func (r *Request) StartStep(stage Stage, assigneeID string, at time.Time) *WorkflowStep {
	s := r.EnsureStep(stage)
	if s.Status == StepEnAttente {
		s.Status = StepEnCours
		s.StartedAt = &at
		if assigneeID != "" {
			s.AssigneeID = &assigneeID
		}
	}
	return s
}

// CompleteStep marks the stage's step termine with the given completion time
// and comment. A step completed earlier keeps its original completion time.
func (r *Request) CompleteStep(stage Stage, comment string, at time.Time) *WorkflowStep {
	s := r.EnsureStep(stage)
	if s.Status != StepTermine {
		s.Status = StepTermine
		s.CompletedAt = &at
		if comment != "" {
			s.Comment = comment
		}
	}
	return s
}

// RejectStep marks the stage's step rejete.
func (r *Request) RejectStep(stage Stage, comment string, at time.Time) *WorkflowStep {
	s := r.EnsureStep(stage)
	if s.Status != StepRejete {
		s.Status = StepRejete
		s.CompletedAt = &at
		if comment != "" {
			s.Comment = comment
		}
	}
	return s
}
