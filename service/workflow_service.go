package service

import (
	"fmt"

	"github.com/conveyorhq/conveyor/cache"
	"github.com/conveyorhq/conveyor/logger"
	"github.com/conveyorhq/conveyor/model"
	"github.com/conveyorhq/conveyor/node"
	"github.com/conveyorhq/conveyor/persistence"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// WorkflowService owns workflow metadata: create, update, delete and the
// status state machine. All writes invalidate the definition cache.
type WorkflowService struct {
	storage  persistence.MetadataStorage
	cache    *cache.WorkflowCache
	registry *node.Registry
}

func NewWorkflowService(storage persistence.MetadataStorage, cache *cache.WorkflowCache, registry *node.Registry) *WorkflowService {
	return &WorkflowService{storage: storage, cache: cache, registry: registry}
}

// validateDefinition checks the graph structure and then every node's
// configuration against its executor, so a bad config is rejected at
// authoring time instead of blowing up mid-execution.
func (s *WorkflowService) validateDefinition(def *model.Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	for i := range def.Nodes {
		n := &def.Nodes[i]
		executor, err := s.registry.Resolve(n)
		if err != nil {
			return err
		}
		if err := executor.Validate(n); err != nil {
			return err
		}
	}
	return nil
}

// Create registers a new workflow in draft status after validating its
// definition graph.
func (s *WorkflowService) Create(wf *model.Workflow) error {
	if wf.Name == "" {
		return model.ValidationError{Message: "workflow name is required"}
	}
	if wf.Principal == "" {
		return model.ValidationError{Message: "workflow principal is required"}
	}
	if err := s.validateDefinition(&wf.Definition); err != nil {
		return err
	}
	if wf.ID == "" {
		wf.ID = uuid.New().String()
	}
	if wf.Priority == "" {
		wf.Priority = model.PriorityMedium
	}
	if wf.Type == "" {
		wf.Type = model.TypeStandard
	}
	wf.Status = model.StatusDraft
	wf.Metrics = model.Metrics{}
	if err := s.storage.SaveWorkflow(wf); err != nil {
		return err
	}
	logger.Info("workflow created", zap.String("workflow", wf.ID), zap.String("name", wf.Name))
	return nil
}

// Update replaces the definition of an editable workflow. Status,
// metrics and principal are kept from the stored record.
func (s *WorkflowService) Update(wf *model.Workflow) error {
	existing, err := s.storage.GetWorkflow(wf.ID)
	if err != nil {
		return err
	}
	if !existing.Status.CanBeEdited() {
		return model.ValidationError{
			Message: fmt.Sprintf("workflow %s is %s and cannot be edited", wf.ID, existing.Status),
		}
	}
	if err := s.validateDefinition(&wf.Definition); err != nil {
		return err
	}
	existing.Name = wf.Name
	existing.Definition = wf.Definition
	existing.Priority = wf.Priority
	existing.Type = wf.Type
	if err := s.storage.SaveWorkflow(existing); err != nil {
		return err
	}
	s.cache.Invalidate(wf.ID)
	logger.Info("workflow updated", zap.String("workflow", wf.ID))
	return nil
}

func (s *WorkflowService) Get(id string) (*model.Workflow, error) {
	return s.storage.GetWorkflow(id)
}

func (s *WorkflowService) List() ([]*model.Workflow, error) {
	return s.storage.ListWorkflows()
}

// Delete removes a workflow that is not active. Past executions and
// their logs are kept.
func (s *WorkflowService) Delete(id string) error {
	wf, err := s.storage.GetWorkflow(id)
	if err != nil {
		return err
	}
	if wf.Status == model.StatusActive {
		return model.ValidationError{
			Message: fmt.Sprintf("workflow %s is active, deactivate it before deleting", id),
		}
	}
	if err := s.storage.DeleteWorkflow(id); err != nil {
		return err
	}
	s.cache.Invalidate(id)
	logger.Info("workflow deleted", zap.String("workflow", id))
	return nil
}

// Transition moves the workflow to the target status through the state
// machine; disallowed moves return InvalidTransitionError.
func (s *WorkflowService) Transition(id string, target model.WorkflowStatus) (*model.Workflow, error) {
	wf, err := s.storage.GetWorkflow(id)
	if err != nil {
		return nil, err
	}
	next, err := wf.Status.TransitionTo(target)
	if err != nil {
		return nil, err
	}
	wf.Status = next
	if err := s.storage.SaveWorkflow(wf); err != nil {
		return nil, err
	}
	s.cache.Invalidate(id)
	logger.Info("workflow status changed", zap.String("workflow", id), zap.String("status", string(target)))
	return wf, nil
}
