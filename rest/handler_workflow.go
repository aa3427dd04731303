package rest

import (
	"encoding/json"
	"net/http"

	"github.com/conveyorhq/conveyor/logger"
	"github.com/conveyorhq/conveyor/model"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

func (s *Server) HandleCreateWorkflow(w http.ResponseWriter, r *http.Request) {
	var wf model.Workflow
	if err := json.NewDecoder(r.Body).Decode(&wf); err != nil {
		respondWithError(w, http.StatusBadRequest, "malformed workflow body")
		return
	}
	defer r.Body.Close()
	if err := s.workflowService.Create(&wf); err != nil {
		logger.Error("error creating workflow", zap.String("name", wf.Name), zap.Error(err))
		respondDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, map[string]any{"id": wf.ID, "status": wf.Status})
}

func (s *Server) HandleListWorkflows(w http.ResponseWriter, r *http.Request) {
	workflows, err := s.workflowService.List()
	if err != nil {
		logger.Error("error listing workflows", zap.Error(err))
		respondDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, workflows)
}

func (s *Server) HandleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	wf, err := s.workflowService.Get(id)
	if err != nil {
		respondWithError(w, http.StatusNotFound, "workflow not found")
		return
	}
	respondWithJSON(w, http.StatusOK, wf)
}

func (s *Server) HandleUpdateWorkflow(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var wf model.Workflow
	if err := json.NewDecoder(r.Body).Decode(&wf); err != nil {
		respondWithError(w, http.StatusBadRequest, "malformed workflow body")
		return
	}
	defer r.Body.Close()
	wf.ID = id
	if err := s.workflowService.Update(&wf); err != nil {
		logger.Error("error updating workflow", zap.String("workflow", id), zap.Error(err))
		respondDomainError(w, err)
		return
	}
	respondOKWithoutBody(w)
}

func (s *Server) HandleDeleteWorkflow(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.workflowService.Delete(id); err != nil {
		logger.Error("error deleting workflow", zap.String("workflow", id), zap.Error(err))
		respondDomainError(w, err)
		return
	}
	respondOKWithoutBody(w)
}

func (s *Server) HandleTransitionWorkflow(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req struct {
		Status model.WorkflowStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "malformed status body")
		return
	}
	defer r.Body.Close()
	wf, err := s.workflowService.Transition(id, req.Status)
	if err != nil {
		logger.Error("error transitioning workflow",
			zap.String("workflow", id), zap.String("target", string(req.Status)), zap.Error(err))
		respondDomainError(w, err)
		return
	}
	respondOK(w, map[string]any{"id": wf.ID, "status": wf.Status})
}
