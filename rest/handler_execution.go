package rest

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/conveyorhq/conveyor/logger"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

func (s *Server) HandleExecuteWorkflow(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var payload map[string]any
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil && !errors.Is(err, io.EOF) {
		respondWithError(w, http.StatusBadRequest, "malformed trigger payload")
		return
	}
	defer r.Body.Close()
	execution, err := s.executionService.Execute(id, payload)
	if err != nil {
		logger.Error("error executing workflow", zap.String("workflow", id), zap.Error(err))
		respondDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusAccepted, map[string]any{
		"executionId": execution.ID,
		"status":      execution.Status,
	})
}

func (s *Server) HandleGetExecution(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	execution, err := s.executionService.GetExecution(id)
	if err != nil {
		respondWithError(w, http.StatusNotFound, "execution not found")
		return
	}
	respondWithJSON(w, http.StatusOK, execution)
}

func (s *Server) HandleGetExecutionLogs(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	entries, err := s.executionService.GetLogs(id)
	if err != nil {
		logger.Error("error loading execution logs", zap.String("execution", id), zap.Error(err))
		respondDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, entries)
}

func (s *Server) HandleCancelExecution(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.executionService.Cancel(id); err != nil {
		logger.Error("error cancelling execution", zap.String("execution", id), zap.Error(err))
		respondDomainError(w, err)
		return
	}
	respondOKWithoutBody(w)
}
