package httpapi

import (
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/deepagents-dev/deepagents/pkg/agent"
	apperrors "github.com/deepagents-dev/deepagents/pkg/errors"
)

const maxAgentYAML = 1 << 20

type agentSummary struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	records, err := s.store.ListAgents(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]agentSummary, 0, len(records))
	for _, record := range records {
		out = append(out, agentSummary{Name: record.Name, Description: record.Description})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleImportAgent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxAgentYAML))
	if err != nil {
		s.writeError(w, apperrors.New(apperrors.ErrCodeInvalidInput, "failed to read request body", err))
		return
	}

	def, err := agent.Import(body)
	if err != nil {
		s.writeError(w, err)
		return
	}

	record, err := s.store.SaveAgent(r.Context(), def)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, agentSummary{Name: record.Name, Description: record.Description})
}

func (s *Server) handleExportAgent(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	record, err := s.store.GetAgentByName(r.Context(), name)
	if err != nil {
		s.writeError(w, err)
		return
	}
	def, err := record.Definition()
	if err != nil {
		s.writeError(w, err)
		return
	}
	out, err := agent.Export(def)
	if err != nil {
		s.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}

func (s *Server) handleDeleteAgent(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if err := s.store.DeleteAgent(r.Context(), name); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
