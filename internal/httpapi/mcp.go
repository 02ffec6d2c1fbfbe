package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/mattjoyce/rbxstudio-mcp-broker/internal/broker"
)

// taskIDHeader discriminates the two roles of the single /mcp route:
// its absence means Poll, its presence means Submit.
const taskIDHeader = "X-MCP-Task-ID"

// handleMCP dispatches to handlePoll or handleSubmit based on whether
// taskIDHeader is present. The HTTP verb is not the discriminator, the
// header is.
func (s *Server) handleMCP(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get(taskIDHeader) == "" {
		s.handlePoll(w, r)
		return
	}
	s.handleSubmit(w, r)
}

// handlePoll serves "give me the next task". It waits on the State
// Manager under LONG_POLL_DURATION; on a task it returns 200 with the
// plugin-native Luau body, otherwise 204.
func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.LongPollDuration)
	defer cancel()

	task, err := s.handle.PollForTask(ctx)
	if err != nil {
		// Broker-channel drop is a 204 for pollers, same as an empty
		// queue: the plugin client just re-polls. 500 is reserved for
		// Submit, where dropping a result would be visible.
		s.logger.Warn("poll failed, broker unavailable", "error", err)
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if task == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	body, err := broker.EncodeLuauTask(*task)
	if err != nil {
		s.logger.Error("failed to encode task for plugin", "task_id", task.ID, "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", broker.LuauScriptContentType)
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, body)
}

// handleSubmit serves "here is the result for task X". Body is the MCP
// tool-result schema (content list + isError flag), JSON-encoded.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	taskID, err := uuid.Parse(r.Header.Get(taskIDHeader))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, "invalid "+taskIDHeader+" header")
		return
	}

	var result broker.Result
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(&result); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, "invalid result body")
		return
	}

	if err := s.handle.SubmitTaskResult(taskID.String(), result); err != nil {
		s.logger.Warn("submit failed, broker unavailable", "task_id", taskID, "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
