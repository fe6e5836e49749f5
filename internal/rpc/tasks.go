package rpc

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// ListTasks handles TaskManagement.list.
//
//	@Summary	List every task this node has started
//	@Tags		TaskManagement
//	@Produce	json
//	@Router		/api/v1/tasks [get]
func (s *Server) ListTasks(w http.ResponseWriter, r *http.Request) {
	RespondJSON(w, http.StatusOK, map[string]interface{}{"tasks": s.Tasks.List()})
}

// GetTask handles TaskManagement.get.
//
//	@Summary	Fetch one task by id
//	@Tags		TaskManagement
//	@Produce	json
//	@Router		/api/v1/tasks/{id} [get]
func (s *Server) GetTask(w http.ResponseWriter, r *http.Request) {
	idStr := chi.URLParam(r, "id")
	id, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil {
		RespondError(w, http.StatusBadRequest, "invalid task id", err)
		return
	}

	handle, ok := s.Tasks.Get(id)
	if !ok {
		RespondError(w, http.StatusNotFound, "task not found", nil)
		return
	}
	RespondJSON(w, http.StatusOK, handle.Snapshot(id))
}
