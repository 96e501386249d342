package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/r2browser/r2browser/internal/metrics"
	"github.com/r2browser/r2browser/internal/models"
	"github.com/r2browser/r2browser/internal/transfer"
)

var validate = validator.New()

// onTransferTerminal runs after every task reaches a terminal state. A
// completed upload or recursive delete mutated the bucket behind the
// cache's back, so the affected listings are evicted here, the same as
// the synchronous object handlers do before responding.
func (s *Server) onTransferTerminal(snap transfer.Snapshot) {
	metrics.TasksTotal.WithLabelValues(string(snap.Type), string(snap.Status)).Inc()

	if snap.Status != transfer.TaskCompleted {
		return
	}
	switch snap.Type {
	case transfer.TaskTypeUpload:
		s.cache.InvalidatePrefix(s.accountID, snap.Bucket, models.ParentPrefix(snap.Key))
	case transfer.TaskTypeDelete:
		// snap.Key is the deleted prefix; invalidating it evicts the
		// prefix's own listing, its parent, and the cached subtree.
		s.cache.InvalidatePrefix(s.accountID, snap.Bucket, snap.Key)
	}
}

type createTransferRequest struct {
	Type      string `json:"type" validate:"required,oneof=upload download delete"`
	Bucket    string `json:"bucket" validate:"required"`
	Key       string `json:"key" validate:"required"`
	LocalPath string `json:"localPath" validate:"required_unless=Type delete"`
}

// handleCreateTransfer enqueues a task. The response is the queued
// snapshot; progress arrives via polling GET /transfers/{id}.
func (s *Server) handleCreateTransfer(w http.ResponseWriter, r *http.Request) {
	var req createTransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, invalidParam("request body must be JSON"))
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, r, invalidParam("type, bucket and key are required; localPath for uploads and downloads"))
		return
	}

	var snap transfer.Snapshot
	var err error
	switch transfer.TaskType(req.Type) {
	case transfer.TaskTypeUpload:
		snap, err = s.engine.EnqueueUpload(req.Bucket, req.Key, req.LocalPath)
	case transfer.TaskTypeDownload:
		snap, err = s.engine.EnqueueDownload(req.Bucket, req.Key, req.LocalPath)
	case transfer.TaskTypeDelete:
		snap, err = s.engine.EnqueueDelete(req.Bucket, req.Key)
	}
	if err != nil {
		writeError(w, r, invalidParam(err.Error()))
		return
	}
	writeData(w, r, http.StatusCreated, snap)
}

type transfersResponse struct {
	Tasks []transfer.Snapshot `json:"tasks"`
	Count int                 `json:"count"`
}

func (s *Server) handleListTransfers(w http.ResponseWriter, r *http.Request) {
	tasks := s.engine.Tasks()
	writeData(w, r, http.StatusOK, transfersResponse{Tasks: tasks, Count: len(tasks)})
}

func (s *Server) handleGetTransfer(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.engine.Task(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, r, mapHandlerError(transfer.ErrTaskNotFound))
		return
	}
	writeData(w, r, http.StatusOK, snap)
}

func (s *Server) handleCancelTransfer(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Cancel(chi.URLParam(r, "id")); err != nil {
		writeError(w, r, mapHandlerError(err))
		return
	}
	writeData(w, r, http.StatusOK, map[string]bool{"cancelled": true})
}

func (s *Server) handlePauseTransfer(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Pause(chi.URLParam(r, "id")); err != nil {
		writeError(w, r, mapTransferStateError(err))
		return
	}
	writeData(w, r, http.StatusOK, map[string]bool{"paused": true})
}

func (s *Server) handleResumeTransfer(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Resume(chi.URLParam(r, "id")); err != nil {
		writeError(w, r, mapTransferStateError(err))
		return
	}
	writeData(w, r, http.StatusOK, map[string]bool{"resumed": true})
}

func (s *Server) handleRetryTransfer(w http.ResponseWriter, r *http.Request) {
	snap, err := s.engine.Retry(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, mapTransferStateError(err))
		return
	}
	writeData(w, r, http.StatusCreated, snap)
}

func (s *Server) handleClearCompleted(w http.ResponseWriter, r *http.Request) {
	s.engine.ClearCompleted()
	writeData(w, r, http.StatusOK, map[string]bool{"cleared": true})
}

// mapTransferStateError distinguishes unknown ids (404) from illegal
// state transitions (400).
func mapTransferStateError(err error) *apiError {
	api := mapHandlerError(err)
	if api.Code == codeInternal {
		// Engine state errors are plain errors; they are the caller's
		// fault, not ours.
		return invalidParam(err.Error())
	}
	return api
}
