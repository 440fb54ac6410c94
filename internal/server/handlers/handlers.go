// Package handlers implements the HTTP handlers for profiles, documents and
// scheduled jobs.
package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/clofast/clofast/internal/profiles"
	"github.com/clofast/clofast/internal/scheduler"
)

type Handlers struct {
	registry *profiles.Registry
	engine   *scheduler.Engine
	history  *scheduler.HistoryStore
}

func New(registry *profiles.Registry, engine *scheduler.Engine, history *scheduler.HistoryStore) *Handlers {
	return &Handlers{
		registry: registry,
		engine:   engine,
		history:  history,
	}
}

type ListResponse struct {
	Items any `json:"items"`
	Total int `json:"total"`
}

func (h *Handlers) CreateProfile(w http.ResponseWriter, r *http.Request) {
	var req profiles.CreateRequest
	if err := decodeJSON(r, &req); err != nil {
		BadRequest(w, "invalid request body: "+err.Error())
		return
	}

	p, err := h.registry.Create(r.Context(), req)
	if err != nil {
		Fail(w, r, err)
		return
	}

	JSON(w, http.StatusCreated, p)
}

func (h *Handlers) ListProfiles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := profiles.ListOptions{
		UserID:       q.Get("user_id"),
		Status:       q.Get("status"),
		Sort:         q.Get("sort"),
		Order:        q.Get("order"),
		TitlePattern: q.Get("title"),
	}
	// Older clients send the status selector as "filter".
	if opts.Status == "" {
		opts.Status = q.Get("filter")
	}

	list, err := h.registry.List(r.Context(), opts)
	if err != nil {
		Fail(w, r, err)
		return
	}

	JSON(w, http.StatusOK, ListResponse{Items: list, Total: len(list)})
}

func (h *Handlers) ProfileStatusSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := h.registry.StatusSummary(r.Context())
	if err != nil {
		Fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, sum)
}

func (h *Handlers) GetProfile(w http.ResponseWriter, r *http.Request) {
	p, err := h.registry.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		Fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, p)
}

func (h *Handlers) DeleteProfile(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.Delete(r.Context(), r.PathValue("id")); err != nil {
		Fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) RescheduleProfile(w http.ResponseWriter, r *http.Request) {
	var cfg profiles.ScheduleConfig
	if err := decodeJSON(r, &cfg); err != nil {
		BadRequest(w, "invalid request body: "+err.Error())
		return
	}

	p, err := h.registry.Reschedule(r.Context(), r.PathValue("id"), cfg)
	if err != nil {
		Fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, p)
}

type statusRequest struct {
	Status profiles.Status `json:"status"`
}

func (h *Handlers) SetProfileStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decodeJSON(r, &req); err != nil {
		BadRequest(w, "invalid request body: "+err.Error())
		return
	}

	p, err := h.registry.SetStatus(r.Context(), r.PathValue("id"), req.Status)
	if err != nil {
		Fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, p)
}

func (h *Handlers) ListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := h.registry.ListDocuments(r.Context(), r.PathValue("id"), r.URL.Query().Get("status"))
	if err != nil {
		Fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, ListResponse{Items: docs, Total: len(docs)})
}

type addDocumentRequest struct {
	Content string `json:"content"`
}

func (h *Handlers) AddDocument(w http.ResponseWriter, r *http.Request) {
	var req addDocumentRequest
	if err := decodeJSON(r, &req); err != nil {
		BadRequest(w, "invalid request body: "+err.Error())
		return
	}

	doc, err := h.registry.AddDocument(r.Context(), r.PathValue("id"), req.Content)
	if err != nil {
		Fail(w, r, err)
		return
	}
	JSON(w, http.StatusCreated, doc)
}

type jobResponse struct {
	ID          string            `json:"id"`
	ProfileID   string            `json:"profile_id"`
	Expression  string            `json:"cron_expression"`
	Timezone    string            `json:"timezone,omitempty"`
	Args        map[string]string `json:"args"`
	NextRunTime time.Time         `json:"next_run_time"`
}

// ListJobs lists the pending firings in fire-time order.
func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	pending := h.engine.Pending()
	jobs := make([]jobResponse, 0, len(pending))
	for _, e := range pending {
		jobs = append(jobs, jobResponse{
			ID:          e.TriggerID,
			ProfileID:   e.ProfileID,
			Expression:  e.Expression,
			Timezone:    e.Timezone,
			Args:        e.Args,
			NextRunTime: e.At,
		})
	}
	JSON(w, http.StatusOK, ListResponse{Items: jobs, Total: len(jobs)})
}

const maxFiringsLimit = 500

func (h *Handlers) ListFirings(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			BadRequest(w, "limit must be a positive integer")
			return
		}
		limit = min(n, maxFiringsLimit)
	}

	firings, err := h.history.ListByTrigger(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		Fail(w, r, err)
		return
	}
	if firings == nil {
		firings = []*scheduler.Firing{}
	}
	JSON(w, http.StatusOK, ListResponse{Items: firings, Total: len(firings)})
}
