package server

import (
	"context"
	"net/http"
	"time"

	"github.com/Daskott/deadman/server/engine"
	"github.com/Daskott/deadman/server/metrics"
	"github.com/Daskott/deadman/server/models"
	"github.com/go-playground/validator"
	"github.com/gorilla/mux"
)

const DEFAULT_CHECK_IN_LIMIT = 50

type ResponsePayload struct {
	Errors  []string    `json:"errors"`
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
}

// createSwitchRequest caps both periods at one leap year of hours.
type createSwitchRequest struct {
	UserID               uint   `json:"user_id" validate:"required"`
	Name                 string `json:"name" validate:"required"`
	Description          string `json:"description"`
	CheckInIntervalHours int    `json:"check_in_interval_hours" validate:"required,min=1,max=8784"`
	GracePeriodHours     int    `json:"grace_period_hours" validate:"min=0,max=8784"`
}

type checkInRequest struct {
	UserID   uint   `json:"user_id" validate:"required"`
	Notes    string `json:"notes"`
	Location string `json:"location"`
}

type switchResponse struct {
	*models.Switch
	DueAt         time.Time `json:"due_at"`
	DeadlineAt    time.Time `json:"deadline_at"`
	IsOverdue     bool      `json:"is_overdue"`
	TimeRemaining string    `json:"time_remaining"`
}

var validate = validator.New()

func (s *Server) router() *mux.Router {
	router := mux.NewRouter()
	router.Use(loggingMiddleware)

	router.Handle("/metrics", metrics.Handler()).Methods("GET")

	api := router.NewRoute().Subrouter()
	api.Use(jsonContentMiddleware)

	api.HandleFunc("/health", s.health).Methods("GET")
	api.HandleFunc("/stats", s.stats).Methods("GET")

	api.HandleFunc("/switches", s.createSwitch).Methods("POST")
	api.HandleFunc("/switches/{id}", s.deleteSwitch).Methods("DELETE")
	api.HandleFunc("/switches/{id}/status", s.switchStatus).Methods("GET")
	api.HandleFunc("/switches/{id}/check-in", s.checkIn).Methods("POST")
	api.HandleFunc("/switches/{id}/check-ins", s.listCheckIns).Methods("GET")
	api.HandleFunc("/switches/{id}/enabled", s.setEnabled).Methods("PUT")
	api.HandleFunc("/switches/{id}/disabled", s.setDisabled).Methods("PUT")
	api.HandleFunc("/switches/{id}/contacts", s.addContact).Methods("POST")
	api.HandleFunc("/switches/{id}/notifications", s.listNotifications).Methods("GET")
	api.HandleFunc("/switches/{id}/test-notification", s.testNotification).Methods("POST")

	api.HandleFunc("/users/{uid}/switches", s.deleteUserSwitches).Methods("DELETE")

	return router
}

func (s *Server) health(rw http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeResponse(rw, ResponsePayload{Errors: []string{err.Error()}}, http.StatusServiceUnavailable)
		return
	}
	writeData(rw, map[string]string{"status": "ok"}, http.StatusOK)
}

func (s *Server) stats(rw http.ResponseWriter, r *http.Request) {
	stats, err := s.engine.Stats(r.Context())
	if err != nil {
		writeError(rw, err)
		return
	}

	stats.Jobs, err = s.store.JobsStats(r.Context())
	if err != nil {
		writeError(rw, err)
		return
	}
	writeData(rw, stats, http.StatusOK)
}

func (s *Server) createSwitch(rw http.ResponseWriter, r *http.Request) {
	data := createSwitchRequest{}
	if err := decodeBody(r, &data); err != nil {
		writeError(rw, err)
		return
	}

	if err := validate.Struct(data); err != nil {
		writeError(rw, err)
		return
	}

	sw, err := s.engine.CreateSwitch(r.Context(), engine.NewSwitch{
		UserID:          data.UserID,
		Name:            data.Name,
		Description:     data.Description,
		CheckInInterval: time.Duration(data.CheckInIntervalHours) * time.Hour,
		GracePeriod:     time.Duration(data.GracePeriodHours) * time.Hour,
	})
	if err != nil {
		writeError(rw, err)
		return
	}

	writeData(rw, s.switchResponse(sw), http.StatusCreated)
}

func (s *Server) deleteSwitch(rw http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(rw, err)
		return
	}

	if err := s.engine.DeleteSwitch(r.Context(), id); err != nil {
		writeError(rw, err)
		return
	}
	writeResponse(rw, ResponsePayload{Success: true}, http.StatusOK)
}

func (s *Server) deleteUserSwitches(rw http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "uid")
	if err != nil {
		writeError(rw, err)
		return
	}

	deleted, err := s.engine.DeleteUserSwitches(r.Context(), userID)
	if err != nil {
		writeError(rw, err)
		return
	}
	writeData(rw, map[string]int64{"deleted": deleted}, http.StatusOK)
}

func (s *Server) switchStatus(rw http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(rw, err)
		return
	}

	sw, _, err := s.engine.GetSwitch(r.Context(), id)
	if err != nil {
		writeError(rw, err)
		return
	}
	writeData(rw, s.switchResponse(sw), http.StatusOK)
}

func (s *Server) checkIn(rw http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(rw, err)
		return
	}

	data := checkInRequest{}
	if err := decodeBody(r, &data); err != nil {
		writeError(rw, err)
		return
	}

	if err := validate.Struct(data); err != nil {
		writeError(rw, err)
		return
	}

	sw, err := s.engine.CheckIn(r.Context(), id, data.UserID, engine.CheckInParams{
		Notes:     data.Notes,
		Location:  data.Location,
		IPAddress: clientIP(r),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		writeError(rw, err)
		return
	}
	writeData(rw, s.switchResponse(sw), http.StatusOK)
}

func (s *Server) listCheckIns(rw http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(rw, err)
		return
	}

	limit, err := queryInt(r, "limit", DEFAULT_CHECK_IN_LIMIT)
	if err != nil {
		writeError(rw, err)
		return
	}

	checkIns, err := s.engine.ListCheckIns(r.Context(), id, limit)
	if err != nil {
		writeError(rw, err)
		return
	}
	writeData(rw, checkIns, http.StatusOK)
}

func (s *Server) setEnabled(rw http.ResponseWriter, r *http.Request) {
	s.toggle(rw, r, "enabled", s.engine.SetEnabled)
}

func (s *Server) setDisabled(rw http.ResponseWriter, r *http.Request) {
	s.toggle(rw, r, "disabled", s.engine.SetDisabled)
}

// toggle serves the PUT endpoints whose body is a single boolean field.
func (s *Server) toggle(rw http.ResponseWriter, r *http.Request, field string,
	apply func(ctx context.Context, switchID uint, value bool) (*models.Switch, error)) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(rw, err)
		return
	}

	data := map[string]*bool{}
	if err := decodeBody(r, &data); err != nil {
		writeError(rw, err)
		return
	}

	value, ok := data[field]
	if !ok || value == nil || len(data) != 1 {
		writeResponse(rw, ResponsePayload{Errors: []string{field + " (bool) is the only accepted field"}}, http.StatusBadRequest)
		return
	}

	sw, err := apply(r.Context(), id, *value)
	if err != nil {
		writeError(rw, err)
		return
	}
	writeData(rw, s.switchResponse(sw), http.StatusOK)
}

func (s *Server) addContact(rw http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(rw, err)
		return
	}

	data := engine.ContactParams{}
	if err := decodeBody(r, &data); err != nil {
		writeError(rw, err)
		return
	}

	contact, err := s.engine.AddContact(r.Context(), id, data)
	if err != nil {
		writeError(rw, err)
		return
	}
	writeData(rw, contact, http.StatusCreated)
}

func (s *Server) listNotifications(rw http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(rw, err)
		return
	}

	page, err := queryInt(r, "page", 1)
	if err != nil {
		writeError(rw, err)
		return
	}

	pageSize, err := queryInt(r, "page_size", models.DEFAULT_PAGE_SIZE)
	if err != nil {
		writeError(rw, err)
		return
	}

	notifications, paging, err := s.engine.ListNotifications(r.Context(), id, page, pageSize)
	if err != nil {
		writeError(rw, err)
		return
	}
	writeData(rw, map[string]interface{}{
		"notifications": notifications,
		"paging":        paging,
	}, http.StatusOK)
}

func (s *Server) testNotification(rw http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(rw, err)
		return
	}

	queued, err := s.engine.RequestTestNotification(r.Context(), id)
	if err != nil {
		writeError(rw, err)
		return
	}
	writeData(rw, map[string]int{"queued": queued}, http.StatusAccepted)
}

func (s *Server) switchResponse(sw *models.Switch) switchResponse {
	now := s.clock.Now()
	status := engine.Evaluate(sw, now)

	return switchResponse{
		Switch:        sw,
		DueAt:         status.DueAt,
		DeadlineAt:    status.DeadlineAt,
		IsOverdue:     status.IsOverdue,
		TimeRemaining: status.Remaining(now).Round(time.Second).String(),
	}
}
