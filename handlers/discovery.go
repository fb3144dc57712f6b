package handlers

import (
	"net/http"
	"strconv"

	"homehelp/middleware"
	"homehelp/models"
	"homehelp/realtime"
	"homehelp/services/discovery"
	"homehelp/utils"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Events pushed to the phone.
const (
	EventDiscoveryState = "discovery.state"
	EventSuggestions    = "location.suggestions"
)

// DiscoveryHandler exposes a customer's discovery session over HTTP. The
// phone keeps a websocket open on /ws so the session can reach its GPS and
// permission prompts.
type DiscoveryHandler struct {
	Sessions *discovery.SessionManager
	Hub      *realtime.Hub
}

func NewDiscoveryHandler(sessions *discovery.SessionManager, hub *realtime.Hub) *DiscoveryHandler {
	return &DiscoveryHandler{Sessions: sessions, Hub: hub}
}

type coordinatesRequest struct {
	Latitude  *float64 `json:"lat" binding:"required"`
	Longitude *float64 `json:"lng" binding:"required"`
}

type searchTextRequest struct {
	Text string `json:"text"`
}

type nameRequest struct {
	Name string `json:"name" binding:"required"`
}

type sessionResponse struct {
	SessionID    string                `json:"sessionId"`
	OpenedAt     string                `json:"openedAt"`
	DeviceOnline bool                  `json:"deviceOnline"`
	State        models.DiscoveryState `json:"state"`
}

// session returns the caller's open session or writes 404.
func (h *DiscoveryHandler) session(c *gin.Context) (*discovery.Session, bool) {
	p := middleware.PrincipalFrom(c)
	s, ok := h.Sessions.Get(p.CustomerID)
	if !ok {
		utils.JSONError(c, http.StatusNotFound, "No discovery session", "open a session first")
		return nil, false
	}
	return s, true
}

// respondTask answers with the session state. With ?wait=true, or when the
// task already failed, it waits for the task and reports its error.
func (h *DiscoveryHandler) respondTask(c *gin.Context, s *discovery.Session, task *utils.Task, message string) {
	wait, _ := strconv.ParseBool(c.Query("wait"))
	select {
	case <-task.Done():
		wait = true
	default:
	}
	if !wait {
		c.JSON(http.StatusAccepted, s.Orchestrator.State())
		return
	}
	if err := task.Wait(c.Request.Context()); err != nil {
		respondError(c, message, err)
		return
	}
	c.JSON(http.StatusOK, s.Orchestrator.State())
}

// OpenSession starts discovery for the signed-in customer, replacing any
// previous session.
func (h *DiscoveryHandler) OpenSession(c *gin.Context) {
	logger := getLogger(c)
	p := middleware.PrincipalFrom(c)

	device := h.Hub.Device(p.CustomerID)
	s, err := h.Sessions.Open(p, device)
	if err != nil {
		respondError(c, "Failed to open discovery session", err)
		return
	}
	s.Orchestrator.Subscribe(func(st models.DiscoveryState) {
		_ = device.Push(EventDiscoveryState, st)
	})
	s.Orchestrator.SubscribeSuggestions(func(query string, hits []models.GeocodeHit) {
		_ = device.Push(EventSuggestions, gin.H{"query": query, "results": hits})
	})

	logger.Info("OpenSession: session opened", zap.String("customerId", p.CustomerID), zap.String("sessionId", s.ID))
	c.JSON(http.StatusCreated, sessionResponse{
		SessionID:    s.ID,
		OpenedAt:     s.OpenedAt.Format(http.TimeFormat),
		DeviceOnline: device.Online(),
		State:        s.Orchestrator.State(),
	})
}

// CloseSession ends discovery on sign-out and drops the device connection.
func (h *DiscoveryHandler) CloseSession(c *gin.Context) {
	p := middleware.PrincipalFrom(c)
	existed := h.Sessions.Close(p.CustomerID)
	h.Hub.RemoveUnless(p.CustomerID, func() bool { return h.Sessions.Active(p.CustomerID) })
	if !existed {
		utils.JSONError(c, http.StatusNotFound, "No discovery session", "")
		return
	}
	c.Status(http.StatusNoContent)
}

// GetState returns the current discovery snapshot.
func (h *DiscoveryHandler) GetState(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, sessionResponse{
		SessionID:    s.ID,
		OpenedAt:     s.OpenedAt.Format(http.TimeFormat),
		DeviceOnline: h.Hub.Device(s.Principal.CustomerID).Online(),
		State:        s.Orchestrator.State(),
	})
}

func (h *DiscoveryHandler) ResolveAuto(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	h.respondTask(c, s, s.Orchestrator.ResolveAuto(), "Failed to resolve location")
}

func (h *DiscoveryHandler) ResolveManual(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var req coordinatesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.JSONKindError(c, http.StatusBadRequest, string(models.ErrKindValidation), "Invalid request", err.Error())
		return
	}
	coord := models.Coordinates{Latitude: *req.Latitude, Longitude: *req.Longitude}
	h.respondTask(c, s, s.Orchestrator.ResolveManual(coord), "Failed to resolve pinned location")
}

func (h *DiscoveryHandler) UseCurrentLocation(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	h.respondTask(c, s, s.Orchestrator.UseCurrentLocation(), "Failed to resolve current location")
}

// SearchText feeds the debounced address search. Results arrive on the
// websocket and via GET /location/suggestions.
func (h *DiscoveryHandler) SearchText(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var req searchTextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.JSONKindError(c, http.StatusBadRequest, string(models.ErrKindValidation), "Invalid request", err.Error())
		return
	}
	s.Orchestrator.SearchText(req.Text)
	c.JSON(http.StatusAccepted, gin.H{"query": req.Text})
}

func (h *DiscoveryHandler) Suggestions(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": s.Orchestrator.Suggestions()})
}

func (h *DiscoveryHandler) SelectSearchResult(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var hit models.GeocodeHit
	if err := c.ShouldBindJSON(&hit); err != nil {
		utils.JSONKindError(c, http.StatusBadRequest, string(models.ErrKindValidation), "Invalid request", err.Error())
		return
	}
	loc, err := s.Orchestrator.SelectSearchResult(hit)
	if err != nil {
		respondError(c, "Failed to select search result", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"location": loc, "state": s.Orchestrator.State()})
}

// OpenSettings deep-links the phone to its location settings.
func (h *DiscoveryHandler) OpenSettings(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	if err := s.Orchestrator.OpenSettings(c.Request.Context()); err != nil {
		respondError(c, "Failed to open settings", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *DiscoveryHandler) ListSaved(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	list, err := s.Orchestrator.SavedLocations(c.Request.Context(), middleware.PrincipalFrom(c))
	if err != nil {
		respondError(c, "Failed to load saved locations", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"savedLocations": list})
}

// SaveLocation stores the current location under a name, replacing a saved
// location with the same name.
func (h *DiscoveryHandler) SaveLocation(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var req nameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.JSONKindError(c, http.StatusBadRequest, string(models.ErrKindValidation), "Invalid request", err.Error())
		return
	}
	saved, err := s.Orchestrator.SaveAs(c.Request.Context(), middleware.PrincipalFrom(c), req.Name)
	if err != nil {
		respondError(c, "Failed to save location", err)
		return
	}
	c.JSON(http.StatusOK, saved)
}

func (h *DiscoveryHandler) UseSaved(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var req nameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.JSONKindError(c, http.StatusBadRequest, string(models.ErrKindValidation), "Invalid request", err.Error())
		return
	}
	loc, err := s.Orchestrator.UseSavedLocation(c.Request.Context(), middleware.PrincipalFrom(c), req.Name)
	if err != nil {
		respondError(c, "Failed to use saved location", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"location": loc, "state": s.Orchestrator.State()})
}

func (h *DiscoveryHandler) RemoveSaved(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	if err := s.Orchestrator.RemoveSavedLocation(c.Request.Context(), middleware.PrincipalFrom(c), c.Param("id")); err != nil {
		respondError(c, "Failed to remove saved location", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// SetQuery records the booking parameters; a search starts once a location
// is also known.
func (h *DiscoveryHandler) SetQuery(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var q models.BookingQuery
	if err := c.ShouldBindJSON(&q); err != nil {
		utils.JSONKindError(c, http.StatusBadRequest, string(models.ErrKindValidation), "Invalid request", err.Error())
		return
	}
	h.respondTask(c, s, s.Orchestrator.SetQuery(q), "Availability search failed")
}

func (h *DiscoveryHandler) Retry(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	h.respondTask(c, s, s.Orchestrator.Retry(), "Availability search failed")
}
