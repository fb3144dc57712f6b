package handlers

import (
	"github.com/gin-gonic/gin"
)

// HandlerBundle groups the endpoint handlers the router registers.
type HandlerBundle struct {
	// Session lifecycle
	OpenSessionHandler  gin.HandlerFunc
	CloseSessionHandler gin.HandlerFunc
	GetStateHandler     gin.HandlerFunc
	DeviceSocketHandler gin.HandlerFunc

	// Location resolution
	ResolveAutoHandler        gin.HandlerFunc
	ResolveManualHandler      gin.HandlerFunc
	UseCurrentLocationHandler gin.HandlerFunc
	SearchTextHandler         gin.HandlerFunc
	SuggestionsHandler        gin.HandlerFunc
	SelectSearchResultHandler gin.HandlerFunc
	OpenSettingsHandler       gin.HandlerFunc

	// Saved locations
	ListSavedHandler    gin.HandlerFunc
	SaveLocationHandler gin.HandlerFunc
	UseSavedHandler     gin.HandlerFunc
	RemoveSavedHandler  gin.HandlerFunc

	// Availability search
	SetQueryHandler gin.HandlerFunc
	RetryHandler    gin.HandlerFunc
}

// NewHandlerBundle binds every endpoint to h.
func NewHandlerBundle(h *DiscoveryHandler) *HandlerBundle {
	return &HandlerBundle{
		OpenSessionHandler:  h.OpenSession,
		CloseSessionHandler: h.CloseSession,
		GetStateHandler:     h.GetState,
		DeviceSocketHandler: h.DeviceSocket,

		ResolveAutoHandler:        h.ResolveAuto,
		ResolveManualHandler:      h.ResolveManual,
		UseCurrentLocationHandler: h.UseCurrentLocation,
		SearchTextHandler:         h.SearchText,
		SuggestionsHandler:        h.Suggestions,
		SelectSearchResultHandler: h.SelectSearchResult,
		OpenSettingsHandler:       h.OpenSettings,

		ListSavedHandler:    h.ListSaved,
		SaveLocationHandler: h.SaveLocation,
		UseSavedHandler:     h.UseSaved,
		RemoveSavedHandler:  h.RemoveSaved,

		SetQueryHandler: h.SetQuery,
		RetryHandler:    h.Retry,
	}
}
