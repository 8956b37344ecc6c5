// Package websocket streams committed domain events to connected clients.
// Each connection follows one patient; events are routed by their PatientID.
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/telecare/telecare/internal/platform/auth"
	"github.com/telecare/telecare/internal/platform/notification"
)

const (
	sendBuffer = 64
	writeWait  = 10 * time.Second
)

// Client is one connection subscribed to a patient's events.
type Client struct {
	ID        uuid.UUID
	PatientID uuid.UUID
	Send      chan []byte
}

// Hub tracks clients per patient. It implements notification.Publisher so it
// can sit next to the dispatcher.
type Hub struct {
	mu       sync.RWMutex
	byTopic  map[uuid.UUID]map[*Client]struct{}
	logger   zerolog.Logger
	maxQueue int
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		byTopic:  make(map[uuid.UUID]map[*Client]struct{}),
		logger:   logger,
		maxQueue: sendBuffer,
	}
}

// NewClient creates an unregistered client for patientID.
func (h *Hub) NewClient(patientID uuid.UUID) *Client {
	return &Client{ID: uuid.New(), PatientID: patientID, Send: make(chan []byte, h.maxQueue)}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.byTopic[c.PatientID] == nil {
		h.byTopic[c.PatientID] = make(map[*Client]struct{})
	}
	h.byTopic[c.PatientID][c] = struct{}{}
}

// Unregister removes c and closes its Send channel. Calling it twice is safe.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.byTopic[c.PatientID]
	if !ok {
		return
	}
	if _, ok := subs[c]; !ok {
		return
	}
	delete(subs, c)
	if len(subs) == 0 {
		delete(h.byTopic, c.PatientID)
	}
	close(c.Send)
}

// Publish fans evt out to the patient's subscribers. A client whose buffer is
// full misses the event.
func (h *Hub) Publish(_ context.Context, evt notification.Event) {
	if evt.PatientID == uuid.Nil {
		return
	}
	data, err := json.Marshal(evt)
	if err != nil {
		h.logger.Error().Err(err).Str("event_type", evt.Type).Msg("websocket: marshal event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.byTopic[evt.PatientID] {
		select {
		case c.Send <- data:
		default:
			h.logger.Warn().Str("client_id", c.ID.String()).Str("event_type", evt.Type).Msg("websocket: client buffer full, event dropped")
		}
	}
}

// ClientCount returns the number of clients following patientID.
func (h *Hub) ClientCount(patientID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byTopic[patientID])
}

// Authorizer decides whether an actor may follow a patient.
type Authorizer interface {
	IsAuthorizedFor(ctx context.Context, actor auth.Actor, patientID uuid.UUID) (bool, error)
}

type Handler struct {
	hub      *Hub
	authz    Authorizer
	upgrader gorillawebsocket.Upgrader
}

// NewHandler accepts connections from allowedOrigins. An empty list accepts
// same-origin requests only.
func NewHandler(hub *Hub, authz Authorizer, allowedOrigins []string) *Handler {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = struct{}{}
	}
	h := &Handler{hub: hub, authz: authz}
	h.upgrader = gorillawebsocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	if len(allowed) > 0 {
		h.upgrader.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			_, ok := allowed[origin]
			return ok
		}
	}
	return h
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/patients/:patient_id/events", h.Connect)
}

// Connect authorizes the caller for the patient, then upgrades the request.
func (h *Handler) Connect(c echo.Context) error {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}
	patientID, err := uuid.Parse(c.Param("patient_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
	}
	ok, err := h.authz.IsAuthorizedFor(c.Request().Context(), actor, patientID)
	if err != nil {
		return err
	}
	if !ok {
		return echo.NewHTTPError(http.StatusForbidden, "not authorized for this patient")
	}

	// Registered before the handshake completes so no event published right
	// after the client connects is missed.
	client := h.hub.NewClient(patientID)
	h.hub.Register(client)

	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.hub.Unregister(client)
		// The upgrader has already written the error response.
		return nil
	}

	go h.writePump(client, ws)
	go h.readPump(client, ws)
	return nil
}

// readPump discards inbound frames and unregisters the client on close.
func (h *Handler) readPump(client *Client, ws *gorillawebsocket.Conn) {
	defer func() {
		h.hub.Unregister(client)
		ws.Close()
	}()
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Handler) writePump(client *Client, ws *gorillawebsocket.Conn) {
	defer ws.Close()
	for message := range client.Send {
		_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
		if err := ws.WriteMessage(gorillawebsocket.TextMessage, message); err != nil {
			return
		}
	}
	_ = ws.WriteMessage(gorillawebsocket.CloseMessage, []byte{})
}
