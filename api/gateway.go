package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/coder/websocket"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"tymr/domain"
	"tymr/fanout"
)

// clientFrame is one inbound WebSocket message: an action name plus its
// raw payload, decoded per action.
type clientFrame struct {
	Action  string          `json:"action"`
	Payload json.RawMessage `json:"payload"`
}

// Gateway owns the WebSocket endpoint: it authenticates the socket,
// registers a fan-out session, pumps outbound frames, and dispatches
// inbound actions to the task service.
type Gateway struct {
	auth    *Auth
	hub     *fanout.Hub
	svc     *TaskService
	actions map[string]func(ctx context.Context, userID string, p taskPayload) error
}

func NewGateway(auth *Auth, hub *fanout.Hub, svc *TaskService) *Gateway {
	g := &Gateway{auth: auth, hub: hub, svc: svc}
	// The action set is closed; anything else gets an error frame.
	g.actions = map[string]func(ctx context.Context, userID string, p taskPayload) error{
		"create_task":         svc.Create,
		"update_task":         svc.Update,
		"task_dropped_to_cal": svc.DroppedToCal,
		"toggle_completion":   svc.ToggleCompletion,
		"assign_project":      svc.AssignProject,
		"update_task_order":   svc.UpdateOrder,
		"delete_task":         svc.Delete,
		"turn_off_repeat":     svc.TurnOffRepeat,
		"set_timezone":        svc.SetTimezone,
	}
	return g
}

// Handle serves GET /ws/tasks. Browsers cannot set headers on WebSocket
// upgrades, so the token may ride in the "token" query parameter instead of
// the Authorization header.
func (g *Gateway) Handle(c echo.Context) error {
	userID, err := g.authenticate(c)
	if err != nil {
		return c.String(http.StatusUnauthorized, err.Error())
	}

	conn, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		return nil
	}
	defer conn.Close(websocket.StatusInternalError, "closing")

	ctx := c.Request().Context()
	session := g.hub.Register(userID)
	defer g.hub.Unregister(userID, session)

	writeCtx, cancelWrites := context.WithCancel(ctx)
	defer cancelWrites()
	go func() {
		for frame := range session.Frames() {
			if err := conn.Write(writeCtx, websocket.MessageText, frame); err != nil {
				return
			}
		}
	}()

	g.reply(session, userID, domain.Message{Type: domain.MsgConnected})
	log.WithField("user_id", userID).Debug("session connected")

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			log.WithField("user_id", userID).Debug("session closed")
			return nil
		}
		g.dispatch(ctx, session, userID, data)
	}
}

func (g *Gateway) authenticate(c echo.Context) (string, error) {
	if h := c.Request().Header.Get(echo.HeaderAuthorization); h != "" {
		return g.auth.UserIDFromAuthHeader(h)
	}
	if token := c.QueryParam("token"); token != "" {
		return g.auth.UserIDFromToken(token)
	}
	return "", errMissingAuthorization
}

func (g *Gateway) dispatch(ctx context.Context, session *fanout.Session, userID string, data []byte) {
	var frame clientFrame
	if err := sonic.Unmarshal(data, &frame); err != nil {
		g.replyError(session, userID, "", fmt.Errorf("undecodable frame"))
		return
	}

	// fetch_tasks answers this session only; everything else broadcasts
	// through the fan-out channel.
	if frame.Action == "fetch_tasks" {
		msg, err := g.svc.List(ctx, userID)
		if err != nil {
			g.replyError(session, userID, frame.Action, err)
			return
		}
		g.reply(session, userID, msg)
		return
	}

	handler, ok := g.actions[frame.Action]
	if !ok {
		g.replyError(session, userID, frame.Action, fmt.Errorf("unknown action %q", frame.Action))
		return
	}
	var payload taskPayload
	if len(frame.Payload) > 0 {
		if err := sonic.Unmarshal(frame.Payload, &payload); err != nil {
			g.replyError(session, userID, frame.Action, fmt.Errorf("bad payload"))
			return
		}
	}
	if err := handler(ctx, userID, payload); err != nil {
		g.replyError(session, userID, frame.Action, err)
	}
}

func (g *Gateway) reply(session *fanout.Session, userID string, msg domain.Message) {
	data, err := sonic.Marshal(msg)
	if err != nil {
		log.WithField("user_id", userID).Errorf("marshal reply: %v", err)
		return
	}
	if !session.Send(data) {
		log.WithField("user_id", userID).Warn("session queue full, dropping reply")
	}
}

func (g *Gateway) replyError(session *fanout.Session, userID, action string, err error) {
	log.WithFields(log.Fields{"user_id": userID, "action": action}).Warnf("action failed: %v", err)
	g.reply(session, userID, domain.Message{Type: domain.MsgError, Error: err.Error()})
}
