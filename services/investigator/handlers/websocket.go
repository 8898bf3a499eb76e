// Copyright (C) 2025 InvestiGator Labs (eng@investigator-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// =============================================================================
// # Description
// WebSocket endpoints. Each connection subscribes to one hub topic and
// runs two goroutines: a write pump multiplexing hub broadcasts, direct
// replies, and keepalive pings onto the wire, and the read loop handling
// client actions. Action failures answer a scoped error_occurred on that
// connection only; the socket stays open.
//
// # Inputs
// Upgraded HTTP requests; client action messages; hub broadcasts.
//
// # Outputs
// Event envelopes on the wire; engine lifecycle calls and board writes
// triggered by client actions.
// =============================================================================

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/investigator-ai/investigator/services/investigator/datatypes"
	"github.com/investigator-ai/investigator/services/investigator/engine"
	"github.com/investigator-ai/investigator/services/investigator/lifecycle"
	"github.com/investigator-ai/investigator/services/investigator/observability"
	"github.com/investigator-ai/investigator/services/investigator/realtime"
	"github.com/investigator-ai/investigator/services/investigator/store"
)

const (
	wsWriteWait      = 10 * time.Second
	wsPongWait       = 60 * time.Second
	wsPingPeriod     = (wsPongWait * 9) / 10
	wsMaxMessageSize = 4096

	// directBuffer holds replies addressed to one connection. Overflow
	// drops the reply; the client can always re-request state.
	directBuffer = 8
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Browsers talk to the service through the local UI; origin policy
	// belongs to the deployment's proxy, not here.
	CheckOrigin: func(_ *http.Request) bool { return true },
}

// wsConn couples one upgraded connection with its hub subscription and a
// channel for replies addressed to this connection alone.
type wsConn struct {
	conn   *websocket.Conn
	sub    *realtime.Subscription
	direct chan []byte
}

// writePump owns all writes on the connection: hub broadcasts, direct
// replies, and keepalive pings. It exits when the subscription closes
// (hub shutdown or slow-client drop) or a write fails.
func (w *wsConn) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		w.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-w.sub.C:
			w.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				w.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := w.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case payload := <-w.direct:
			w.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := w.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			w.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := w.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// reply queues an event for this connection only.
func (w *wsConn) reply(ev realtime.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	select {
	case w.direct <- payload:
	default:
		slog.Warn("dropping direct reply on full buffer", "topic", w.sub.Topic)
	}
}

// replyError sends a scoped error_occurred on this connection.
func (w *wsConn) replyError(investigationID, code, message string) {
	w.reply(realtime.NewEvent(realtime.EventErrorOccurred, investigationID, realtime.ErrorData{
		Code:    code,
		Message: message,
	}))
}

// wsErrorCode maps an action failure onto the envelope's stable codes.
func wsErrorCode(err error) string {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return CodeNotFound
	case lifecycle.IsValidation(err):
		return CodeValidationFailed
	case lifecycle.IsTransition(err):
		return CodeInvalidTransition
	case lifecycle.IsConsistency(err):
		return CodeConsistencyViolation
	default:
		return CodeInternal
	}
}

// openSocket verifies the investigation, upgrades, and wires the write
// pump. A nil return means the HTTP response was already written.
func openSocket(c *gin.Context, st *store.Store, hub *realtime.Hub, topic, kind string) *wsConn {
	if _, err := st.Investigations.Get(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return nil
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		slog.Warn("websocket upgrade failed", "topic", topic, "error", err)
		return nil
	}

	w := &wsConn{
		conn:   conn,
		sub:    hub.Subscribe(topic, kind),
		direct: make(chan []byte, directBuffer),
	}
	go w.writePump()

	conn.SetReadLimit(wsMaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})
	return w
}

// readLoop consumes client messages until the connection dies, handing
// each action to handle.
func (w *wsConn) readLoop(handle func(msg datatypes.WSClientMessage)) {
	defer func() {
		w.sub.Close()
		w.conn.Close()
	}()
	for {
		var msg datatypes.WSClientMessage
		if err := w.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("websocket closed", "topic", w.sub.Topic, "error", err)
			}
			return
		}
		handle(msg)
	}
}

// InvestigationSocket streams lifecycle, discovery, and thought events
// for one investigation and accepts control actions back.
func InvestigationSocket(st *store.Store, eng *engine.Engine, hub *realtime.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		investigationID := c.Param("id")
		w := openSocket(c, st, hub, realtime.InvestigationTopic(investigationID), observability.SocketInvestigation)
		if w == nil {
			return
		}
		ctx := c.Request.Context()

		w.readLoop(func(msg datatypes.WSClientMessage) {
			switch msg.Action {
			case "pause_investigation":
				if _, err := eng.Pause(ctx, investigationID); err != nil {
					w.replyError(investigationID, wsErrorCode(err), err.Error())
				}
			case "resume_investigation":
				if _, err := eng.Resume(ctx, investigationID); err != nil {
					w.replyError(investigationID, wsErrorCode(err), err.Error())
				}
			case "redirect_focus":
				var data datatypes.WSRedirect
				if err := json.Unmarshal(msg.Data, &data); err != nil || data.Focus == "" {
					w.replyError(investigationID, CodeValidationFailed, "redirect_focus requires a focus")
					return
				}
				if _, err := eng.Redirect(ctx, investigationID, data.Focus, ""); err != nil {
					w.replyError(investigationID, wsErrorCode(err), err.Error())
				}
			case "request_update":
				inv, err := st.Investigations.Get(ctx, investigationID)
				if err != nil {
					w.replyError(investigationID, wsErrorCode(err), err.Error())
					return
				}
				w.reply(realtime.NewEvent(realtime.EventStatusUpdate, investigationID, map[string]any{
					"status":        inv.Status,
					"current_phase": inv.CurrentPhase,
					"progress":      inv.Progress,
					"confidence":    inv.Confidence,
				}))
			default:
				w.replyError(investigationID, "unknown_action", "unknown action "+msg.Action)
			}
		})
	}
}

// BoardSocket streams board events for one investigation and accepts
// collaborative editing actions back.
func BoardSocket(st *store.Store, hub *realtime.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		investigationID := c.Param("id")
		w := openSocket(c, st, hub, realtime.BoardTopic(investigationID), observability.SocketBoard)
		if w == nil {
			return
		}
		ctx := c.Request.Context()

		w.readLoop(func(msg datatypes.WSClientMessage) {
			switch msg.Action {
			case "update_entity_position":
				var data datatypes.WSPosition
				if err := json.Unmarshal(msg.Data, &data); err != nil || data.EntityID == "" {
					w.replyError(investigationID, CodeValidationFailed, "update_entity_position requires an entity_id")
					return
				}
				_, err := st.Boards.SetEntityPosition(ctx, investigationID, data.EntityID, store.Position{X: data.X, Y: data.Y})
				if err != nil {
					w.replyError(investigationID, wsErrorCode(err), err.Error())
					return
				}
				hub.PublishBoard(investigationID, realtime.NewEvent(realtime.EventEntityPositionUpdate, investigationID, map[string]any{
					"entity_id": data.EntityID,
					"x":         data.X,
					"y":         data.Y,
				}))
			case "update_layout":
				var data datatypes.WSLayout
				if err := json.Unmarshal(msg.Data, &data); err != nil || data.LayoutType == "" {
					w.replyError(investigationID, CodeValidationFailed, "update_layout requires a layout_type")
					return
				}
				board, err := st.Boards.SetLayout(ctx, investigationID, data.LayoutType)
				if err != nil {
					w.replyError(investigationID, wsErrorCode(err), err.Error())
					return
				}
				hub.PublishBoard(investigationID, realtime.NewEvent(realtime.EventLayoutUpdate, investigationID, map[string]any{
					"layout_type": board.LayoutType,
				}))
			case "request_board_state":
				state, err := boardState(ctx, st, investigationID)
				if err != nil {
					w.replyError(investigationID, wsErrorCode(err), err.Error())
					return
				}
				w.reply(realtime.NewEvent(realtime.EventBoardState, investigationID, state))
			default:
				w.replyError(investigationID, "unknown_action", "unknown action "+msg.Action)
			}
		})
	}
}

// boardState assembles the full board snapshot a joining client renders
// from: graph nodes and edges plus presentation state.
func boardState(ctx context.Context, st *store.Store, investigationID string) (map[string]any, error) {
	entities, err := st.Graph.ListEntities(ctx, investigationID, "", "")
	if err != nil {
		return nil, err
	}
	relationships, err := st.Graph.ListRelationships(ctx, investigationID, "")
	if err != nil {
		return nil, err
	}
	board, err := st.Boards.GetOrCreate(ctx, investigationID)
	if err != nil {
		return nil, err
	}
	annotations, err := st.Boards.ListAnnotations(ctx, investigationID)
	if err != nil {
		return nil, err
	}
	// An empty RawMessage is not valid JSON and would poison the whole
	// envelope marshal.
	viewport := json.RawMessage("null")
	if len(board.Viewport) > 0 {
		viewport = json.RawMessage(board.Viewport)
	}
	return map[string]any{
		"nodes":       entities,
		"edges":       relationships,
		"layout_type": board.LayoutType,
		"positions":   board.PositionMap(),
		"viewport":    viewport,
		"annotations": annotations,
	}, nil
}
