package bridge

import (
	"context"
	"log/slog"
	"net/http"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"beer_counter/internal/feed"
)

// Handler is the agent side of the protocol. It exposes any feed.Source,
// which lets a capture host publish its spool to a remote scanner.
type Handler struct {
	src   feed.Source
	token string
	log   *slog.Logger
}

func NewHandler(src feed.Source, token string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{src: src, token: token, log: logger}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.token != "" && r.Header.Get("Authorization") != "Bearer "+h.token {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.log.Warn("bridge accept failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	conn.SetReadLimit(readLimit)
	ctx := r.Context()
	for {
		var req request
		if err := wsjson.Read(ctx, conn, &req); err != nil {
			if websocket.CloseStatus(err) == -1 {
				h.log.Debug("bridge read ended", "err", err)
			}
			return
		}
		if err := wsjson.Write(ctx, conn, h.handle(ctx, req)); err != nil {
			h.log.Warn("bridge write failed", "op", req.Op, "err", err)
			return
		}
	}
}

func (h *Handler) handle(ctx context.Context, req request) response {
	resp := response{ID: req.ID}
	var err error
	switch req.Op {
	case OpList:
		var msgs []feed.Message
		msgs, err = h.src.ListVisible(ctx)
		if err == nil {
			resp.Window, err = feed.EncodeWindow(msgs)
		}
	case OpRevealOlder:
		err = h.src.RevealOlder(ctx)
	case OpScrollLatest:
		err = h.src.ScrollToLatest(ctx)
	default:
		resp.Error = "unknown op " + req.Op
		return resp
	}
	if err != nil {
		resp.Error = err.Error()
		return resp
	}
	resp.OK = true
	return resp
}
