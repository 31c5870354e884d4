// Package server exposes the conversational front-end over a websocket.
// Each connection owns one session and one goroutine processing its turns,
// so session state is never shared across connections.
package server

import (
	"context"
	"encoding/base64"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"atelier/internal/chat"
	"atelier/internal/deepthink"
	"atelier/internal/llm"
)

const (
	wsWriteWait = 10 * time.Second
	wsPongWait  = 60 * time.Second
	wsPingEvery = (wsPongWait * 9) / 10
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

type wsInbound struct {
	Type        string `json:"type"` // "message", "edit", "assets", "references"
	Text        string `json:"text,omitempty"`
	ImageBase64 string `json:"imageBase64,omitempty"`
	ImageMIME   string `json:"imageMime,omitempty"`
	AssetName   string `json:"assetName,omitempty"`
	AspectRatio string `json:"aspectRatio,omitempty"`
	TextOverlay string `json:"textOverlay,omitempty"`
	Reference   string `json:"reference,omitempty"`
	Filename    string `json:"filename,omitempty"`
}

type wsOutbound struct {
	Type      string `json:"type"` // "reply", "event", "error"
	Text      string `json:"text,omitempty"`
	Kind      string `json:"kind,omitempty"`
	Iteration int    `json:"iteration,omitempty"`
	Filename  string `json:"filename,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

// Handler serves chat sessions. NewAssistant builds a fresh assistant per
// connection; the notify callback receives deep-think loop events.
type Handler struct {
	NewAssistant func(notify func(deepthink.Event)) *chat.Assistant
}

func (h *Handler) HandleChatWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if err := conn.SetReadDeadline(time.Now().Add(wsPongWait)); err != nil {
		log.Printf("server: ws set read deadline failed: %v", err)
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	writeCh := make(chan wsOutbound, 32)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		ticker := time.NewTicker(wsPingEvery)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case out := <-writeCh:
				if err := conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
					return
				}
				if err := conn.WriteJSON(out); err != nil {
					return
				}
			case <-ticker.C:
				if err := conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
					return
				}
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	assistant := h.NewAssistant(func(ev deepthink.Event) {
		pushWS(writeCh, wsOutbound{
			Type:      "event",
			Kind:      string(ev.Kind),
			Iteration: ev.Iteration,
			Text:      ev.Text,
			Filename:  ev.Filename,
		})
	})
	pushWS(writeCh, wsOutbound{Type: "event", Kind: "session", SessionID: assistant.Session.ID.String()})

	for {
		var in wsInbound
		if err := conn.ReadJSON(&in); err != nil {
			cancel()
			<-writerDone
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))

		switch in.Type {
		case "message":
			msg := chat.Message{Text: in.Text}
			if in.ImageBase64 != "" {
				data, decErr := base64.StdEncoding.DecodeString(in.ImageBase64)
				if decErr != nil {
					pushWS(writeCh, wsOutbound{Type: "error", Text: "invalid image payload"})
					continue
				}
				msg.Image = &llm.Image{MIME: in.ImageMIME, Data: data}
			}
			reply, err := assistant.HandleMessage(ctx, msg, chat.CreateParams{
				AssetName:   in.AssetName,
				AspectRatio: in.AspectRatio,
				TextOverlay: in.TextOverlay,
				Reference:   in.Reference,
			})
			if err != nil {
				pushWS(writeCh, wsOutbound{Type: "error", Text: err.Error()})
				continue
			}
			pushWS(writeCh, wsOutbound{Type: "reply", Text: reply})
		case "edit":
			out, err := assistant.Edit(ctx, chat.EditParams{
				Filename:    in.Filename,
				Instruction: in.Text,
				AssetName:   in.AssetName,
				Reference:   in.Reference,
			})
			if err != nil {
				pushWS(writeCh, wsOutbound{Type: "error", Text: err.Error()})
				continue
			}
			pushWS(writeCh, wsOutbound{Type: "reply", Text: "Image edited successfully! " + out.Message, Filename: out.Filename})
		case "assets":
			pushWS(writeCh, wsOutbound{Type: "reply", Text: assistant.DescribeAssets()})
		case "references":
			pushWS(writeCh, wsOutbound{Type: "reply", Text: assistant.DescribeReferences()})
		default:
			pushWS(writeCh, wsOutbound{Type: "error", Text: "unknown frame type"})
		}
	}
}

func pushWS(ch chan wsOutbound, out wsOutbound) {
	select {
	case ch <- out:
	default:
		log.Printf("server: ws write channel full, dropping %s frame", out.Type)
	}
}
