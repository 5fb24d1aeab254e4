package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vdavid/mailsync/internal/auth"
	"github.com/vdavid/mailsync/internal/db"
	"github.com/vdavid/mailsync/internal/events"
	"github.com/vdavid/mailsync/internal/loader"
	"github.com/vdavid/mailsync/internal/models"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsOutboxSize   = 16
)

// Messages sent to the client.
const (
	wsTypeEvent   = "event"
	wsTypeLoading = "loading"
	wsTypeThreads = "threads"
	wsTypeError   = "error"
)

// clientMessage is what the client sends. The only command is "load", which loads a
// page of a folder through a FolderLoader: the cached view first, then the live one.
type clientMessage struct {
	Type   string `json:"type"`
	Folder string `json:"folder"`
	Page   int    `json:"page"`
	Limit  int    `json:"limit"`
}

type serverMessage struct {
	Type    string               `json:"type"`
	Event   *events.Event        `json:"event,omitempty"`
	Token   uint64               `json:"token,omitempty"`
	Folder  string               `json:"folder,omitempty"`
	Phase   loader.Phase         `json:"phase,omitempty"`
	Threads []*models.ThreadNode `json:"threads,omitempty"`
	Moved   int                  `json:"moved,omitempty"`
	Copied  int                  `json:"copied,omitempty"`
	Error   string               `json:"error,omitempty"`
}

// WebSocketHandler handles the /api/v1/ws endpoint for real-time updates.
type WebSocketHandler struct {
	guard        *auth.Guard
	hub          *events.Hub
	repos        Repositories
	rules        loader.RuleSource
	defaultLimit int
	// onFirstSubscriber runs when an account gains its first subscriber, so mail that
	// arrived while nobody listened is picked up right away.
	onFirstSubscriber func(account string)
}

// NewWebSocketHandler creates a new WebSocketHandler instance. ruleSource and
// onFirstSubscriber may be nil.
func NewWebSocketHandler(guard *auth.Guard, hub *events.Hub, repos Repositories, ruleSource loader.RuleSource, defaultLimit int, onFirstSubscriber func(account string)) *WebSocketHandler {
	if defaultLimit <= 0 {
		defaultLimit = 100
	}
	return &WebSocketHandler{
		guard:             guard,
		hub:               hub,
		repos:             repos,
		rules:             ruleSource,
		defaultLimit:      defaultLimit,
		onFirstSubscriber: onFirstSubscriber,
	}
}

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// For now, allow all origins. This server is expected to be used
		// behind a reverse proxy in a trusted environment.
		return true
	},
}

// Handle upgrades the HTTP connection to a WebSocket and subscribes it to the hub.
// Authentication is handled via query parameter (?token=...) since WebSocket connections
// cannot set custom headers in browsers. The "account" query parameter narrows the stream
// to one account and enables "load" commands; without it every account's events are sent.
func (h *WebSocketHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if err := h.guard.Validate(auth.RequestToken(r)); err != nil {
		log.Printf("WebSocketHandler: Token validation failed: %v", err)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	account := strings.TrimSpace(r.URL.Query().Get("account"))

	var folderLoader *loader.FolderLoader
	if account != "" {
		repo, err := h.repos.Get(r.Context(), account)
		if err != nil {
			if errors.Is(err, db.ErrAccountNotFound) {
				http.Error(w, "Account not found", http.StatusNotFound)
				return
			}
			log.Printf("WebSocketHandler: Failed to open repository for %s: %v", account, err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		folderLoader = loader.New(repo, h.rules, repo.AccountID(), 0)
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocketHandler: failed to upgrade connection for %q: %v", account, err)
		return
	}

	isFirst := h.hub.Subscribers(account) == 0
	sub, err := h.hub.Subscribe(account)
	if err != nil {
		log.Printf("WebSocketHandler: Connection rejected for %q: %v", account, err)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error()),
			time.Now().Add(wsWriteTimeout))
		_ = conn.Close()
		return
	}

	log.Printf("WebSocketHandler: connection established for %q", account)
	if isFirst && h.onFirstSubscriber != nil {
		h.onFirstSubscriber(account)
	}

	// Loads outlive the upgrade request; they end when the socket closes.
	ctx, cancel := context.WithCancel(context.Background())
	s := &wsSession{
		conn:   conn,
		sub:    sub,
		loader: folderLoader,
		outbox: make(chan serverMessage, wsOutboxSize),
		limit:  h.defaultLimit,
		ctx:    ctx,
		cancel: cancel,
	}

	go s.writeLoop()
	go func() {
		s.readLoop()
		cancel()
		h.hub.Unsubscribe(sub)
		log.Printf("WebSocketHandler: connection closed for %q", account)
	}()
}

// wsSession is one open socket. writeLoop is the only writer of conn.
type wsSession struct {
	conn   *websocket.Conn
	sub    *events.Subscription
	loader *loader.FolderLoader
	outbox chan serverMessage
	limit  int

	ctx    context.Context
	cancel context.CancelFunc
}

// readLoop reads commands until the connection is closed.
func (s *wsSession) readLoop() {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.send(serverMessage{Type: wsTypeError, Error: "invalid message"})
			continue
		}

		switch msg.Type {
		case "load":
			s.load(msg)
		default:
			s.send(serverMessage{Type: wsTypeError, Error: "unknown message type " + msg.Type})
		}
	}
}

func (s *wsSession) load(msg clientMessage) {
	if s.loader == nil {
		s.send(serverMessage{Type: wsTypeError, Error: "load requires an account"})
		return
	}

	folder := strings.TrimSpace(msg.Folder)
	if folder == "" {
		folder = "INBOX"
	}
	limit := msg.Limit
	if limit <= 0 {
		limit = s.limit
	}
	page := msg.Page
	if page <= 0 {
		page = 1
	}
	token := s.loader.Load(s.ctx, folder, limit, (page-1)*limit)
	// Threads messages carry this token; older ones are never sent after it.
	s.send(serverMessage{Type: wsTypeLoading, Token: token, Folder: folder})
}

func (s *wsSession) send(msg serverMessage) {
	select {
	case s.outbox <- msg:
	case <-s.ctx.Done():
	}
}

func (s *wsSession) writeLoop() {
	defer func() { _ = s.conn.Close() }()

	var results <-chan loader.Result
	if s.loader != nil {
		results = s.loader.Results()
	}

	for {
		var msg serverMessage
		select {
		case <-s.ctx.Done():
			return
		case ev, ok := <-s.sub.C():
			if !ok {
				return
			}
			msg = serverMessage{Type: wsTypeEvent, Event: &ev}
		case res := <-results:
			var fresh bool
			if msg, fresh = threadsMessage(s.loader, res); !fresh {
				continue
			}
		case msg = <-s.outbox:
		}

		_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := s.conn.WriteJSON(msg); err != nil {
			log.Printf("WebSocketHandler: failed to write message: %v", err)
			s.cancel()
			return
		}
	}
}

// threadsMessage converts a load result for the client. It reports false for a result
// of a superseded load, which may still have been waiting in the results channel.
func threadsMessage(l *loader.FolderLoader, res loader.Result) (serverMessage, bool) {
	if l.Stale(res) {
		return serverMessage{}, false
	}
	return serverMessage{
		Type:    wsTypeThreads,
		Token:   res.Token,
		Folder:  res.Folder,
		Phase:   res.Phase,
		Threads: res.Threads,
		Moved:   res.Rules.Moved,
		Copied:  res.Rules.Copied,
	}, true
}
