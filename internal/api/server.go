// Package api implements the terminal REST surface (§6) on top of
// github.com/gin-gonic/gin: shell registration, agent prompting, task
// board commands, and the generic one-shot /op command surface the
// Router exists to serve.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tabbroker/tabbroker/internal/agentsup"
	"github.com/tabbroker/tabbroker/internal/config"
	"github.com/tabbroker/tabbroker/internal/hub"
	"github.com/tabbroker/tabbroker/internal/logging"
	"github.com/tabbroker/tabbroker/internal/router"
	"github.com/tabbroker/tabbroker/internal/status"
	"github.com/tabbroker/tabbroker/internal/taskboard"
	"github.com/tabbroker/tabbroker/internal/transcript"
	"github.com/tabbroker/tabbroker/internal/wsproto"
)

const sessionHeaderName = "X-Tabbroker-Session"

// Server wires every core component to the REST surface.
type Server struct {
	Engine *gin.Engine

	hub         *hub.Hub
	router      *router.Router
	supervisor  *agentsup.Supervisor
	status      *status.Aggregator
	transcripts *transcript.Store
	cfg         *config.Config
	log         *logging.Logger

	boardPath string
}

// New builds a Server and registers every route.
func New(h *hub.Hub, rtr *router.Router, sup *agentsup.Supervisor, st *status.Aggregator, ts *transcript.Store, cfg *config.Config, log *logging.Logger, boardPath string) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		Engine:      engine,
		hub:         h,
		router:      rtr,
		supervisor:  sup,
		status:      st,
		transcripts: ts,
		cfg:         cfg,
		log:         log.WithFields(zap.String("component", "api")),
		boardPath:   boardPath,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.Engine.GET("/healthz", s.handleHealth)

	s.Engine.POST("/register-shell", s.handleRegisterShell)
	s.Engine.POST("/rename-shell", s.handleRenameShell)
	s.Engine.GET("/list-shells", s.handleListShells)
	s.Engine.POST("/send-dm", s.handleSendDM)
	s.Engine.POST("/send-to-agent", s.handleSendToAgent)

	s.Engine.POST("/agent-prompt", s.handleAgentPrompt)
	s.Engine.POST("/agent-kill", s.handleAgentKill)
	s.Engine.GET("/agent-transcript", s.handleAgentTranscript)
	s.Engine.GET("/agent-transcripts/list", s.handleTranscriptsList)
	s.Engine.GET("/agent-transcripts/load", s.handleTranscriptsLoad)
	s.Engine.POST("/agent-transcripts/restore", s.handleTranscriptsRestore)

	s.Engine.POST("/tasks", s.handleTasks)

	s.Engine.GET("/terminal/status", s.handleStatusGet)
	s.Engine.POST("/terminal/status", s.handleStatusPost)
	s.Engine.POST("/terminal/push", s.handleStatusPush)

	s.Engine.POST("/op", s.handleOp)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true, "status": "ok"})
}

// --- shells ---

type registerShellRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleRegisterShell(c *gin.Context) {
	var req registerShellRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Name == "" {
		validationError(c, `{"name": "string"}`)
		return
	}
	sessionID := c.GetHeader(sessionHeaderName)
	if sessionID == "" {
		validationError(c, `header `+sessionHeaderName+`: string`)
		return
	}
	peer, ok := s.hub.PeerBySession(sessionID)
	if !ok {
		c.JSON(http.StatusOK, gin.H{"success": false, "error": "no terminal connection for this session"})
		return
	}
	s.hub.SetShellName(peer.ID, req.Name)
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"name":       req.Name,
		"statusLine": s.status.GetStatusLine(),
	})
}

type renameShellRequest struct {
	OldName string `json:"oldName"`
	NewName string `json:"newName"`
}

func (s *Server) handleRenameShell(c *gin.Context) {
	var req renameShellRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.NewName == "" {
		validationError(c, `{"oldName": "string", "newName": "string"}`)
		return
	}
	if p, ok := s.hub.ShellByName(req.OldName); ok {
		s.hub.SetShellName(p.ID, req.NewName)
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "name": req.NewName})
}

func (s *Server) handleListShells(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true, "shells": s.hub.ListShells()})
}

type sendDMRequest struct {
	Target string `json:"target"`
	Text   string `json:"text"`
}

func (s *Server) handleSendDM(c *gin.Context) {
	var req sendDMRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Target == "" {
		validationError(c, `{"target": "string", "text": "string"}`)
		return
	}
	peer, ok := s.hub.ShellByName(req.Target)
	if !ok {
		c.JSON(http.StatusOK, gin.H{"success": false, "error": "Terminal " + req.Target + " not found"})
		return
	}
	frame, err := buildServerFrame("terminal", "dm", map[string]string{"text": req.Text})
	if err != nil {
		internalError(c, err)
		return
	}
	peer.Send(frame)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type sendToAgentRequest struct {
	Name string `json:"name"`
	Text string `json:"text"`
	From string `json:"from"`
}

func (s *Server) handleSendToAgent(c *gin.Context) {
	var req sendToAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Name == "" {
		validationError(c, `{"name": "string", "text": "string"}`)
		return
	}
	result := s.supervisor.InterruptAndQueue(req.Name, req.From, req.Text)
	c.JSON(http.StatusOK, gin.H{"success": true, "result": string(result)})
}

// --- agent supervisor ---

type agentPromptRequest struct {
	SessionID  string `json:"sessionId"`
	Prompt     string `json:"prompt"`
	WorkingDir string `json:"workingDir"`
}

func (s *Server) handleAgentPrompt(c *gin.Context) {
	var req agentPromptRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.SessionID == "" || req.Prompt == "" {
		validationError(c, `{"sessionId": "string", "prompt": "string", "workingDir": "string"}`)
		return
	}

	onEvent := func(ev agentsup.Event) {
		data, _ := json.Marshal(ev)
		s.log.WithSession(req.SessionID).Debug(string(data))
	}

	if err := s.supervisor.Prompt(req.SessionID, req.Prompt, req.WorkingDir, onEvent); err != nil {
		c.JSON(http.StatusOK, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type agentKillRequest struct {
	SessionID string `json:"sessionId"`
}

func (s *Server) handleAgentKill(c *gin.Context) {
	var req agentKillRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.SessionID == "" {
		validationError(c, `{"sessionId": "string"}`)
		return
	}
	if err := s.supervisor.Kill(req.SessionID); err != nil {
		c.JSON(http.StatusOK, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) handleAgentTranscript(c *gin.Context) {
	sessionID := c.Query("sessionId")
	sess, ok := s.supervisor.Get(sessionID)
	if !ok {
		c.JSON(http.StatusOK, gin.H{"success": false, "error": "session not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "transcript": sess.Transcript(), "status": sess.Status()})
}

func (s *Server) handleTranscriptsList(c *gin.Context) {
	cwd := c.Query("cwd")
	if cwd == "" {
		validationError(c, `{"cwd": "string"}`)
		return
	}
	metas, err := s.transcripts.List(cwd)
	if err != nil {
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "transcripts": metas})
}

func (s *Server) handleTranscriptsLoad(c *gin.Context) {
	cwd := c.Query("cwd")
	file := c.Query("file")
	if cwd == "" || file == "" {
		validationError(c, `{"cwd": "string", "file": "string"}`)
		return
	}
	env, err := s.transcripts.Load(cwd, file)
	if err != nil {
		internalError(c, err)
		return
	}
	if env == nil {
		c.JSON(http.StatusOK, gin.H{"success": false, "error": "transcript not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "transcript": env})
}

type transcriptsRestoreRequest struct {
	Cwd          string `json:"cwd"`
	File         string `json:"file"`
	NewSessionID string `json:"newSessionId"`
}

func (s *Server) handleTranscriptsRestore(c *gin.Context) {
	var req transcriptsRestoreRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Cwd == "" || req.File == "" || req.NewSessionID == "" {
		validationError(c, `{"cwd": "string", "file": "string", "newSessionId": "string"}`)
		return
	}
	restored, err := s.transcripts.Restore(req.NewSessionID, req.Cwd, req.File)
	if err != nil {
		internalError(c, err)
		return
	}
	if restored == nil {
		c.JSON(http.StatusOK, gin.H{"success": false, "error": "transcript not found"})
		return
	}
	sess := s.supervisor.RestoreSession(req.NewSessionID, restored)
	c.JSON(http.StatusOK, gin.H{"success": true, "sessionId": sess.SessionID, "name": sess.Name})
}

// --- task board ---

type tasksRequest struct {
	Command string `json:"command"`
	Caller  string `json:"caller"`
}

func (s *Server) handleTasks(c *gin.Context) {
	var req tasksRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Command == "" {
		validationError(c, `{"command": "string", "caller": "string"}`)
		return
	}
	result := taskboard.Run(s.boardPath, req.Command, req.Caller)
	s.status.UpdateStatus("tasks", taskboard.Load(s.boardPath).Summary())
	if result.Error != "" {
		c.JSON(http.StatusOK, gin.H{"success": false, "error": result.Error})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "result": result})
}

// --- status ---

func (s *Server) handleStatusGet(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true, "line": s.status.GetStatusLine()})
}

type statusPostRequest struct {
	Tool  string `json:"tool"`
	Value string `json:"value"`
}

func (s *Server) handleStatusPost(c *gin.Context) {
	var req statusPostRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Tool == "" {
		validationError(c, `{"tool": "string", "value": "string"}`)
		return
	}
	s.status.UpdateStatus(req.Tool, req.Value)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type statusPushRequest struct {
	Tool string `json:"tool"`
	Text string `json:"text"`
}

func (s *Server) handleStatusPush(c *gin.Context) {
	var req statusPushRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Text == "" {
		validationError(c, `{"tool": "string", "text": "string"}`)
		return
	}
	s.status.PushMessage(req.Tool, req.Text)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// --- generic routed command ---

type opRequest struct {
	Channel  string          `json:"channel"`
	Action   string          `json:"action"`
	Payload  json.RawMessage `json:"payload"`
	Window   string          `json:"window"`
	TimeoutMs int            `json:"timeoutMs"`
}

func (s *Server) handleOp(c *gin.Context) {
	var req opRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Channel == "" || req.Action == "" {
		validationError(c, `{"channel": "string", "action": "string", "payload": {}, "window": "string"}`)
		return
	}

	windowID := c.Query("window")
	if windowID == "" {
		windowID = req.Window
	}
	sessionHeader := c.GetHeader(sessionHeaderName)

	timeout := time.Duration(req.TimeoutMs) * time.Millisecond
	reply, err := s.router.Call(req.Channel, req.Action, req.Payload, timeout, windowID, sessionHeader)
	if err != nil {
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, reply)
}

func buildServerFrame(channel, action string, payload interface{}) (*wsproto.Frame, error) {
	return wsproto.NewFrame(uuid.NewString(), channel, action, payload, wsproto.SourceServer)
}

func validationError(c *gin.Context, expectedShape string) {
	c.JSON(http.StatusOK, gin.H{
		"success":  false,
		"error":    "invalid request body",
		"expected": expectedShape,
	})
}

func internalError(c *gin.Context, err error) {
	c.JSON(http.StatusOK, gin.H{"success": false, "error": err.Error()})
}
