package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/agentctl/internal/agent"
	"github.com/loykin/agentctl/internal/controller"
	"github.com/loykin/agentctl/internal/metrics"
)

// Router provides embeddable HTTP handlers for the controller command
// surface. Endpoints under basePath:
//
//	POST /agents/start   query: name=...
//	POST /agents/stop    query: name=...
//	GET  /agents         list all records
//	GET  /agents/status  query: name=...
//	POST /tasks          body: {agent, action, params, priority}
//	GET  /tasks/:id
//	GET  /system
//	GET  /metrics
type Router struct {
	ctrl     *controller.Controller
	basePath string
}

// NewRouter constructs a Router with a configurable basePath ("" or "/api").
func NewRouter(ctrl *controller.Controller, basePath string) *Router {
	return &Router{ctrl: ctrl, basePath: sanitizeBase(basePath)}
}

// Handler returns an http.Handler that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.POST("/agents/start", r.handleStart)
	group.POST("/agents/stop", r.handleStop)
	group.GET("/agents", r.handleList)
	group.GET("/agents/status", r.handleStatus)
	group.POST("/tasks", r.handleSubmit)
	group.GET("/tasks/:id", r.handleTask)
	group.GET("/system", r.handleSystem)
	group.GET("/metrics", gin.WrapH(metrics.Handler()))
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
func NewServer(addr, basePath string, ctrl *controller.Controller) *http.Server {
	r := NewRouter(ctrl, basePath)
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server
}

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

func (r *Router) handleStart(c *gin.Context) {
	name := c.Query("name")
	if name == "" {
		c.JSON(http.StatusBadRequest, errorResp{Error: "name required"})
		return
	}
	if err := r.ctrl.StartAgent(name); err != nil {
		c.JSON(statusFor(err), errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, okResp{OK: true})
}

func (r *Router) handleStop(c *gin.Context) {
	name := c.Query("name")
	if name == "" {
		c.JSON(http.StatusBadRequest, errorResp{Error: "name required"})
		return
	}
	if err := r.ctrl.StopAgent(name); err != nil {
		c.JSON(statusFor(err), errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, okResp{OK: true})
}

func (r *Router) handleList(c *gin.Context) {
	c.JSON(http.StatusOK, r.ctrl.List())
}

func (r *Router) handleStatus(c *gin.Context) {
	name := c.Query("name")
	if name == "" {
		c.JSON(http.StatusBadRequest, errorResp{Error: "name required"})
		return
	}
	rec, err := r.ctrl.Status(name)
	if err != nil {
		c.JSON(statusFor(err), errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, rec)
}

type submitReq struct {
	Agent    string         `json:"agent" binding:"required"`
	Action   string         `json:"action" binding:"required"`
	Params   map[string]any `json:"params"`
	Priority int            `json:"priority"`
}

type submitResp struct {
	TaskID string `json:"task_id"`
}

func (r *Router) handleSubmit(c *gin.Context) {
	var req submitReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	id := r.ctrl.SubmitTask(req.Agent, req.Action, req.Params, req.Priority)
	c.JSON(http.StatusOK, submitResp{TaskID: id})
}

func (r *Router) handleTask(c *gin.Context) {
	t, ok := r.ctrl.Task(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, errorResp{Error: "unknown task"})
		return
	}
	c.JSON(http.StatusOK, t)
}

func (r *Router) handleSystem(c *gin.Context) {
	c.JSON(http.StatusOK, r.ctrl.SystemUsage())
}

func statusFor(err error) int {
	if errors.Is(err, agent.ErrAgentNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func sanitizeBase(bp string) string {
	bp = strings.TrimSpace(bp)
	if bp == "" || bp == "/" {
		return ""
	}
	if !strings.HasPrefix(bp, "/") {
		bp = "/" + bp
	}
	return strings.TrimSuffix(bp, "/")
}
