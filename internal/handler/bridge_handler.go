// internal/handler/bridge_handler.go
package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"serial-bridge/internal/bridge"
	"serial-bridge/internal/service"
	"serial-bridge/internal/utils"
)

// BridgeHandler handles connection, send and terminal line requests
type BridgeHandler struct {
	bridgeService *service.BridgeService
	logger        *utils.ServiceLogger
}

// NewBridgeHandler creates a new bridge handler
func NewBridgeHandler(bridgeService *service.BridgeService, logger *zap.Logger) *BridgeHandler {
	return &BridgeHandler{
		bridgeService: bridgeService,
		logger:        utils.NewServiceLogger(logger, "bridge-handler"),
	}
}

// RegisterRoutes registers bridge routes
func (h *BridgeHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/ports", h.ListPorts)

	b := router.Group("/bridge")
	{
		b.GET("/status", h.GetStatus)
		b.POST("/connect", h.Connect)
		b.POST("/disconnect", h.Disconnect)
		b.POST("/send", h.Send)
		b.GET("/lines", h.GetLines)
		b.DELETE("/lines", h.ClearLines)
	}
}

// ListPorts lists serial ports
// @Summary List serial ports
// @Description List serial ports visible to the host, with USB details where available
// @Tags Ports
// @Produce json
// @Success 200 {object} utils.APIResponse{data=object{ports=[]discovery.PortInfo}} "Ports listed"
// @Failure 500 {object} utils.APIResponse "Port enumeration failed"
// @Router /ports [get]
func (h *BridgeHandler) ListPorts(c *gin.Context) {
	ports, err := h.bridgeService.ListPorts(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to list ports", zap.Error(err))
		respondError(c, "Failed to list ports", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Ports listed", gin.H{
		"count": len(ports),
		"ports": ports,
	})
}

// GetStatus returns the bridge snapshot
// @Summary Bridge status
// @Description Current connection state, session counters and relay statistics
// @Tags Bridge
// @Produce json
// @Success 200 {object} utils.APIResponse{data=bridge.Snapshot} "Status retrieved"
// @Router /bridge/status [get]
func (h *BridgeHandler) GetStatus(c *gin.Context) {
	utils.SuccessResponse(c, http.StatusOK, "Status retrieved", h.bridgeService.Status())
}

// Connect opens a serial port
// @Summary Connect
// @Description Open a serial port. A live session is closed first. The session becomes active after the quiet period.
// @Tags Bridge
// @Accept json
// @Produce json
// @Param request body service.ConnectRequest true "Connect request"
// @Success 200 {object} utils.APIResponse{data=bridge.Snapshot} "Port opened"
// @Failure 400 {object} utils.APIResponse "Invalid settings"
// @Failure 404 {object} utils.APIResponse "Profile not found"
// @Failure 502 {object} utils.APIResponse "Port could not be opened"
// @Router /bridge/connect [post]
func (h *BridgeHandler) Connect(c *gin.Context) {
	var req service.ConnectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	snapshot, err := h.bridgeService.Connect(c.Request.Context(), &req)
	if err != nil {
		respondError(c, "Failed to connect", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Port opened", snapshot)
}

// Disconnect closes the live session
// @Summary Disconnect
// @Description Close the live session. Does nothing when no session is live.
// @Tags Bridge
// @Produce json
// @Success 200 {object} utils.APIResponse{data=bridge.Snapshot} "Disconnected"
// @Failure 500 {object} utils.APIResponse "Port release failed"
// @Router /bridge/disconnect [post]
func (h *BridgeHandler) Disconnect(c *gin.Context) {
	if err := h.bridgeService.Disconnect(); err != nil {
		h.logger.Error("Failed to disconnect", zap.Error(err))
		respondError(c, "Failed to disconnect", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Disconnected", h.bridgeService.Status())
}

// Send transmits one line of input
// @Summary Send
// @Description Encode and transmit input on the active session. Ignored unless active.
// @Tags Bridge
// @Accept json
// @Produce json
// @Param request body service.SendRequest true "Send request"
// @Success 202 {object} utils.APIResponse{data=object{state=string}} "Input accepted"
// @Failure 400 {object} utils.APIResponse "Invalid hex input"
// @Router /bridge/send [post]
func (h *BridgeHandler) Send(c *gin.Context) {
	var req service.SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := h.bridgeService.Send(&req); err != nil {
		respondError(c, "Failed to send", err)
		return
	}

	utils.SuccessResponse(c, http.StatusAccepted, "Input accepted", gin.H{
		"state": h.bridgeService.Status().State,
	})
}

// GetLines returns retained terminal lines
// @Summary Terminal lines
// @Description Retained terminal lines with a sequence number greater than since
// @Tags Bridge
// @Produce json
// @Param since query int false "Last sequence number seen" default(0)
// @Success 200 {object} utils.APIResponse{data=object{lines=[]model.TerminalLine,last_seq=int}} "Lines retrieved"
// @Failure 400 {object} utils.APIResponse "Invalid since"
// @Router /bridge/lines [get]
func (h *BridgeHandler) GetLines(c *gin.Context) {
	var since uint64
	if raw := c.Query("since"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			respondError(c, "Invalid since", &bridge.ValidationError{Field: "since", Err: err})
			return
		}
		since = v
	}

	lines := h.bridgeService.Lines(since)
	lastSeq := since
	if n := len(lines); n > 0 {
		lastSeq = lines[n-1].Seq
	}

	utils.SuccessResponse(c, http.StatusOK, "Lines retrieved", gin.H{
		"lines":    lines,
		"last_seq": lastSeq,
	})
}

// ClearLines empties the terminal line buffer
// @Summary Clear terminal lines
// @Tags Bridge
// @Produce json
// @Success 200 {object} utils.APIResponse "Lines cleared"
// @Failure 503 {object} utils.APIResponse "Relay stopped"
// @Router /bridge/lines [delete]
func (h *BridgeHandler) ClearLines(c *gin.Context) {
	if err := h.bridgeService.ClearLines(c.Request.Context()); err != nil {
		respondError(c, "Failed to clear lines", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Lines cleared", nil)
}
