package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mr1hm/go-tsunami-alerts/internal/alerting"
	"github.com/mr1hm/go-tsunami-alerts/internal/models"
)

func (h *Handler) registerIoTRoutes(r *gin.Engine) {
	iot := r.Group("/iot")
	iot.GET("/cloud/poll", h.pollCloud)
	iot.GET("/cloud/status", h.cloudStatus)
	iot.POST("/cloud/alert", h.setCloudAlert)
	iot.POST("/cloud/clear", h.clearCloudAlert)
	iot.GET("/cloud/clear", h.clearCloudAlert)

	iot.GET("/devices", h.listDevices)
	iot.POST("/devices", h.registerDevice)
	iot.DELETE("/devices/:ip", h.removeDevice)

	iot.POST("/alert", h.sendAlert)
	iot.POST("/alert/clear", h.clearDevices)
}

// pollCloud is hit by devices every few seconds, so it only logs at debug.
func (h *Handler) pollCloud(c *gin.Context) {
	state, ok := h.cloudState(c)
	if !ok {
		return
	}
	slog.Debug("device poll", "device", c.DefaultQuery("device", "unknown"))
	c.JSON(http.StatusOK, gin.H{
		"active":    state.Active,
		"level":     state.Level,
		"message":   state.Message,
		"timestamp": state.Timestamp,
	})
}

func (h *Handler) cloudStatus(c *gin.Context) {
	state, ok := h.cloudState(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, state)
}

type cloudAlertRequest struct {
	Level   *int   `json:"level"`
	Message string `json:"message"`
}

func (h *Handler) setCloudAlert(c *gin.Context) {
	var req cloudAlertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	level, err := levelFromRequest(req.Level)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Message == "" {
		req.Message = "Alert"
	}

	now := h.Clock.Now().UTC()
	state := alerting.CloudState{
		Active:    true,
		Level:     level.Rank(),
		LevelName: level,
		Message:   req.Message,
		Timestamp: &now,
		Source:    alerting.SourceManual,
	}
	if err := h.Alerts.Cloud().Set(c.Request.Context(), state); err != nil {
		slog.Error("error setting cloud alert", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to set cloud alert"})
		return
	}

	slog.Info("cloud alert set", "level", level, "source", alerting.SourceManual)
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Cloud alert set - devices will receive on next poll",
		"state":   state,
	})
}

func (h *Handler) clearCloudAlert(c *gin.Context) {
	now := h.Clock.Now().UTC()
	state := alerting.InactiveState()
	state.Timestamp = &now
	if err := h.Alerts.Cloud().Set(c.Request.Context(), state); err != nil {
		slog.Error("error clearing cloud alert", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to clear cloud alert"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Cloud alert cleared",
	})
}

func (h *Handler) listDevices(c *gin.Context) {
	devices, err := h.Devices.ListDevices(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch devices"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"devices": devices,
		"count":   len(devices),
	})
}

type registerDeviceRequest struct {
	IP       string `json:"ip"`
	Name     string `json:"name"`
	Location string `json:"location"`
}

// registerDevice is idempotent: registering a known IP updates its name.
func (h *Handler) registerDevice(c *gin.Context) {
	var req registerDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.IP == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "IP address required"})
		return
	}

	ctx := c.Request.Context()
	if req.Name == "" {
		devices, err := h.Devices.ListDevices(ctx)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to register device"})
			return
		}
		req.Name = fmt.Sprintf("Device_%d", len(devices)+1)
	}

	device := &models.Device{
		IP:           req.IP,
		Name:         req.Name,
		Location:     req.Location,
		RegisteredAt: h.Clock.Now().UTC(),
	}
	if err := h.Devices.AddDevice(ctx, device); err != nil {
		slog.Error("error registering device", "ip", req.IP, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to register device"})
		return
	}

	slog.Info("IoT device registered", "name", device.Name, "ip", device.IP)
	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"message": "Device registered",
		"device":  device,
	})
}

func (h *Handler) removeDevice(c *gin.Context) {
	ip := c.Param("ip")
	removed, err := h.Devices.RemoveDevice(c.Request.Context(), ip)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to remove device"})
		return
	}
	if !removed {
		c.JSON(http.StatusNotFound, gin.H{"error": "device not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": fmt.Sprintf("Device %s removed", ip),
	})
}

type sendAlertRequest struct {
	Level      *int     `json:"level"`
	Message    string   `json:"message"`
	Devices    []string `json:"devices"`
	Earthquake string   `json:"earthquake"`
}

func (h *Handler) sendAlert(c *gin.Context) {
	var req sendAlertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	level, err := levelFromRequest(req.Level)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Message == "" {
		req.Message = "Alert"
	}

	results, err := h.Alerts.Send(c.Request.Context(), level, req.Message, req.Earthquake, req.Devices)
	if err != nil {
		slog.Error("error sending IoT alert", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to send alert"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"alert": gin.H{
			"level":      level.Rank(),
			"level_name": level,
			"message":    req.Message,
			"timestamp":  h.Clock.Now().UTC(),
		},
		"device_results": results,
	})
}

type clearDevicesRequest struct {
	Devices []string `json:"devices"`
}

func (h *Handler) clearDevices(c *gin.Context) {
	var req clearDevicesRequest
	// An empty body clears every registered device.
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}

	results, err := h.Alerts.ClearDevices(c.Request.Context(), req.Devices)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to clear devices"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Clear command sent",
		"results": results,
	})
}

func (h *Handler) cloudState(c *gin.Context) (alerting.CloudState, bool) {
	state, err := h.Alerts.Cloud().Get(c.Request.Context())
	if err != nil {
		slog.Error("error reading cloud alert", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read cloud alert"})
		return alerting.CloudState{}, false
	}
	return state, true
}

var errInvalidLevel = errors.New("level must be between 0 (NONE) and 3 (WARNING)")

// levelFromRequest maps the numeric display level; absent means WATCH.
func levelFromRequest(level *int) (models.AlertLevel, error) {
	if level == nil {
		return models.AlertLevelWatch, nil
	}
	if *level < 0 || *level > 3 {
		return "", errInvalidLevel
	}
	return models.AlertLevelFromRank(*level), nil
}
