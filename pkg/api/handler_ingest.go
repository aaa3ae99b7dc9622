package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/commerceops/driftwatch/pkg/models"
)

// ingestResponse renders the shared accepted/buffered body.
func ingestResponse(c *echo.Context, signalID string, buffered bool) error {
	resp := &IngestResponse{
		Status:   "accepted",
		Message:  "Signal accepted for processing",
		SignalID: signalID,
	}
	if buffered {
		resp.Status = "buffered"
		resp.Message = "Event bus degraded; signal buffered for replay"
	}
	return c.JSON(http.StatusAccepted, resp)
}

// webhookHandler handles POST /api/v1/webhooks/:vendor.
// Verifies the vendor's HMAC signature when a secret is configured, then
// normalizes and publishes the payload.
func (s *Server) webhookHandler(c *echo.Context) error {
	vendor := c.Param("vendor")
	v, ok := webhookVendors[vendor]
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound,
			fmt.Sprintf("unknown webhook vendor %q", vendor))
	}

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read request body")
	}

	if secret := s.webhookSecret(vendor); secret != "" {
		signature := c.Request().Header.Get(v.header)
		if signature == "" || !v.verify(secret, body, signature) {
			return echo.NewHTTPError(http.StatusUnauthorized, "webhook signature verification failed")
		}
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "request body is not a JSON object")
	}

	sig, buffered, err := s.ingestion.Submit(c.Request().Context(), vendor, payload)
	if err != nil {
		return mapServiceError(err)
	}
	return ingestResponse(c, sig.SignalID, buffered)
}

// submitSignalHandler handles POST /api/v1/signals/submit: a canonical
// signal submitted directly by an internal producer.
func (s *Server) submitSignalHandler(c *echo.Context) error {
	var req SubmitSignalRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Source == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "source field is required")
	}

	sig := &models.Signal{
		Source:           models.SignalSource(req.Source),
		MerchantID:       req.MerchantID,
		Severity:         models.Severity(req.Severity),
		ErrorCode:        req.ErrorCode,
		ErrorMessage:     req.ErrorMessage,
		AffectedResource: req.AffectedResource,
		MigrationStage:   req.MigrationStage,
		Context:          req.Context,
		RawData:          req.RawData,
	}

	buffered, err := s.ingestion.SubmitCanonical(c.Request().Context(), sig)
	if err != nil {
		return mapServiceError(err)
	}
	return ingestResponse(c, sig.SignalID, buffered)
}
