// Package verify implements the network exchange with the remote card
// verification service.
package verify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"cardauth/internal/config"
	"cardauth/internal/entitlement"
	autherrors "cardauth/internal/errors"
)

// maxResponseBytes bounds how much of a verifier response is read
const maxResponseBytes = 1 << 20

// verifyRequest is the fixed wire shape of a verification request
type verifyRequest struct {
	Key         string `json:"key"`
	ProductID   string `json:"product_id"`
	MachineCode string `json:"machineCode"`
	ID          string `json:"id"`
}

// verifyResponse is the expected wire shape of a verifier response.
// code == 0 is the sole success discriminator.
type verifyResponse struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data *entitlementDTO `json:"data"`
}

// entitlementDTO carries the verifier's field naming; mapping it into an
// entitlement.Record is a pure renaming step.
type entitlementDTO struct {
	CardID              string   `json:"card_id"`
	ProductName         string   `json:"product_name"`
	ExpireTime          int64    `json:"expire_time"`
	ExpireTimeText      string   `json:"expire_time_text"`
	ActivateTimeText    string   `json:"activate_time_text"`
	RemainingTimes      int      `json:"remaining_times"`
	HasTimeLimit        bool     `json:"has_time_limit"`
	HasTimesLimit       bool     `json:"has_times_limit"`
	AuthorizedMachines  []string `json:"authorized_machines"`
	CurrentMachineCount int      `json:"current_machine_count"`
	MaxMachineCount     int      `json:"max_machine_count"`
}

// Client performs the verification exchange. It issues at most one request
// per Verify call; retry policy belongs to the caller.
type Client struct {
	endpoint  string
	productID string
	http      *http.Client
	logger    *slog.Logger
}

// NewClient creates a verification client from configuration. The
// configured timeout bounds the whole exchange.
func NewClient(cfg config.VerifierConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		endpoint:  cfg.URL,
		productID: cfg.ProductID,
		http:      &http.Client{Timeout: timeout},
		logger:    logger.With(slog.String("component", "verify_client")),
	}
}

// Verify exchanges an activation code, user id, and machine code for an
// entitlement record. A structured non-zero response comes back as a
// RejectionError carrying the server message; anything that prevents a
// structured response comes back as a transport failure.
func (c *Client) Verify(ctx context.Context, activationCode, userID, machineCode string) (*entitlement.Record, error) {
	payload, err := json.Marshal(verifyRequest{
		Key:         activationCode,
		ProductID:   c.productID,
		MachineCode: machineCode,
		ID:          userID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode verification request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build verification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.WarnContext(ctx, "verification request failed",
			slog.String("error", err.Error()),
			slog.Duration("elapsed", time.Since(start)))
		return nil, autherrors.NewTransportFailure(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, autherrors.NewTransportFailure(err)
	}

	// The verifier reports rejections in the body regardless of HTTP
	// status, so the body is parsed before the status is judged.
	var vr verifyResponse
	if err := json.Unmarshal(body, &vr); err != nil {
		c.logger.WarnContext(ctx, "verification response is not valid JSON",
			slog.Int("status", resp.StatusCode),
			slog.String("error", err.Error()))
		return nil, autherrors.NewTransportFailure(fmt.Errorf("malformed response body (status %d)", resp.StatusCode))
	}

	if vr.Code != 0 {
		c.logger.InfoContext(ctx, "verification rejected",
			slog.Int("code", vr.Code),
			slog.String("msg", vr.Msg),
			slog.Duration("elapsed", time.Since(start)))
		return nil, autherrors.NewRejection(vr.Code, vr.Msg)
	}

	if err := validateData(vr.Data); err != nil {
		c.logger.WarnContext(ctx, "verification response missing required fields",
			slog.String("error", err.Error()))
		return nil, autherrors.NewTransportFailure(err)
	}

	c.logger.InfoContext(ctx, "verification succeeded",
		slog.String("card_id", vr.Data.CardID),
		slog.Bool("time_limited", vr.Data.HasTimeLimit),
		slog.Duration("elapsed", time.Since(start)))

	return &entitlement.Record{
		CardCode:            activationCode,
		UserID:              userID,
		CardID:              vr.Data.CardID,
		ProductName:         vr.Data.ProductName,
		ExpireTime:          vr.Data.ExpireTime,
		ExpireTimeText:      vr.Data.ExpireTimeText,
		ActivateTimeText:    vr.Data.ActivateTimeText,
		RemainingTimes:      vr.Data.RemainingTimes,
		HasTimeLimit:        vr.Data.HasTimeLimit,
		HasTimesLimit:       vr.Data.HasTimesLimit,
		AuthorizedMachines:  vr.Data.AuthorizedMachines,
		CurrentMachineCount: vr.Data.CurrentMachineCount,
		MaxMachineCount:     vr.Data.MaxMachineCount,
	}, nil
}

// validateData checks the success payload shape instead of trusting it,
// so missing fields never propagate into a half-empty record.
func validateData(d *entitlementDTO) error {
	if d == nil {
		return fmt.Errorf("success response carried no data")
	}
	if d.CardID == "" {
		return fmt.Errorf("success response missing card_id")
	}
	if d.HasTimeLimit && d.ExpireTime <= 0 {
		return fmt.Errorf("time-limited entitlement missing expire_time")
	}
	return nil
}
