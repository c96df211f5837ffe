// ABOUTME: Identity bridge client exchanging session credentials for principal tokens
// ABOUTME: Failures carry the bridge-reported error code and are terminal until retried

package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const defaultBridgeTimeout = 10 * time.Second

// BridgeError is returned when the identity bridge refuses an exchange.
// The code is the bridge-reported error, surfaced as-is to the caller.
type BridgeError struct {
	Code string
}

func (e *BridgeError) Error() string {
	return fmt.Sprintf("identity bridge refused exchange: %s", e.Code)
}

// Bridge exchanges application session credentials for a store principal
// token at the external identity bridge endpoint.
type Bridge struct {
	url      string
	client   *http.Client
	verifier TokenVerifier
	logger   *slog.Logger
}

// NewBridge creates a bridge client for the given endpoint. The verifier
// performs the custom-token sign-in: every returned token is verified
// locally before the identity is trusted. Pass zero timeout for the default.
func NewBridge(url string, verifier TokenVerifier, timeout time.Duration, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = defaultBridgeTimeout
	}
	return &Bridge{
		url:      url,
		client:   &http.Client{Timeout: timeout},
		verifier: verifier,
		logger:   logger.With("component", "bridge"),
	}
}

// Identity is the result of a successful exchange: the verified claims plus
// the raw token for callers that need to present it downstream.
type Identity struct {
	Token  string
	Claims *Claims
}

type exchangeRequest struct {
	SessionToken string `json:"session_token"`
}

type exchangeResponse struct {
	Success bool   `json:"success"`
	Token   string `json:"token"`
	Error   string `json:"error"`
}

// Exchange posts the session credentials to the bridge and signs in with the
// returned custom token. A bridge refusal comes back as *BridgeError; network
// and decode failures are wrapped transport errors.
func (b *Bridge) Exchange(ctx context.Context, sessionToken string) (*Identity, error) {
	body, err := json.Marshal(exchangeRequest{SessionToken: sessionToken})
	if err != nil {
		return nil, fmt.Errorf("encoding exchange request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building exchange request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling identity bridge: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("reading bridge response: %w", err)
	}

	var exchResp exchangeResponse
	if err := json.Unmarshal(data, &exchResp); err != nil {
		return nil, fmt.Errorf("decoding bridge response (status %d): %w", resp.StatusCode, err)
	}

	if !exchResp.Success {
		code := exchResp.Error
		if code == "" {
			code = fmt.Sprintf("http_%d", resp.StatusCode)
		}
		b.logger.Warn("bridge exchange refused", "code", code)
		return nil, &BridgeError{Code: code}
	}

	claims, err := b.verifier.Verify(exchResp.Token)
	if err != nil {
		return nil, fmt.Errorf("verifying bridge token: %w", err)
	}

	b.logger.Debug("bridge exchange succeeded", "principal_id", claims.PrincipalID)
	return &Identity{Token: exchResp.Token, Claims: claims}, nil
}
