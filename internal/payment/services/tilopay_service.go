package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"rifa-service/internal/config"
	"rifa-service/internal/logger"
)

// TiloPayService exchanges the long-lived API credentials for a
// short-lived SDK session token. The hosted payment fields in the browser
// need that token; the credentials themselves never leave the server.
type TiloPayService struct {
	client *http.Client
	cfg    config.PaymentConfig
	logger *logger.Logger
}

func NewTiloPayService(client *http.Client, cfg config.PaymentConfig, log *logger.Logger) *TiloPayService {
	return &TiloPayService{
		client: client,
		cfg:    cfg,
		logger: log,
	}
}

type loginSdkRequest struct {
	APIUser  string `json:"apiuser"`
	Password string `json:"password"`
	Key      string `json:"key"`
}

// SDKToken calls the TiloPay loginSdk endpoint and returns its JSON
// response body verbatim, so the SDK in the browser sees exactly what the
// provider sent.
func (s *TiloPayService) SDKToken() (json.RawMessage, error) {
	payload, err := json.Marshal(loginSdkRequest{
		APIUser:  s.cfg.TiloPayAPIUser,
		Password: s.cfg.TiloPayPassword,
		Key:      s.cfg.TiloPayAPIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build loginSdk request: %w", err)
	}

	url := s.cfg.TiloPayURL + "/loginSdk"
	req, err := http.NewRequest("POST", url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create loginSdk request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Error("PAYMENT", fmt.Sprintf("TiloPay loginSdk error: %v", err))
		return nil, fmt.Errorf("tilopay request failed: %w", err)
	}
	defer func(body io.ReadCloser) {
		if err := body.Close(); err != nil {
			s.logger.Error("PAYMENT", fmt.Sprintf("Failed to close loginSdk response body: %v", err))
		}
	}(resp.Body)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read loginSdk response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		s.logger.Error("PAYMENT", fmt.Sprintf("TiloPay loginSdk returned %d: %s", resp.StatusCode, string(body)))
		return nil, fmt.Errorf("tilopay returned status %d", resp.StatusCode)
	}

	return json.RawMessage(body), nil
}
