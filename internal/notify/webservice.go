package notify

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"sync"

	"github.com/jason-s-yu/raven/internal/config"
	apperrors "github.com/jason-s-yu/raven/internal/errors"
	"github.com/sirupsen/logrus"
)

// WebService delivers updates with one HTTP POST per batch. Failed requests
// are logged and dropped, never retried.
type WebService struct {
	client   *http.Client
	url      string
	username string
	password string
	logger   *logrus.Logger

	inflight sync.WaitGroup
}

// NewWebService builds the synchronous lobby transport.
func NewWebService(cfg config.EGS, logger *logrus.Logger) *WebService {
	return &WebService{
		client:   &http.Client{Timeout: cfg.Timeout},
		url:      cfg.URL(),
		username: cfg.Username,
		password: cfg.Password,
		logger:   logger,
	}
}

// Deliver posts the batch in the background so callers holding a table lock never wait on the lobby.
func (w *WebService) Deliver(ctx context.Context, updates []Update) {
	body, err := NewEnvelope(updates).Marshal()
	if err != nil {
		w.logger.Errorf("failed to marshal lobby updates: %v", err)
		return
	}
	w.inflight.Add(1)
	go func() {
		defer w.inflight.Done()
		if err := w.post(context.WithoutCancel(ctx), body); err != nil {
			w.logger.WithField("code", apperrors.GetCode(err)).Errorf("error notifying lobby: %v", err)
		}
	}()
}

func (w *WebService) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return apperrors.Wrap(apperrors.CodeDeliveryFailure, err, "build lobby request")
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	if w.username != "" && w.password != "" {
		req.SetBasicAuth(w.username, w.password)
	}
	w.logger.Debugf("posting %d bytes to %s", len(body), w.url)

	resp, err := w.client.Do(req)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeDeliveryFailure, err, "lobby request failed")
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode != http.StatusOK {
		return apperrors.New(apperrors.CodeDeliveryFailure,
			"lobby responded with %d: %s", resp.StatusCode, string(respBody))
	}
	w.logger.Debugf("response from lobby: %s", string(respBody))
	return nil
}

// Close waits for in-flight posts to finish.
func (w *WebService) Close() error {
	w.inflight.Wait()
	return nil
}
