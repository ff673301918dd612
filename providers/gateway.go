package providers

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sqlc-dev/pqtype"

	"github.com/everifyng/everify-backend/services/audit"
	"github.com/everifyng/everify-backend/services/monitoring/logging"
	"github.com/everifyng/everify-backend/services/registry"
)

const (
	// connectTimeout keeps dead upstreams from stalling the failover chain.
	connectTimeout = 5 * time.Second

	minCallTimeout = 5 * time.Second
	maxCallTimeout = 120 * time.Second

	maxResponseBytes = 1 << 20
)

// AuditLog is the audit-trail sink for outbound exchanges.
type AuditLog interface {
	Insert(ctx context.Context, log *audit.APILog) error
	UpdateResponse(ctx context.Context, id int64, status int, body pqtype.NullRawMessage, responseTimeMS int) error
}

// CallContext identifies the verification request an exchange belongs to in
// the audit trail.
type CallContext struct {
	UserID                int64
	VerificationRequestID int64
	ClientIP              string
}

// Gateway executes a single outbound call against one configured provider
// and classifies the result.
type Gateway struct {
	client *http.Client
	audit  AuditLog
	logger *logging.Logger
}

func NewGateway(auditLog AuditLog, logger *logging.Logger) *Gateway {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: connectTimeout,
		}).DialContext,
		TLSHandshakeTimeout: connectTimeout,
	}
	return &Gateway{
		client: &http.Client{Transport: transport},
		audit:  auditLog,
		logger: logger,
	}
}

func callTimeout(p *registry.ServiceProvider) time.Duration {
	timeout := time.Duration(p.Timeout) * time.Second
	if timeout < minCallTimeout {
		return minCallTimeout
	}
	if timeout > maxCallTimeout {
		return maxCallTimeout
	}
	return timeout
}

// Call sends one request to one provider. Request, response, status and
// latency are written to the audit log regardless of outcome; secrets are
// redacted from logged headers.
func (g *Gateway) Call(ctx context.Context, p *registry.ServiceProvider, searchParameter string, cc CallContext) Outcome {
	start := time.Now()

	authHeaders, err := BuildAuthHeaders(p)
	if err != nil {
		return errorOutcome(err.Error(), CodeException, 0, time.Since(start))
	}

	headers := make(map[string]string)
	for k, v := range p.RequestHeaders {
		if s, ok := v.(string); ok {
			headers[k] = s
		}
	}
	for k, v := range authHeaders {
		headers[k] = v
	}

	body := BuildRequestBody(p, searchParameter)
	url := p.FullURL()

	logRow := &audit.APILog{
		UserID:                sql.NullInt64{Int64: cc.UserID, Valid: cc.UserID != 0},
		VerificationRequestID: sql.NullInt64{Int64: cc.VerificationRequestID, Valid: cc.VerificationRequestID != 0},
		Direction:             audit.DirectionOutbound,
		Endpoint:              url,
		Method:                p.HTTPMethod,
		RequestHeaders:        audit.RawJSON(audit.RedactHeaders(headers)),
		RequestBody:           audit.RawJSON(body),
		IPAddress:             sql.NullString{String: cc.ClientIP, Valid: cc.ClientIP != ""},
	}
	if err := g.audit.Insert(ctx, logRow); err != nil {
		g.logger.WithError(err).Error("failed to write outbound api log")
	}

	outcome := g.send(ctx, p, url, headers, body, start)

	if logRow.ID != 0 {
		var responseBody interface{}
		if outcome.Data != nil {
			responseBody = outcome.Data["_raw"]
		} else if outcome.ErrorMessage != "" {
			responseBody = map[string]interface{}{"error": outcome.ErrorMessage}
		}
		if err := g.audit.UpdateResponse(ctx, logRow.ID, outcome.StatusCode, audit.RawJSON(responseBody), outcome.ResponseTimeMS()); err != nil {
			g.logger.WithError(err).Error("failed to update outbound api log")
		}
	}

	g.logger.WithFields(logrus.Fields{
		"provider":    p.Name,
		"environment": p.Environment,
		"url":         url,
		"status":      outcome.StatusCode,
		"latency_ms":  outcome.ResponseTimeMS(),
		"kind":        outcome.Kind,
	}).Info("provider call completed")

	return outcome
}

func (g *Gateway) send(ctx context.Context, p *registry.ServiceProvider, url string, headers map[string]string, body map[string]interface{}, start time.Time) Outcome {
	callCtx, cancel := context.WithTimeout(ctx, callTimeout(p))
	defer cancel()

	var reqBody io.Reader
	if len(body) > 0 {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return errorOutcome(fmt.Sprintf("encoding request body: %v", err), CodeException, 0, time.Since(start))
		}
		reqBody = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(callCtx, p.HTTPMethod, url, reqBody)
	if err != nil {
		return errorOutcome(fmt.Sprintf("building request: %v", err), CodeException, 0, time.Since(start))
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return errorOutcome(err.Error(), CodeException, 0, time.Since(start))
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	latency := time.Since(start)
	if err != nil {
		return errorOutcome(fmt.Sprintf("reading response body: %v", err), CodeException, resp.StatusCode, latency)
	}

	return classify(p, resp.StatusCode, bodyBytes, latency)
}

// classify decides whether a provider response is a mapped success, a valid
// "record does not exist" answer, or an upstream error.
func classify(p *registry.ServiceProvider, status int, body []byte, latency time.Duration) Outcome {
	var payload map[string]interface{}
	parseErr := json.Unmarshal(body, &payload)

	if status < 200 || status >= 300 {
		message := "Unknown error"
		if parseErr == nil {
			message = extractMessage(payload, message)
		}
		return errorOutcome("Provider returned error: "+message, CodeProviderError, status, latency)
	}

	if parseErr != nil {
		return errorOutcome("Provider returned a non-JSON response", CodeProviderError, status, latency)
	}

	// A success body can still signal "record not found". That is a valid
	// verification answer, not an infrastructure failure.
	if message, notFound := notFoundSignal(payload); notFound {
		return notFoundOutcome("Record not found: "+message, status, latency)
	}

	// Some upstreams nest the record one level down behind a response_code.
	if code, ok := payload["response_code"].(string); ok && code == "00" {
		payload = map[string]interface{}{"data": payload}
	}

	return successOutcome(mapResponse(payload, p.ResponseMapping), status, latency)
}

func notFoundSignal(payload map[string]interface{}) (string, bool) {
	statusCode := payload["statusCode"]
	if statusCode == nil {
		statusCode = payload["status_code"]
	}
	switch v := statusCode.(type) {
	case string:
		if v == "404" {
			return extractMessage(payload, "record not found"), true
		}
	case float64:
		if int(v) == 404 {
			return extractMessage(payload, "record not found"), true
		}
	}

	message := strings.ToLower(extractMessage(payload, ""))
	if strings.Contains(message, "not found") || strings.Contains(message, "no record") {
		return extractMessage(payload, ""), true
	}

	return "", false
}

func extractMessage(payload map[string]interface{}, fallback string) string {
	switch m := payload["message"].(type) {
	case string:
		if m != "" {
			return m
		}
	case map[string]interface{}, []interface{}:
		if encoded, err := json.Marshal(m); err == nil {
			return string(encoded)
		}
	}
	return fallback
}

// mapResponse extracts the provider's declared field paths into the
// normalized record. The raw payload is retained under _raw for audit.
func mapResponse(payload map[string]interface{}, mapping registry.JSONMap) map[string]interface{} {
	mapped := make(map[string]interface{}, len(mapping)+1)
	for ourKey, providerPath := range mapping {
		path, ok := providerPath.(string)
		if !ok {
			continue
		}
		mapped[ourKey] = valueAtPath(payload, path)
	}
	mapped["_raw"] = payload
	return mapped
}

// valueAtPath walks a dot-separated path through nested objects.
func valueAtPath(payload map[string]interface{}, path string) interface{} {
	current := interface{}(payload)
	for _, segment := range strings.Split(path, ".") {
		node, ok := current.(map[string]interface{})
		if !ok {
			return nil
		}
		current, ok = node[segment]
		if !ok {
			return nil
		}
	}
	return current
}
