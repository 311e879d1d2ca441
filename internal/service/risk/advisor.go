package risk

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/davidleathers/claims-fraud-engine/internal/domain/claim"
	"github.com/davidleathers/claims-fraud-engine/internal/domain/errors"
	"github.com/davidleathers/claims-fraud-engine/internal/metrics"
)

// ExternalRiskAdvisor supplies an opaque numeric risk hint for a claim.
// Its answer is blended into the rule score, never trusted on its own.
type ExternalRiskAdvisor interface {
	Advise(ctx context.Context, req AdvisorRequest) (*Advice, error)
}

// AdvisorRequest is the claim summary sent to an advisor.
type AdvisorRequest struct {
	ClaimID        uuid.UUID       `json:"claim_id"`
	ProviderID     uuid.UUID       `json:"provider_id"`
	PatientID      uuid.UUID       `json:"patient_id"`
	ServiceDate    time.Time       `json:"service_date"`
	BilledAmount   string          `json:"billed_amount"`
	ProcedureCodes []string        `json:"procedure_codes"`
	RuleScore      float64         `json:"rule_score"`
	Breakdown      claim.Breakdown `json:"breakdown"`
}

// Advice is an advisor's answer. Score is 0-100, Confidence 0-1.
type Advice struct {
	Score      float64 `json:"score"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source,omitempty"`
}

// Advisor call outcomes reported to metrics
const (
	advisorOK          = "ok"
	advisorError       = "error"
	advisorTimeout     = "timeout"
	advisorCircuitOpen = "circuit_open"
	advisorInvalid     = "invalid"
)

// AdvisorGateway bounds every advisor call with a timeout and a circuit
// breaker, and rejects out-of-range answers.
type AdvisorGateway struct {
	advisor ExternalRiskAdvisor
	timeout time.Duration
	breaker *CircuitBreaker
	logger  *zap.Logger
	metrics *metrics.Registry
}

// NewAdvisorGateway wraps advisor. A zero timeout defaults to 500ms.
func NewAdvisorGateway(advisor ExternalRiskAdvisor, timeout time.Duration, breaker CircuitBreakerConfig, logger *zap.Logger, m *metrics.Registry) (*AdvisorGateway, error) {
	if advisor == nil {
		return nil, errors.NewValidationError("INVALID_ADVISOR", "advisor cannot be nil")
	}
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &AdvisorGateway{
		advisor: advisor,
		timeout: timeout,
		breaker: NewCircuitBreaker(breaker),
		logger:  logger,
		metrics: m,
	}
	g.breaker.OnStateChange(func(from, to CircuitState) {
		logger.Warn("advisor circuit state changed",
			zap.String("from", string(from)),
			zap.String("to", string(to)))
	})
	return g, nil
}

// Advise returns validated advice or an EXTERNAL error. It never blocks
// longer than the gateway timeout.
func (g *AdvisorGateway) Advise(ctx context.Context, req AdvisorRequest) (*Advice, error) {
	var advice *Advice
	err := g.breaker.Execute(ctx, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()

		type answer struct {
			advice *Advice
			err    error
		}
		done := make(chan answer, 1)
		go func() {
			a, err := g.advisor.Advise(callCtx, req)
			done <- answer{a, err}
		}()

		select {
		case <-callCtx.Done():
			return callCtx.Err()
		case ans := <-done:
			if ans.err != nil {
				return ans.err
			}
			if err := validateAdvice(ans.advice); err != nil {
				return err
			}
			advice = ans.advice
			return nil
		}
	})

	outcome := advisorOK
	switch {
	case err == nil:
	case stderrors.Is(err, ErrCircuitOpen):
		outcome = advisorCircuitOpen
	case stderrors.Is(err, context.DeadlineExceeded):
		outcome = advisorTimeout
	case errors.IsType(err, errors.ErrorTypeValidation):
		outcome = advisorInvalid
	default:
		outcome = advisorError
	}
	g.metrics.RecordAdvisorOutcome(ctx, outcome)

	if err != nil {
		return nil, errors.NewExternalError("risk_advisor", outcome).WithCause(err)
	}
	return advice, nil
}

// Breaker exposes the breaker for health reporting.
func (g *AdvisorGateway) Breaker() *CircuitBreaker {
	return g.breaker
}

func validateAdvice(a *Advice) error {
	if a == nil {
		return errors.NewValidationError("INVALID_ADVICE", "advisor returned no advice")
	}
	if a.Score < 0 || a.Score > 100 {
		return errors.NewValidationError("INVALID_ADVICE", fmt.Sprintf("advisor score %.2f outside [0,100]", a.Score))
	}
	if a.Confidence < 0 || a.Confidence > 1 {
		return errors.NewValidationError("INVALID_ADVICE", fmt.Sprintf("advisor confidence %.2f outside [0,1]", a.Confidence))
	}
	return nil
}

// HTTPAdvisor posts the request as JSON to a scoring endpoint.
type HTTPAdvisor struct {
	client   *http.Client
	endpoint string
	apiKey   string
}

// NewHTTPAdvisor creates an HTTP advisor client.
func NewHTTPAdvisor(endpoint, apiKey string, timeout time.Duration) *HTTPAdvisor {
	return &HTTPAdvisor{
		client:   &http.Client{Timeout: timeout},
		endpoint: endpoint,
		apiKey:   apiKey,
	}
}

func (a *HTTPAdvisor) Advise(ctx context.Context, req AdvisorRequest) (*Advice, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal advisor request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create advisor request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", "claims-fraud-engine/1.0")
	if a.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("advisor returned %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}

	var advice Advice
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&advice); err != nil {
		return nil, fmt.Errorf("decode advisor response: %w", err)
	}
	if advice.Source == "" {
		advice.Source = "http"
	}
	return &advice, nil
}
