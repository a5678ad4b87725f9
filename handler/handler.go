// Package handler exposes the advisory engine over API Gateway.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"

	"farm-advisory-agent/internal/domain"
	"farm-advisory-agent/internal/usecase"
)

// AdvisoryService is the slice of the orchestrator the handler consumes.
type AdvisoryService interface {
	Converse(ctx context.Context, userID, farmID, text string) domain.ChatMessage
	Suggestions(ctx context.Context, farmID string, includeAll bool) ([]domain.Suggestion, error)
	ProviderStatus() domain.ProviderStatus
}

type converseRequest struct {
	UserID  string `json:"userId"`
	FarmID  string `json:"farmId"`
	Message string `json:"message"`
}

type converseResponse struct {
	Message domain.ChatMessage `json:"message"`
}

type suggestionsResponse struct {
	Suggestions []domain.Suggestion `json:"suggestions"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Handler routes API Gateway proxy events to the advisory engine.
type Handler struct {
	svc AdvisoryService
}

// NewHandler creates a Handler.
func NewHandler(svc AdvisoryService) (*Handler, error) {
	if svc == nil {
		return nil, errors.New("handler: advisory service must not be nil")
	}
	return &Handler{svc: svc}, nil
}

// Handle dispatches one request.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	switch {
	case req.HTTPMethod == http.MethodPost && req.Path == "/converse":
		return h.converse(ctx, req), nil
	case req.HTTPMethod == http.MethodGet && req.Path == "/suggestions":
		return h.suggestions(ctx, req), nil
	case req.HTTPMethod == http.MethodGet && req.Path == "/provider-status":
		return jsonResponse(http.StatusOK, h.svc.ProviderStatus()), nil
	}
	return jsonResponse(http.StatusNotFound, errorResponse{Error: "not found"}), nil
}

func (h *Handler) converse(ctx context.Context, req events.APIGatewayProxyRequest) events.APIGatewayProxyResponse {
	var in converseRequest
	if err := json.Unmarshal([]byte(req.Body), &in); err != nil {
		return jsonResponse(http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
	}
	if strings.TrimSpace(in.UserID) == "" || strings.TrimSpace(in.FarmID) == "" {
		return jsonResponse(http.StatusBadRequest, errorResponse{Error: "userId and farmId are required"})
	}

	// Converse never fails; degraded paths come back as normal messages.
	msg := h.svc.Converse(ctx, in.UserID, in.FarmID, in.Message)
	return jsonResponse(http.StatusOK, converseResponse{Message: msg})
}

func (h *Handler) suggestions(ctx context.Context, req events.APIGatewayProxyRequest) events.APIGatewayProxyResponse {
	farmID := req.QueryStringParameters["farmId"]
	includeAll := req.QueryStringParameters["all"] == "true"

	list, err := h.svc.Suggestions(ctx, farmID, includeAll)
	if err != nil {
		return jsonResponse(statusForError(err), errorResponse{Error: publicReason(err)})
	}
	if list == nil {
		list = []domain.Suggestion{}
	}
	return jsonResponse(http.StatusOK, suggestionsResponse{Suggestions: list})
}

func statusForError(err error) int {
	var ucErr *usecase.Error
	if !errors.As(err, &ucErr) {
		return http.StatusInternalServerError
	}
	switch ucErr.Code {
	case usecase.ErrorInvalidInput:
		return http.StatusBadRequest
	case usecase.ErrorNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// publicReason keeps wrapped internals out of responses.
func publicReason(err error) string {
	var ucErr *usecase.Error
	if errors.As(err, &ucErr) {
		return ucErr.Reason
	}
	return "internal error"
}

func jsonResponse(status int, body any) events.APIGatewayProxyResponse {
	raw, err := json.Marshal(body)
	if err != nil {
		return events.APIGatewayProxyResponse{
			StatusCode: http.StatusInternalServerError,
			Headers:    map[string]string{"content-type": "application/json"},
			Body:       `{"error":"encoding failure"}`,
		}
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    map[string]string{"content-type": "application/json"},
		Body:       string(raw),
	}
}
