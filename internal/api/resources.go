package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tjfontaine/revintel-gateway/internal/auth"
	"github.com/tjfontaine/revintel-gateway/internal/core/domain"
	"github.com/tjfontaine/revintel-gateway/internal/core/ports"
	"github.com/tjfontaine/revintel-gateway/internal/server"
)

const maxGenerateBody = 1 << 20

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request, user domain.AuthUser) {
	var req domain.GenerateRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxGenerateBody))
	if err := dec.Decode(&req); err != nil {
		msg := "invalid JSON body"
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			msg = "request body too large"
		} else if errors.Is(err, io.EOF) {
			msg = "request body required"
		}
		server.WriteError(w, r, domain.ErrInvalidRequest(msg).WithCause(err))
		return
	}

	server.AddLogField(r.Context(), "resource_id", req.ResourceID)
	server.AddLogField(r.Context(), "resource_type", req.ResourceType)

	token := ""
	if res, ok := auth.ResolutionFromContext(r.Context()); ok {
		token = res.AccessToken
	}
	backendAuth := ports.BackendAuth{
		Token:      token,
		CustomerID: user.CustomerID,
		RequestID:  server.GetRequestID(r.Context()),
	}

	resource, err := s.cfg.Generator.Generate(r.Context(), user, req, backendAuth)
	if err != nil {
		server.WriteError(w, r, err)
		return
	}
	server.WriteJSON(w, http.StatusOK, resource)
}

// ResourceResponse reports what the gateway knows about one resource.
type ResourceResponse struct {
	ResourceID string                    `json:"resourceId"`
	Status     string                    `json:"status"`
	State      *domain.GenerationState   `json:"state,omitempty"`
	Resource   *domain.GeneratedResource `json:"resource,omitempty"`
}

// resourceScope picks the customer whose resources a request addresses. An
// admin may name another customer with the customerId query parameter;
// everyone else sees only their own customer's resources.
func resourceScope(r *http.Request, user domain.AuthUser) (string, error) {
	customerID := r.URL.Query().Get("customerId")
	if customerID == "" {
		customerID = user.CustomerID
	}
	if !auth.VerifyCustomerAccess(user, customerID) {
		return "", domain.ErrAuthorizationDenied("access to this customer is not allowed")
	}
	return customerID, nil
}

func (s *Server) handleResource(w http.ResponseWriter, r *http.Request, user domain.AuthUser) {
	id := chi.URLParam(r, "resourceId")
	customerID, err := resourceScope(r, user)
	if err != nil {
		server.WriteError(w, r, err)
		return
	}

	resp := ResourceResponse{ResourceID: id}
	if st, ok := s.cfg.Tracker.State(customerID, id); ok {
		resp.State = &st
		resp.Status = "generating"
		if st.Error != "" {
			resp.Status = "failed"
		}
	} else if res, ok := s.cfg.Tracker.Resource(customerID, id); ok {
		resp.Resource = &res
		resp.Status = "completed"
	} else {
		server.WriteError(w, r, domain.ErrNotFound("resource not found"))
		return
	}
	server.WriteJSON(w, http.StatusOK, resp)
}
