package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/Muggles200/contract-analize-sub003/internal/auth"
	"github.com/Muggles200/contract-analize-sub003/internal/lifecycle"
)

type deletionRequest struct {
	Password     string `json:"password"`
	Confirmation string `json:"confirmation"`
	Reason       string `json:"reason"`
	ExportData   bool   `json:"exportData"`
}

type deletionResponse struct {
	Message            string                    `json:"message"`
	GracePeriodDays    int                       `json:"gracePeriodDays"`
	DeletionDate       time.Time                 `json:"deletionDate"`
	ExportDataIncluded bool                      `json:"exportDataIncluded"`
	Export             *lifecycle.ExportSnapshot `json:"export,omitempty"`
}

type recoverRequest struct {
	Reason string `json:"reason"`
}

type statusResponse struct {
	IsScheduledForDeletion bool       `json:"isScheduledForDeletion"`
	DeletionDate           *time.Time `json:"deletionDate,omitempty"`
	DaysRemaining          int        `json:"daysRemaining"`
	Reason                 string     `json:"reason,omitempty"`
	Status                 string     `json:"status,omitempty"`
	CanRecover             bool       `json:"canRecover"`
}

func (a *API) handleAccountDeletion(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.requestDeletion(w, r)
	case http.MethodGet:
		a.deletionStatus(w, r)
	default:
		methodNotAllowed(w, r, http.MethodPost, http.MethodGet)
	}
}

func (a *API) requestDeletion(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}

	var req deletionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Password) == "" {
		writeError(w, r, http.StatusBadRequest, "password is required")
		return
	}

	res, err := a.svc.RequestDeletion(r.Context(), lifecycle.RequestDeletionInput{
		UserID:       userID,
		Password:     req.Password,
		Confirmation: req.Confirmation,
		Reason:       strings.TrimSpace(req.Reason),
		ExportData:   req.ExportData,
	})
	if err != nil {
		handleLifecycleError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, deletionResponse{
		Message:            "account deletion scheduled",
		GracePeriodDays:    res.GracePeriodDays,
		DeletionDate:       res.DeletionDate,
		ExportDataIncluded: res.ExportIncluded,
		Export:             res.Export,
	})
}

func (a *API) deletionStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}

	st, err := a.svc.Status(r.Context(), userID)
	if err != nil {
		handleLifecycleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		IsScheduledForDeletion: st.IsScheduled,
		DeletionDate:           st.DeletionDate,
		DaysRemaining:          st.DaysRemaining,
		Reason:                 st.Reason,
		Status:                 st.Status,
		CanRecover:             st.CanRecover,
	})
}

func (a *API) handleDeletionRecover(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}

	var req recoverRequest
	if err := decodeOptionalJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	rec, err := a.svc.Recover(r.Context(), userID, strings.TrimSpace(req.Reason))
	if err != nil {
		handleLifecycleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":     "account deletion cancelled",
		"cancelledAt": rec.CancelledAt,
	})
}

func (a *API) handleAccountExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}

	snap, err := a.svc.Export(r.Context(), userID)
	if err != nil {
		handleLifecycleError(w, r, err)
		return
	}
	w.Header().Set("Content-Disposition", `attachment; filename="account-export.json"`)
	writeJSON(w, http.StatusOK, snap)
}

func handleLifecycleError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, lifecycle.ErrInvalidCredentials):
		writeError(w, r, http.StatusUnauthorized, err.Error())
	case errors.Is(err, lifecycle.ErrConfirmationPhrase):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, lifecycle.ErrAccountDeactivated), errors.Is(err, lifecycle.ErrNotRecoverable):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, lifecycle.ErrNothingScheduled), errors.Is(err, lifecycle.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
