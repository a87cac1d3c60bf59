package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/featherpost/publisher-go/pkg/puberr"
)

// AccountDeactivator is the slice of the account store the handler needs.
type AccountDeactivator interface {
	Deactivate(ctx context.Context, userID, accountID uint) error
}

// AccountHandler serves account disconnection.
type AccountHandler struct {
	accounts AccountDeactivator
	logger   *logrus.Logger
}

// NewAccountHandler creates the account handler.
func NewAccountHandler(accounts AccountDeactivator, logger *logrus.Logger) *AccountHandler {
	return &AccountHandler{accounts: accounts, logger: logger}
}

// Disconnect handles POST /api/accounts/{accountId}/disconnect. The account
// is deactivated and its tokens cleared; scheduled posts against it will
// fail at dispatch rather than silently vanish.
func (h *AccountHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	raw := chi.URLParam(r, "accountId")
	accountID, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || accountID == 0 {
		respondError(w, h.logger, puberr.New(puberr.ErrCodeValidation, "invalid account id"))
		return
	}

	if err := h.accounts.Deactivate(r.Context(), uid, uint(accountID)); err != nil {
		respondError(w, h.logger, err)
		return
	}

	h.logger.WithFields(logrus.Fields{
		"account_id": accountID,
	}).Info("account disconnected")
	respondJSON(w, h.logger, http.StatusOK, map[string]string{"status": "disconnected"})
}
