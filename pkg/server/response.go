package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/malfunktion/plumbing-supplies-ecommerce/pkg/auth"
	"github.com/malfunktion/plumbing-supplies-ecommerce/pkg/deployment"
	"github.com/malfunktion/plumbing-supplies-ecommerce/pkg/platforms"
	"github.com/malfunktion/plumbing-supplies-ecommerce/pkg/setupapi"
	"github.com/malfunktion/plumbing-supplies-ecommerce/pkg/wizard"
)

// Response is the envelope of every JSON reply.
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func sendJSON(w http.ResponseWriter, status int, body Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func sendSuccess(w http.ResponseWriter, data interface{}) {
	sendJSON(w, http.StatusOK, Response{Success: true, Data: data})
}

func sendError(w http.ResponseWriter, status int, message string) {
	sendJSON(w, status, Response{Message: message})
}

// sendFailure maps err onto a status code. Form and step errors carry their
// individual messages in data.
func sendFailure(w http.ResponseWriter, err error) {
	var (
		fe  *wizard.FormError
		inc *wizard.StepIncompleteError
		ae  *auth.AuthenticationError
		api *setupapi.APIError
		ve  *deployment.ValidationError
	)
	switch {
	case errors.As(err, &fe):
		sendJSON(w, http.StatusBadRequest, Response{Message: err.Error(), Data: map[string][]string{"messages": fe.Messages}})
	case errors.As(err, &inc):
		sendJSON(w, http.StatusConflict, Response{Message: err.Error(), Data: map[string][]string{"reasons": inc.Reasons}})
	case errors.As(err, &ve):
		sendJSON(w, http.StatusConflict, Response{Message: err.Error(), Data: map[string][]string{"messages": ve.Messages}})
	case auth.IsCancelled(err):
		sendError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &ae):
		status := http.StatusUnauthorized
		if ae.Reason == auth.ReasonNetwork {
			status = http.StatusBadGateway
		} else if ae.Reason == auth.ReasonTimeout {
			status = http.StatusGatewayTimeout
		}
		sendError(w, status, err.Error())
	case errors.As(err, &api):
		sendError(w, http.StatusBadGateway, err.Error())
	case errors.Is(err, platforms.ErrPlatformNotFound):
		sendError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, deployment.ErrUnknownCategory):
		sendError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, wizard.ErrSessionComplete),
		errors.Is(err, wizard.ErrFirstStep),
		errors.Is(err, wizard.ErrLastStep),
		errors.Is(err, wizard.ErrNotReached),
		errors.Is(err, wizard.ErrNotConnected),
		errors.Is(err, wizard.ErrStaleStep),
		errors.Is(err, deployment.ErrNoPlatform):
		sendError(w, http.StatusConflict, err.Error())
	default:
		sendError(w, http.StatusInternalServerError, err.Error())
	}
}
