package passkey

import (
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
)

// Version reported by the liveness probe.
const Version = "1.0.0"

// Response codes of the JSON envelope.
const (
	CodeSuccess  = 0
	CodeFail     = 1000
	CodeNotFound = 1404
)

// Action selects one of the service operations.
type Action string

const (
	ActionGenerateRegistrationOptions   Action = "generateRegistrationOptions"
	ActionVerifyRegistration            Action = "verifyRegistration"
	ActionGenerateAuthenticationOptions Action = "generateAuthenticationOptions"
	ActionVerifyAuthentication          Action = "verifyAuthentication"
	ActionGenerateManagementToken       Action = "generateManagementToken"
	ActionListCredentials               Action = "listCredentials"
	ActionDeleteCredential              Action = "deleteCredential"
)

// Envelope is the uniform response body of every request.
type Envelope struct {
	Code    int         `json:"code"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Version string      `json:"version,omitempty"`
}

// Handlers exposes the service over a single JSON endpoint: POST
// dispatches on the action field, GET answers the liveness probe,
// OPTIONS handles the CORS preflight.
type Handlers struct {
	service *Service
}

// NewHandlers creates the HTTP surface for a service
func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

// Register registers the endpoint on a mux
func (h *Handlers) Register(mux *http.ServeMux) {
	mux.Handle("/api/passkey", h)
}

func (h *Handlers) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeCORS(w, r)
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if r.Method != http.MethodPost {
		writeEnvelope(w, r, Envelope{
			Code:    CodeSuccess,
			Message: "passkey service running",
			Version: Version,
		})
		return
	}

	var body struct {
		Action Action          `json:"action"`
		Data   json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeEnvelope(w, r, Envelope{Code: CodeFail, Message: "invalid request body"})
		return
	}

	writeEnvelope(w, r, h.dispatch(r, body.Action, body.Data))
}

func (h *Handlers) dispatch(r *http.Request, action Action, data json.RawMessage) Envelope {
	ctx := r.Context()
	rp := RelyingPartyFromRequest(r)

	switch action {
	case ActionGenerateRegistrationOptions:
		var req struct {
			Username string `json:"username"`
			Token    string `json:"token"`
		}
		if env, ok := decodeData(data, &req); !ok {
			return env
		}
		return h.respond(h.service.BeginRegistration(ctx, rp, req.Username, req.Token))

	case ActionVerifyRegistration:
		var req struct {
			ChallengeID string                `json:"challengeId"`
			Response    *RegistrationResponse `json:"response"`
		}
		if env, ok := decodeData(data, &req); !ok {
			return env
		}
		return h.respond(h.service.FinishRegistration(ctx, rp, req.ChallengeID, req.Response))

	case ActionGenerateAuthenticationOptions:
		var req struct {
			Username string `json:"username"`
		}
		if env, ok := decodeData(data, &req); !ok {
			return env
		}
		return h.respond(h.service.BeginAuthentication(ctx, rp, req.Username))

	case ActionVerifyAuthentication:
		var req struct {
			ChallengeID string                  `json:"challengeId"`
			Response    *AuthenticationResponse `json:"response"`
		}
		if env, ok := decodeData(data, &req); !ok {
			return env
		}
		return h.respond(h.service.FinishAuthentication(ctx, rp, req.ChallengeID, req.Response))

	case ActionGenerateManagementToken:
		var req struct {
			ChallengeID string                  `json:"challengeId"`
			Response    *AuthenticationResponse `json:"response"`
		}
		if env, ok := decodeData(data, &req); !ok {
			return env
		}
		return h.respond(h.service.GenerateManagementToken(ctx, rp, req.ChallengeID, req.Response))

	case ActionListCredentials:
		var req struct {
			Username string `json:"username"`
		}
		if env, ok := decodeData(data, &req); !ok {
			return env
		}
		return h.respond(h.service.ListCredentials(ctx, req.Username))

	case ActionDeleteCredential:
		var req struct {
			CredentialID    string `json:"credentialId"`
			Username        string `json:"username"`
			ManagementToken string `json:"managementToken"`
		}
		if env, ok := decodeData(data, &req); !ok {
			return env
		}
		return h.respond(h.service.DeleteCredential(ctx, req.CredentialID, req.Username, req.ManagementToken))

	default:
		return Envelope{Code: CodeFail, Message: "unknown action"}
	}
}

// respond folds a service result into the envelope, mapping absence
// errors to the not-found code and everything else to generic failure.
func (h *Handlers) respond(data interface{}, err error) Envelope {
	if err != nil {
		log.Printf("passkey: %v", err)
		return Envelope{Code: codeFor(err), Message: err.Error()}
	}
	return Envelope{Code: CodeSuccess, Data: data}
}

func codeFor(err error) int {
	if errors.Is(err, ErrNoPasskey) || errors.Is(err, ErrCredentialMissing) {
		return CodeNotFound
	}
	return CodeFail
}

func decodeData(data json.RawMessage, dest interface{}) (Envelope, bool) {
	if len(data) == 0 {
		return Envelope{}, true
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return Envelope{Code: CodeFail, Message: "invalid request data"}, false
	}
	return Envelope{}, true
}

// RelyingPartyFromRequest derives the relying-party identity from the
// incoming request's own host and origin headers. Any host the service
// is deployed under is thereby a valid relying party.
func RelyingPartyFromRequest(r *http.Request) RelyingParty {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}

	origin := r.Header.Get("Origin")
	if origin == "" {
		origin = scheme + "://" + r.Host
	}

	hostname := r.Host
	if host, _, err := net.SplitHostPort(r.Host); err == nil {
		hostname = host
	}

	return RelyingParty{ID: hostname, Origin: origin}
}

func writeCORS(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		origin = "*"
	}
	header := w.Header()
	header.Set("Access-Control-Allow-Origin", origin)
	header.Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	header.Set("Access-Control-Allow-Headers", "Content-Type")
	header.Set("Access-Control-Max-Age", "600")
}

func writeEnvelope(w http.ResponseWriter, r *http.Request, env Envelope) {
	writeCORS(w, r)
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	if err := json.NewEncoder(w).Encode(env); err != nil {
		log.Printf("passkey: encode response: %v", err)
	}
}
