package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// The daemon is single-operator: one fixed account, with the real
// access control expected at the reverse proxy. The JWT secret comes
// from the security config (CHANIO_JWT_SECRET in production).
const (
	operatorUser = "admin"
	operatorPass = "admin"

	// defaultTokenTTLMinutes applies when access_token_ttl is unset.
	defaultTokenTTLMinutes = 15

	// ticketTTL bounds how long an issued WebSocket ticket stays
	// redeemable.
	ticketTTL = 60 * time.Second

	// ticketBytes of randomness per ticket.
	ticketBytes = 32
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// handleLogin checks the operator credentials and mints an HS256 JWT.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if req.Username != operatorUser || req.Password != operatorPass {
		writeUnauthorized(w, "invalid credentials")
		return
	}

	ttl := s.secCfg.JWT.AccessTokenTTL
	if ttl == 0 {
		ttl = defaultTokenTTLMinutes
	}

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  req.Username,
		"iat":  now.Unix(),
		"exp":  now.Add(time.Duration(ttl) * time.Minute).Unix(),
		"role": "admin",
	})
	signed, err := token.SignedString([]byte(s.secCfg.JWT.Secret))
	if err != nil {
		writeInternalError(w, "failed to generate token")
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		AccessToken: signed,
		TokenType:   "Bearer",
		ExpiresIn:   ttl * 60,
	})
}

// ticketStore issues and redeems single-use WebSocket tickets. The
// browser cannot send an Authorization header on the upgrade request,
// so an authenticated client trades its JWT for a short-lived ticket
// and passes that in the URL instead.
type ticketStore struct {
	mu      sync.Mutex
	pending map[string]ticketEntry
}

type ticketEntry struct {
	subject   string
	expiresAt time.Time
}

func newTicketStore() *ticketStore {
	return &ticketStore{pending: make(map[string]ticketEntry)}
}

// issue creates a ticket bound to the authenticated subject.
func (ts *ticketStore) issue(subject string) string {
	b := make([]byte, ticketBytes)
	//nolint:errcheck // crypto/rand.Read cannot fail on supported platforms
	rand.Read(b)
	ticket := hex.EncodeToString(b)

	ts.mu.Lock()
	ts.pending[ticket] = ticketEntry{
		subject:   subject,
		expiresAt: time.Now().Add(ticketTTL),
	}
	ts.mu.Unlock()
	return ticket
}

// redeem consumes a ticket and returns its subject. A ticket works
// exactly once; expired or unknown tickets fail.
func (ts *ticketStore) redeem(ticket string) (string, bool) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	entry, ok := ts.pending[ticket]
	if !ok {
		return "", false
	}
	delete(ts.pending, ticket)
	if time.Now().After(entry.expiresAt) {
		return "", false
	}
	return entry.subject, true
}

// sweep drops expired tickets that were never redeemed.
func (ts *ticketStore) sweep() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	now := time.Now()
	for ticket, entry := range ts.pending {
		if now.After(entry.expiresAt) {
			delete(ts.pending, ticket)
		}
	}
}

// handleWSTicket trades the caller's JWT for a WebSocket ticket.
func (s *Server) handleWSTicket(w http.ResponseWriter, r *http.Request) {
	subject, _ := r.Context().Value(ctxKeySubject).(string)
	ticket := s.tickets.issue(subject)

	writeJSON(w, http.StatusOK, map[string]any{
		"ticket":     ticket,
		"expires_in": int(ticketTTL.Seconds()),
	})
}

// validateTicket redeems a ticket for the WebSocket upgrade path.
func (s *Server) validateTicket(ticket string) (string, bool) {
	return s.tickets.redeem(ticket)
}

// cleanTicketsLoop sweeps abandoned tickets until the server context
// is cancelled.
func (s *Server) cleanTicketsLoop(ctx context.Context) {
	ticker := time.NewTicker(ticketTTL)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tickets.sweep()
		}
	}
}
