package webhook

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const (
	stateCookie   = "noctis_oauth_state"
	sessionCookie = "noctis_session"
	discordAPI    = "https://discord.com/api"
)

var discordEndpoint = oauth2.Endpoint{
	AuthURL:   "https://discord.com/oauth2/authorize",
	TokenURL:  discordAPI + "/oauth2/token",
	AuthStyle: oauth2.AuthStyleInParams,
}

type Operator struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
}

type session struct {
	operator Operator
	expires  time.Time
}

// Auth signs dashboard operators in through Discord OAuth2.
type Auth struct {
	oauth       *oauth2.Config
	userInfoURL string
	redirectTo  string
	ttl         time.Duration
	logger      *zap.Logger
	now         func() time.Time

	mu       sync.Mutex
	sessions map[string]session
}

func NewAuth(clientID, clientSecret, redirectURL, dashboardURL string, ttl time.Duration, logger *zap.Logger) *Auth {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &Auth{
		oauth: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{"identify"},
			Endpoint:     discordEndpoint,
		},
		userInfoURL: discordAPI + "/users/@me",
		redirectTo:  dashboardURL,
		ttl:         ttl,
		logger:      logger.Named("auth"),
		now:         time.Now,
		sessions:    make(map[string]session),
	}
}

func (a *Auth) handleLogin(w http.ResponseWriter, r *http.Request) {
	state, err := randomToken()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not start login")
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/auth",
		MaxAge:   600,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, a.oauth.AuthCodeURL(state), http.StatusFound)
}

func (a *Auth) handleCallback(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(stateCookie)
	if err != nil || cookie.Value == "" || cookie.Value != r.URL.Query().Get("state") {
		writeError(w, http.StatusBadRequest, "invalid oauth state")
		return
	}
	code := r.URL.Query().Get("code")
	if code == "" {
		writeError(w, http.StatusBadRequest, "missing code")
		return
	}

	token, err := a.oauth.Exchange(r.Context(), code)
	if err != nil {
		a.logger.Warn("oauth exchange failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "oauth exchange failed")
		return
	}
	operator, err := a.fetchOperator(r, token)
	if err != nil {
		a.logger.Warn("fetch operator", zap.Error(err))
		writeError(w, http.StatusBadGateway, "could not load profile")
		return
	}

	id, err := randomToken()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not create session")
		return
	}
	a.mu.Lock()
	a.sessions[id] = session{operator: operator, expires: a.now().Add(a.ttl)}
	a.mu.Unlock()

	http.SetCookie(w, &http.Cookie{Name: stateCookie, Value: "", Path: "/auth", MaxAge: -1})
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    id,
		Path:     "/",
		MaxAge:   int(a.ttl.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	a.logger.Info("operator signed in", zap.String("user_id", operator.ID))
	if a.redirectTo != "" {
		http.Redirect(w, r, a.redirectTo, http.StatusFound)
		return
	}
	writeJSON(w, http.StatusOK, operator)
}

func (a *Auth) handleMe(w http.ResponseWriter, r *http.Request) {
	operator, ok := a.Operator(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "not signed in")
		return
	}
	writeJSON(w, http.StatusOK, operator)
}

// Operator resolves the signed-in operator from the session cookie.
func (a *Auth) Operator(r *http.Request) (Operator, bool) {
	cookie, err := r.Cookie(sessionCookie)
	if err != nil {
		return Operator{}, false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.sessions[cookie.Value]
	if !ok {
		return Operator{}, false
	}
	if a.now().After(s.expires) {
		delete(a.sessions, cookie.Value)
		return Operator{}, false
	}
	return s.operator, true
}

func (a *Auth) fetchOperator(r *http.Request, token *oauth2.Token) (Operator, error) {
	client := a.oauth.Client(r.Context(), token)
	resp, err := client.Get(a.userInfoURL)
	if err != nil {
		return Operator{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Operator{}, fmt.Errorf("profile request returned %s", resp.Status)
	}
	var operator Operator
	if err := json.NewDecoder(resp.Body).Decode(&operator); err != nil {
		return Operator{}, err
	}
	return operator, nil
}

func randomToken() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
