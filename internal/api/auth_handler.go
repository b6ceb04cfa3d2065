package api

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"pagebuilder-backend-go/internal/core"
	"pagebuilder-backend-go/internal/identity"
	"pagebuilder-backend-go/internal/middleware"
	"pagebuilder-backend-go/internal/models"
	apierrors "pagebuilder-backend-go/internal/pkg/errors"
	"pagebuilder-backend-go/internal/pkg/response"
	"pagebuilder-backend-go/internal/session"
)

const (
	oauthStateCookie = "pb_oauth_state"
	oauthStatePath   = "/api/v1/auth/google"
	oauthStateMaxAge = 600
)

// AuthHandler handles the sign-in, sign-up, sign-out and password reset endpoints.
type AuthHandler struct {
	audit        core.AuditService
	oauth        *oauth2.Config
	clientURL    string
	loginPath    string
	secureCookie bool
	logger       *zap.Logger
}

// NewAuthHandler creates a new AuthHandler. A nil oauth config disables Google sign-in.
func NewAuthHandler(audit core.AuditService, oauth *oauth2.Config, clientURL, loginPath string, secureCookie bool, logger *zap.Logger) *AuthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthHandler{
		audit:        audit,
		oauth:        oauth,
		clientURL:    strings.TrimRight(clientURL, "/"),
		loginPath:    loginPath,
		secureCookie: secureCookie,
		logger:       logger,
	}
}

// SignIn handles POST /api/v1/auth/sign-in.
// It signs the browser session in with email and password, starting a session
// first when the request carries none. On success the session moves to a new
// id and the response carries the new cookie, the user and the post sign-in
// path. Failures are answered with the error kind of the operation.
func (h *AuthHandler) SignIn(c *gin.Context) {
	var req models.SignInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	manager, ok := middleware.EnsureSession(c)
	if !ok {
		return
	}
	ctx, slot := withRedirect(c.Request.Context())
	user, err := manager.SignIn(ctx, req.Email, req.Password)
	middleware.RecordAuthOperation(session.OpSignIn, outcome(err))
	if err != nil {
		response.Error(c, toAPIError(err))
		return
	}
	if err := h.rotate(c, manager); err != nil {
		unavailable(c)
		return
	}
	h.record(c, models.AuditActionSignIn, user.UID, nil)
	response.OK(c, AuthResponse{User: user, Redirect: slot.get()})
}

// SignUp handles POST /api/v1/auth/sign-up.
// It creates the account, provisions its profile with the default role and
// plan and signs the session in. Any role or plan in the body is ignored.
// Like SignIn, a successful sign-up reissues the session cookie.
func (h *AuthHandler) SignUp(c *gin.Context) {
	var req models.SignUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	manager, ok := middleware.EnsureSession(c)
	if !ok {
		return
	}
	ctx, slot := withRedirect(c.Request.Context())
	user, err := manager.SignUp(ctx, req.Email, req.Password, req.DisplayName)
	middleware.RecordAuthOperation(session.OpSignUp, outcome(err))
	if err != nil {
		response.Error(c, toAPIError(err))
		return
	}
	if err := h.rotate(c, manager); err != nil {
		unavailable(c)
		return
	}
	h.record(c, models.AuditActionSignUp, user.UID, nil)
	response.Created(c, AuthResponse{User: user, Redirect: slot.get()})
}

// GoogleStart handles GET /api/v1/auth/google.
// It redirects the browser to the Google consent screen. The OAuth state is
// kept in a short-lived cookie scoped to the callback path.
func (h *AuthHandler) GoogleStart(c *gin.Context) {
	if h.oauth == nil {
		response.Error(c, apierrors.ErrNotFound.WithMessage("Google sign-in is not enabled"))
		return
	}
	state := uuid.NewString()
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(oauthStateCookie, state, oauthStateMaxAge, oauthStatePath, "", h.secureCookie, true)
	c.Redirect(http.StatusFound, h.oauth.AuthCodeURL(state, oauth2.SetAuthURLParam("prompt", "select_account")))
}

// GoogleCallback handles GET /api/v1/auth/google/callback. The browser is
// sent to the post sign-in page, or to the login page with an error kind.
func (h *AuthHandler) GoogleCallback(c *gin.Context) {
	if h.oauth == nil {
		response.Error(c, apierrors.ErrNotFound.WithMessage("Google sign-in is not enabled"))
		return
	}
	state, _ := c.Cookie(oauthStateCookie)
	c.SetCookie(oauthStateCookie, "", -1, oauthStatePath, "", h.secureCookie, true)
	if state == "" || c.Query("state") != state {
		h.logger.Warn("OAuth state mismatch", zap.String("session_id", c.GetString(middleware.ContextSessionID)))
		middleware.RecordAuthOperation(session.OpGoogleSignIn, string(session.KindInvalidArgument))
		h.redirectToLogin(c, session.KindInvalidArgument)
		return
	}

	manager, ok := middleware.EnsureSession(c)
	if !ok {
		return
	}
	ctx, slot := withRedirect(c.Request.Context())
	user, err := manager.SignInWithGoogle(ctx, identity.OAuthGrant{
		Code:        c.Query("code"),
		Error:       c.Query("error"),
		RedirectURI: h.oauth.RedirectURL,
	})
	middleware.RecordAuthOperation(session.OpGoogleSignIn, outcome(err))
	if err != nil {
		h.redirectToLogin(c, session.KindOf(err))
		return
	}
	if err := h.rotate(c, manager); err != nil {
		h.redirectToLogin(c, session.KindNetwork)
		return
	}
	h.record(c, models.AuditActionGoogleSignIn, user.UID, nil)
	c.Redirect(http.StatusFound, h.clientURL+slot.get())
}

// SignOut handles POST /api/v1/auth/sign-out.
// It ends the identity session and answers with the landing path. When the
// provider fails the session stays signed in and the error is returned.
func (h *AuthHandler) SignOut(c *gin.Context) {
	manager, ok := middleware.EnsureSession(c)
	if !ok {
		return
	}
	var uid string
	if user := manager.Current().User; user != nil {
		uid = user.UID
	}
	ctx, slot := withRedirect(c.Request.Context())
	err := manager.SignOut(ctx)
	middleware.RecordAuthOperation(session.OpSignOut, outcome(err))
	if err != nil {
		response.Error(c, toAPIError(err))
		return
	}
	if uid != "" {
		h.record(c, models.AuditActionSignOut, uid, nil)
	}
	response.OK(c, SuccessResponse{Message: "Signed out", Redirect: slot.get()})
}

// PasswordReset handles POST /api/v1/auth/password-reset.
// It asks the provider to email a reset link. The session state is unchanged.
func (h *AuthHandler) PasswordReset(c *gin.Context) {
	var req models.PasswordResetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	manager, ok := middleware.EnsureSession(c)
	if !ok {
		return
	}
	err := manager.ResetPassword(c.Request.Context(), req.Email)
	middleware.RecordAuthOperation(session.OpResetPassword, outcome(err))
	if err != nil {
		response.Error(c, toAPIError(err))
		return
	}
	h.record(c, models.AuditActionPasswordReset, "", map[string]interface{}{"email": req.Email})
	response.OK(c, SuccessResponse{Message: "Password reset email sent"})
}

// rotate moves the freshly authenticated session to a new id. When that
// fails the session is signed out again.
func (h *AuthHandler) rotate(c *gin.Context, manager *session.Manager) error {
	err := middleware.RotateSession(c)
	if err == nil {
		return nil
	}
	h.logger.Error("Failed to rotate session id",
		zap.String("session_id", c.GetString(middleware.ContextSessionID)), zap.Error(err))
	if signOutErr := manager.SignOut(c.Request.Context()); signOutErr != nil {
		h.logger.Error("Failed to end session after rotation failure", zap.Error(signOutErr))
	}
	return err
}

func unavailable(c *gin.Context) {
	c.Header("Retry-After", "1")
	response.Error(c, apierrors.ErrServiceUnavailable)
}

func (h *AuthHandler) redirectToLogin(c *gin.Context, kind session.AuthErrorKind) {
	q := url.Values{"error": {string(kind)}}
	c.Redirect(http.StatusFound, h.clientURL+h.loginPath+"?"+q.Encode())
}

func (h *AuthHandler) record(c *gin.Context, action, uid string, details map[string]interface{}) {
	recordAudit(c, h.audit, action, uid, details)
}

func recordAudit(c *gin.Context, audit core.AuditService, action, uid string, details map[string]interface{}) {
	if audit == nil {
		return
	}
	audit.Record(c.Request.Context(), models.AuditLog{
		UserID:     uid,
		Action:     action,
		TargetType: "user",
		TargetID:   uid,
		IPAddress:  c.ClientIP(),
		UserAgent:  c.Request.UserAgent(),
		Details:    details,
	})
}

func bindError(c *gin.Context, err error) {
	response.Error(c, apierrors.ErrBadRequest.WithMessage("Invalid request body").WithDetails(map[string]string{"error": err.Error()}))
}
