package manage

import (
	goerrors "errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	apierrors "gempool-go/internal/errors"
	"gempool-go/internal/middleware"
	"gempool-go/internal/store"
)

const sessionTTL = 7 * 24 * time.Hour

type sessionClaims struct {
	Admin bool `json:"admin"`
	jwt.RegisteredClaims
}

func (h *Handler) issueToken(user *store.User, now time.Time) (string, error) {
	claims := sessionClaims{
		Admin: user.IsAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(user.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(sessionTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(h.jwtSecret)
}

func parseSubject(sub string) (int64, error) {
	return strconv.ParseInt(sub, 10, 64)
}

type credentialsBody struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Register handles POST /api/manage/register.
func (h *Handler) Register(c *gin.Context) {
	rt := h.reg.Snapshot()
	if !rt.AllowRegistration {
		middleware.AbortWithError(c, apierrors.Forbidden("registration is closed"))
		return
	}
	if rt.DiscordOnlyRegistration || rt.DiscordOAuthOnly {
		middleware.AbortWithError(c, apierrors.Forbidden("registration requires Discord sign-in"))
		return
	}

	var body credentialsBody
	if err := c.ShouldBindJSON(&body); err != nil {
		middleware.AbortWithError(c, apierrors.BadRequest("username and password are required"))
		return
	}
	body.Username = strings.TrimSpace(body.Username)
	if len(body.Username) < 3 || len(body.Password) < 8 {
		middleware.AbortWithError(c, apierrors.BadRequest("username must be >= 3 chars, password >= 8"))
		return
	}

	if _, err := h.st.GetUserByUsername(c.Request.Context(), body.Username); err == nil {
		middleware.AbortWithError(c, apierrors.BadRequest("username already taken"))
		return
	} else if !goerrors.Is(err, store.ErrNotFound) {
		h.internalError(c, "lookup user", err)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(body.Password), bcrypt.DefaultCost)
	if err != nil {
		h.internalError(c, "hash password", err)
		return
	}

	user, err := h.st.CreateUser(c.Request.Context(), body.Username, string(hash), rt.DefaultDailyQuota)
	if err != nil {
		h.internalError(c, "create user", err)
		return
	}

	token, err := h.issueToken(user, time.Now())
	if err != nil {
		h.internalError(c, "issue token", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"token": token, "user": userView(user)})
}

// Login handles POST /api/manage/login.
func (h *Handler) Login(c *gin.Context) {
	var body credentialsBody
	if err := c.ShouldBindJSON(&body); err != nil {
		middleware.AbortWithError(c, apierrors.BadRequest("username and password are required"))
		return
	}

	user, err := h.st.GetUserByUsername(c.Request.Context(), strings.TrimSpace(body.Username))
	if goerrors.Is(err, store.ErrNotFound) {
		middleware.AbortWithError(c, apierrors.Unauthenticated("invalid username or password"))
		return
	}
	if err != nil {
		h.internalError(c, "lookup user", err)
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(body.Password)) != nil {
		middleware.AbortWithError(c, apierrors.Unauthenticated("invalid username or password"))
		return
	}
	if !user.IsActive {
		middleware.AbortWithError(c, apierrors.Forbidden("account disabled"))
		return
	}

	if err := h.st.TouchLastLogin(c.Request.Context(), user.ID); err != nil {
		log.Warnf("touch last login: %v", err)
	}

	token, err := h.issueToken(user, time.Now())
	if err != nil {
		h.internalError(c, "issue token", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "user": userView(user)})
}

// RequireSession authenticates the management surface with the JWT issued at
// login. The user is re-loaded on every request so quota and active state
// stay current.
func (h *Handler) RequireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader("Authorization"))
		if strings.HasPrefix(strings.ToLower(raw), "bearer ") {
			raw = strings.TrimSpace(raw[7:])
		}
		if raw == "" {
			// WebSocket clients cannot set headers.
			raw = c.Query("token")
		}
		if raw == "" {
			middleware.AbortWithError(c, apierrors.Unauthenticated("session token required"))
			return
		}

		var claims sessionClaims
		_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return h.jwtSecret, nil
		})
		if err != nil {
			middleware.AbortWithError(c, apierrors.Unauthenticated("invalid or expired session"))
			return
		}

		userID, err := parseSubject(claims.Subject)
		if err != nil {
			middleware.AbortWithError(c, apierrors.Unauthenticated("invalid session subject"))
			return
		}
		user, err := h.st.GetUser(c.Request.Context(), userID)
		if goerrors.Is(err, store.ErrNotFound) {
			middleware.AbortWithError(c, apierrors.Unauthenticated("account no longer exists"))
			return
		}
		if err != nil {
			h.internalError(c, "load user", err)
			return
		}
		if !user.IsActive {
			middleware.AbortWithError(c, apierrors.Forbidden("account disabled"))
			return
		}

		c.Set(middleware.CtxUser, user)
		c.Next()
	}
}

// RequireAdmin gates the admin group; must run after RequireSession.
func (h *Handler) RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := middleware.UserFrom(c)
		if user == nil || !user.IsAdmin {
			middleware.AbortWithError(c, apierrors.Forbidden("admin access required"))
			return
		}
		c.Next()
	}
}

func (h *Handler) internalError(c *gin.Context, op string, err error) {
	log.WithError(err).Error(op + " failed")
	middleware.AbortWithError(c, apierrors.New(http.StatusInternalServerError, "internal_error", "server_error", "Internal server error"))
}

func userView(u *store.User) gin.H {
	return gin.H{
		"id":          u.ID,
		"username":    u.Username,
		"is_admin":    u.IsAdmin,
		"is_active":   u.IsActive,
		"base_quota":  u.BaseQuota,
		"bonus_quota": u.BonusQuota,
		"created_at":  u.CreatedAt,
	}
}
