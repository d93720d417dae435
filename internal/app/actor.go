package app

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/odyssey-erp/odyssey-clinic/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-clinic/internal/shared"
)

// ActorClaims is the token body issued by the clinic's auth service.
type ActorClaims struct {
	jwt.RegisteredClaims
	Username string `json:"username"`
	Name     string `json:"name"`
	Role     string `json:"role"`
}

// Actor converts verified claims into an engine actor.
func (c ActorClaims) Actor() (shared.Actor, error) {
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil {
		return shared.Actor{}, shared.ErrUnauthorized
	}
	actor := shared.Actor{
		ID:          id,
		Username:    c.Username,
		DisplayName: c.Name,
		Role:        shared.Role(c.Role),
	}
	if err := actor.Validate(); err != nil {
		return shared.Actor{}, err
	}
	return actor, nil
}

// ActorAuth verifies HS256 bearer tokens and stores the actor in the request context.
type ActorAuth struct {
	secret []byte
	issuer string
	logger *slog.Logger
}

// NewActorAuth constructs the bearer-token middleware.
func NewActorAuth(secret, issuer string, logger *slog.Logger) *ActorAuth {
	if logger == nil {
		logger = slog.Default()
	}
	return &ActorAuth{secret: []byte(secret), issuer: issuer, logger: logger}
}

// Middleware rejects requests without a valid actor token.
func (a *ActorAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || parts[1] == "" {
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "bearer token required")
			return
		}

		opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
		if a.issuer != "" {
			opts = append(opts, jwt.WithIssuer(a.issuer))
		}
		claims := &ActorClaims{}
		token, err := jwt.ParseWithClaims(parts[1], claims, func(*jwt.Token) (interface{}, error) {
			return a.secret, nil
		}, opts...)
		if err != nil || !token.Valid {
			a.logger.Debug("reject actor token", slog.Any("error", err))
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "invalid token")
			return
		}

		actor, err := claims.Actor()
		if err != nil {
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "token does not identify a clinic user")
			return
		}
		next.ServeHTTP(w, r.WithContext(shared.ContextWithActor(r.Context(), actor)))
	})
}

// IssueToken signs claims for an actor. Used by tooling and tests.
func (a *ActorAuth) IssueToken(actor shared.Actor, claims jwt.RegisteredClaims) (string, error) {
	claims.Subject = strconv.FormatInt(actor.ID, 10)
	if claims.Issuer == "" {
		claims.Issuer = a.issuer
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, ActorClaims{
		RegisteredClaims: claims,
		Username:         actor.Username,
		Name:             actor.DisplayName,
		Role:             string(actor.Role),
	})
	return token.SignedString(a.secret)
}

// RequireRole allows only actors with the given role through.
func RequireRole(role shared.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := shared.ActorFromContext(r.Context())
			if !ok {
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "actor missing")
				return
			}
			if actor.Role != role {
				httpx.Problem(w, http.StatusForbidden, "Forbidden", string(role)+" role required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
