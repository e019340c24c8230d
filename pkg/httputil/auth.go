package httputil

import (
	stderrors "errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/schoolclinic/clinic-backend/pkg/errors"
	"github.com/schoolclinic/clinic-backend/pkg/logger"
)

// AuthConfig configures the Authenticate middleware
type AuthConfig struct {
	Secret string
	Issuer string
	// TrustGatewayHeaders accepts X-User-ID / X-User-Email / X-User-Role when
	// no bearer token is present. Only enable behind the API gateway.
	TrustGatewayHeaders bool
}

// Authenticate verifies HS256 bearer tokens issued by the auth service and
// puts the caller into the request context. /health is always let through.
func Authenticate(cfg AuthConfig, log *logger.Logger) func(http.Handler) http.Handler {
	parserOpts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if cfg.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(cfg.Issuer))
	}
	parser := jwt.NewParser(parserOpts...)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/health" {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				userID := r.Header.Get("X-User-ID")
				if cfg.TrustGatewayHeaders && userID != "" {
					ctx := WithUserContext(r.Context(), userID, r.Header.Get("X-User-Email"), r.Header.Get("X-User-Role"))
					next.ServeHTTP(w, r.WithContext(ctx))
					return
				}
				Error(w, errors.Unauthorized("missing authorization header"))
				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				Error(w, errors.Unauthorized("invalid authorization header format"))
				return
			}

			claims := jwt.MapClaims{}
			token, err := parser.ParseWithClaims(parts[1], claims, func(*jwt.Token) (interface{}, error) {
				return []byte(cfg.Secret), nil
			})
			if err != nil {
				log.Debug().Err(err).Msg("token validation failed")
				if stderrors.Is(err, jwt.ErrTokenExpired) {
					Error(w, errors.TokenExpired())
				} else {
					Error(w, errors.TokenInvalid())
				}
				return
			}

			userID, _ := claims.GetSubject()
			if !token.Valid || userID == "" {
				Error(w, errors.TokenInvalid())
				return
			}

			email, _ := claims["email"].(string)
			role, _ := claims["role"].(string)

			ctx := WithUserContext(r.Context(), userID, email, role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
