package middleware

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/clerk/clerk-sdk-go/v2/jwt"
)

type contextKey string

const OperatorIDKey contextKey = "operatorID"
const OperatorRoleKey contextKey = "operatorRole"

// OperatorAuthMiddleware validates Clerk JWT tokens and requires an
// operator-grade role claim. Session issuance itself is Clerk's problem; this
// layer only consumes the yes/no gate plus the role.
func OperatorAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			respondAuthError(w, http.StatusUnauthorized, "Authorization header required")
			return
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == authHeader {
			respondAuthError(w, http.StatusUnauthorized, "Invalid authorization format. Use 'Bearer <token>'")
			return
		}

		claims, err := jwt.Verify(r.Context(), &jwt.VerifyParams{
			Token: token,
		})
		if err != nil {
			log.Printf("Token verification failed: %v", err)
			respondAuthError(w, http.StatusUnauthorized, fmt.Sprintf("Invalid token: %v", err))
			return
		}

		role := roleFromClaims(claims.Custom)
		if role != "operator" && role != "admin" {
			respondAuthError(w, http.StatusForbidden, "Operator or admin role required")
			return
		}

		ctx := context.WithValue(r.Context(), OperatorIDKey, claims.Subject)
		ctx = context.WithValue(ctx, OperatorRoleKey, role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func roleFromClaims(custom any) string {
	m, ok := custom.(map[string]any)
	if !ok {
		return ""
	}
	role, _ := m["role"].(string)
	return role
}

// GetOperatorID extracts the authenticated operator's Clerk ID from context.
func GetOperatorID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(OperatorIDKey).(string)
	return id, ok
}

func GetOperatorRole(ctx context.Context) (string, bool) {
	role, ok := ctx.Value(OperatorRoleKey).(string)
	return role, ok
}

func respondAuthError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write([]byte(fmt.Sprintf(`{"error": "%s"}`, message)))
}
