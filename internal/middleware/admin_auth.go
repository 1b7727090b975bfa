// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/techfeed/internal/model"
)

// AdminRole は管理者トークンに要求するroleクレームの値。
const AdminRole = "admin"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// adminSubjectContextKey はリクエストコンテキストに管理者のsubjectを格納するためのキー。
var adminSubjectContextKey = contextKey("admin_subject")

// AdminClaims は管理者トークンのペイロード。
type AdminClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// NewAdminAuthMiddleware はAuthorization: Bearer のHS256トークンを検証し、
// role=admin のリクエストのみを通すミドルウェアを返す。
// secretが空の場合は管理者操作を無効とし、全リクエストに403を返す。
func NewAdminAuthMiddleware(secret string, logger *slog.Logger) func(next http.Handler) http.Handler {
	key := []byte(secret)
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(key) == 0 {
				WriteErrorResponse(w, http.StatusForbidden, model.NewForbiddenError())
				return
			}

			tokenString, ok := bearerToken(r)
			if !ok {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			claims := &AdminClaims{}
			token, err := parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
				return key, nil
			})
			if err != nil || !token.Valid {
				logger.Warn("管理者トークンの検証に失敗しました",
					slog.String("path", r.URL.Path),
					slog.String("error", fmt.Sprint(err)),
				)
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}
			if claims.Role != AdminRole {
				WriteErrorResponse(w, http.StatusForbidden, model.NewForbiddenError())
				return
			}

			ctx := ContextWithAdminSubject(r.Context(), claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken はAuthorizationヘッダーからBearerトークンを取り出す。
func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// IssueAdminToken はsubjectに対する管理者トークンを発行する。
// 運用時のトークン作成とテストで使用する。
func IssueAdminToken(secret, subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := AdminClaims{
		Role: AdminRole,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// AdminSubjectFromContext はリクエストコンテキストから管理者のsubjectを取得する。
// 管理者ミドルウェアを通過したリクエストでのみ値を持つ。
func AdminSubjectFromContext(ctx context.Context) (string, bool) {
	subject, ok := ctx.Value(adminSubjectContextKey).(string)
	return subject, ok && subject != ""
}

// ContextWithAdminSubject はコンテキストに管理者のsubjectを注入する。
// ロギングミドルウェアの内側であれば、そのアクセスログにもsubjectが記録される。
func ContextWithAdminSubject(ctx context.Context, subject string) context.Context {
	if h, ok := ctx.Value(adminHolderContextKey).(*adminHolder); ok {
		h.subject = subject
	}
	return context.WithValue(ctx, adminSubjectContextKey, subject)
}

// adminHolder はロギングミドルウェアと管理者ミドルウェアの間でsubjectを受け渡す。
type adminHolder struct {
	subject string
}

var adminHolderContextKey = contextKey("admin_holder")

func contextWithAdminHolder(ctx context.Context, h *adminHolder) context.Context {
	return context.WithValue(ctx, adminHolderContextKey, h)
}
