package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/hitoshi/bilitrack/internal/model"
)

// TokenVerifier はアクセストークンを検証する。
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (bool, error)
}

// accessTokenHeader はAuthorizationヘッダーの代替として受け付けるヘッダー名。
const accessTokenHeader = "X-Access-Token"

// NewAuthMiddleware はアクセストークンを検証するミドルウェアを返す。
// Authorization: Bearer <token> またはX-Access-Tokenヘッダーを受け付ける。
// 検証に失敗した場合は401を返し、後続のハンドラーには到達しない。
func NewAuthMiddleware(verifier TokenVerifier) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractToken(r)

			ok, err := verifier.Verify(r.Context(), token)
			if err != nil {
				WriteInternalServerError(w)
				return
			}
			if !ok {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// extractToken はリクエストからアクセストークンを取り出す。
func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if token, found := strings.CutPrefix(auth, "Bearer "); found {
			return token
		}
	}
	return r.Header.Get(accessTokenHeader)
}
