package middleware

import (
	"net/http"
	"strings"
)

// NewCORSMiddleware はカンマ区切りで指定されたオリジンを許可するCORSミドルウェアを返す。
// 単一オリジンの場合は常にそのオリジンを返し、複数の場合はリクエストのOriginが
// 一覧に含まれるときだけ反映する。"*" はすべてのオリジンを許可する。
// 認証はAuthorizationヘッダーで行うため、credentialsは許可しない。
func NewCORSMiddleware(allowedOrigins string) func(next http.Handler) http.Handler {
	origins := parseOrigins(allowedOrigins)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if origin := matchOrigin(origins, r.Header.Get("Origin")); origin != "" {
				w.Header().Set("Access-Control-Allow-Origin", origin)
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
			w.Header().Set("Access-Control-Max-Age", "86400")
			w.Header().Add("Vary", "Origin")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func parseOrigins(raw string) []string {
	var origins []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimRight(strings.TrimSpace(o), "/"); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// matchOrigin はレスポンスに設定するAllow-Originを返す。許可しない場合は空文字。
func matchOrigin(origins []string, requestOrigin string) string {
	switch {
	case len(origins) == 0:
		return ""
	case len(origins) == 1:
		return origins[0]
	}
	for _, o := range origins {
		if o == "*" || o == requestOrigin {
			return o
		}
	}
	return ""
}
