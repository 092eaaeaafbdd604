// auth.go — JWT middleware для аутентификации и авторизации.
// Токены RS256 проверяются по ключам JWKS (AS_JWKS_URL).
// Claims: sub (subject), scope/scopes.
// Health и metrics endpoints доступны без аутентификации.
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	apierrors "github.com/bigkaa/goartstore/archive-service/internal/api/errors"
)

// Scopes, проверяемые маршрутами API.
const (
	// ScopeArchivesWrite — загрузка файлов на сжатие и распаковку
	ScopeArchivesWrite = "archives:write"
	// ScopeArtifactsRead — чтение метаданных и скачивание артефактов
	ScopeArtifactsRead = "artifacts:read"
	// ScopeMaintenance — внеочередной запуск очистки
	ScopeMaintenance = "archives:maintenance"
)

// principalKey — ключ контекста с данными аутентифицированного клиента.
type principalKey struct{}

// Principal — аутентифицированный клиент: sub и scopes из токена.
type Principal struct {
	Subject string
	Scopes  []string
}

// WithPrincipal возвращает контекст с данными клиента.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext извлекает данные клиента из контекста.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// Claims — JWT claims, используемые Archive Service.
// Поддерживает два формата scopes:
//   - Keycloak стандартный: "scope" (пробело-разделённая строка)
//   - Кастомный: "scopes" (массив строк)
type Claims struct {
	jwt.RegisteredClaims
	// ScopeString — стандартный OAuth2 claim (пробело-разделённая строка)
	ScopeString string `json:"scope"`
	// ScopeArray — кастомный claim (массив строк), альтернативный формат
	ScopeArray []string `json:"scopes"`
}

// Scopes возвращает объединённый список scope'ов из обоих форматов.
func (c *Claims) Scopes() []string {
	return append(strings.Fields(c.ScopeString), c.ScopeArray...)
}

// JWTAuth — middleware для JWT-аутентификации через JWKS.
type JWTAuth struct {
	jwks      keyfunc.Keyfunc
	jwtLeeway time.Duration
	logger    *slog.Logger
}

// JWTAuthConfig — параметры для создания JWT middleware.
type JWTAuthConfig struct {
	// URL JWKS endpoint
	JWKSURL string
	// Таймаут HTTP-клиента JWKS
	ClientTimeout time.Duration
	// Интервал обновления JWKS-ключей
	RefreshInterval time.Duration
	// Допустимое отклонение времени при проверке JWT
	JWTLeeway time.Duration
}

// NewJWTAuth создаёт JWT middleware с JWKS из указанного URL.
func NewJWTAuth(authCfg JWTAuthConfig, logger *slog.Logger) (*JWTAuth, error) {
	// NoErrorReturnFirstHTTPReq — старт без ошибки, если JWKS endpoint
	// ещё недоступен; ключи подтянутся при следующем обновлении.
	storage, err := jwkset.NewStorageFromHTTP(authCfg.JWKSURL, jwkset.HTTPClientStorageOptions{
		Client:                    &http.Client{Timeout: authCfg.ClientTimeout},
		NoErrorReturnFirstHTTPReq: true,
		RefreshInterval:           authCfg.RefreshInterval,
		RefreshErrorHandler: func(_ context.Context, err error) {
			logger.Error("Ошибка обновления JWKS",
				slog.String("error", err.Error()),
				slog.String("url", authCfg.JWKSURL),
			)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("создание JWKS storage: %w", err)
	}

	k, err := keyfunc.New(keyfunc.Options{
		Storage: storage,
	})
	if err != nil {
		return nil, fmt.Errorf("создание keyfunc: %w", err)
	}

	logger.Info("JWT-аутентификация включена", slog.String("jwks_url", authCfg.JWKSURL))
	return &JWTAuth{
		jwks:      k,
		jwtLeeway: authCfg.JWTLeeway,
		logger:    logger.With(slog.String("component", "jwt_auth")),
	}, nil
}

// NewJWTAuthWithKeyfunc создаёт JWT middleware с предоставленной keyfunc.
// Используется в тестах для подстановки mock JWKS.
func NewJWTAuthWithKeyfunc(kf keyfunc.Keyfunc, jwtLeeway time.Duration, logger *slog.Logger) *JWTAuth {
	return &JWTAuth{
		jwks:      kf,
		jwtLeeway: jwtLeeway,
		logger:    logger.With(slog.String("component", "jwt_auth")),
	}
}

// Middleware возвращает HTTP middleware для JWT-аутентификации.
// Токен берётся из заголовка Authorization: Bearer, подпись проверяется
// по JWKS (только RS256), exp обязателен. При успехе Principal
// помещается в контекст запроса.
func (j *JWTAuth) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, reason := j.authenticate(r)
			if reason != "" {
				apierrors.Unauthorized(w, reason)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

// authenticate проверяет токен запроса. Непустой reason — причина отказа.
func (j *JWTAuth) authenticate(r *http.Request) (Principal, string) {
	scheme, token, found := strings.Cut(r.Header.Get("Authorization"), " ")
	switch {
	case r.Header.Get("Authorization") == "":
		return Principal{}, "Отсутствует заголовок Authorization"
	case !found || !strings.EqualFold(scheme, "Bearer"):
		return Principal{}, "Неверный формат Authorization: ожидается Bearer <token>"
	case strings.TrimSpace(token) == "":
		return Principal{}, "Пустой Bearer token"
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(strings.TrimSpace(token), claims, j.jwks.KeyfuncCtx(r.Context()),
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(j.jwtLeeway),
	)
	if err != nil || !parsed.Valid {
		j.logger.Debug("JWT валидация не пройдена",
			slog.Any("error", err),
			slog.String("remote_addr", r.RemoteAddr),
		)
		return Principal{}, "Невалидный или просроченный токен"
	}

	subject, err := claims.GetSubject()
	if err != nil || subject == "" {
		return Principal{}, "Отсутствует sub в токене"
	}
	return Principal{Subject: subject, Scopes: claims.Scopes()}, ""
}

// RequireScope возвращает middleware, проверяющий наличие scope у клиента.
// Без scope — 403 Forbidden. Используется после JWTAuth.Middleware().
func RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFromContext(r.Context())
			if !ok {
				apierrors.Forbidden(w, "Отсутствуют scopes в токене")
				return
			}
			if !slices.Contains(p.Scopes, scope) {
				apierrors.Forbidden(w, "Недостаточно прав: требуется scope "+scope)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// SubjectFromContext возвращает sub клиента или пустую строку.
func SubjectFromContext(ctx context.Context) string {
	p, _ := PrincipalFromContext(ctx)
	return p.Subject
}

// ScopesFromContext возвращает scopes клиента или nil.
func ScopesFromContext(ctx context.Context) []string {
	p, _ := PrincipalFromContext(ctx)
	return p.Scopes
}
