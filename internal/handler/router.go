package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/zhouzirui/viva/backend/internal/handler/session"
	"github.com/zhouzirui/viva/backend/internal/handler/speech"
	"github.com/zhouzirui/viva/backend/internal/handler/viva"
	middlewarePkg "github.com/zhouzirui/viva/backend/internal/middleware"
	speechService "github.com/zhouzirui/viva/backend/internal/service/speech"
	vivaService "github.com/zhouzirui/viva/backend/internal/service/viva"
)

// RouterOptions 路由层的可选依赖
type RouterOptions struct {
	CORSOrigins []string
	// SpeechLanguage 直连语音接口的默认识别语言
	SpeechLanguage string
}

// NewRouter wires HTTP routes to core services.
func NewRouter(vivaHandler *viva.Handler, store *vivaService.Store, speechSvc *speechService.Service, opts RouterOptions) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(opts.CORSOrigins))

	// "/", "/health", "/ws", "/upload_questions/"
	vivaHandler.RegisterRoutes(r)

	r.Route("/api", func(api chi.Router) {
		api.Use(func(next http.Handler) http.Handler {
			return otelhttp.NewHandler(next, "viva-api")
		})

		vivaHandler.RegisterAPIRoutes(api)
		session.New(store).RegisterRoutes(api)

		if speechSvc != nil {
			speech.New(speechSvc, opts.SpeechLanguage).RegisterRoutes(api)
		}
	})

	return r
}
