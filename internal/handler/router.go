package handler

import (
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"vitalsync/internal/models"
)

// genericModalities are served by the shared start/activation/submit/result
// routes; blood pressure has its own.
var genericModalities = []string{"card-scan", "body-temp", "spo2", "ekg"}

type RouterConfig struct {
	SessionSecret string
	StaffAPIKey   string
	DeviceAPIKey  string
}

// Store is everything the HTTP layer needs from the database.
type Store interface {
	Records
	Pinger
}

func Setup(cfg RouterConfig, measurements *MeasurementHandler, store Store, log *zap.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestLogger(log))

	cookieStore := cookie.NewStore([]byte(cfg.SessionSecret))
	cookieStore.Options(sessions.Options{
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   86400,
	})
	router.Use(sessions.Sessions("vitalsync", cookieStore))

	authHandler := NewAuthHandler(store, log)
	patientHandler := NewPatientHandler(store, log)
	device := DeviceKey(cfg.DeviceAPIKey, log)

	router.GET("/healthz", measurements.Health)

	auth := router.Group("/auth")
	auth.POST("/patient-login", authHandler.PatientLogin)
	auth.POST("/logout", authHandler.Logout)

	api := router.Group("/api")
	for _, segment := range genericModalities {
		m, err := models.ParseModalityPath(segment)
		if err != nil {
			panic(err)
		}
		g := api.Group("/" + segment)
		g.POST("/start", measurements.Start(m))
		g.GET("/activation", device, measurements.Activation(m))
		g.POST("/submit", device, measurements.Submit(m))
		g.GET("/result", measurements.Result(m))
	}

	bpGroup := api.Group("/bp")
	bpGroup.POST("/start", measurements.BPStart)
	bpGroup.GET("/status", device, measurements.Activation(models.BloodPressure))
	bpGroup.POST("/live-frame", device, measurements.LiveFrame)
	bpGroup.GET("/latest", measurements.BPLatest)

	api.GET("/history", PatientRequired(log), patientHandler.History)
	own := api.Group("/patient", PatientRequired(log))
	own.GET("", patientHandler.Patient)
	own.GET("/bp-history", patientHandler.BPHistory)
	own.GET("/ekg-history", patientHandler.EKGHistory)

	staff := api.Group("/patients/:uid", StaffRequired(cfg.StaffAPIKey, log))
	staff.GET("", patientHandler.Patient)
	staff.GET("/history", patientHandler.History)
	staff.GET("/bp-history", patientHandler.BPHistory)
	staff.GET("/ekg-history", patientHandler.EKGHistory)

	return router
}
