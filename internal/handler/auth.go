package handler

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"go.uber.org/zap"

	"vitalsync/internal/apperror"
	"vitalsync/internal/models"
)

const (
	sessionPatientKey = "patientUID"
	// patientContextKey carries the patient a records request is about.
	patientContextKey = "subjectUID"
	authScheme        = "Bearer"
)

func sessionPatient(c *gin.Context) string {
	uid, _ := sessions.Default(c).Get(sessionPatientKey).(string)
	return uid
}

type AuthHandler struct {
	records Records
	log     *zap.Logger
}

func NewAuthHandler(records Records, log *zap.Logger) *AuthHandler {
	return &AuthHandler{records: records, log: log}
}

// PatientLogin identifies the patient by tag and keeps it in the session.
func (h *AuthHandler) PatientLogin(c *gin.Context) {
	var body models.TagPayload
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, h.log, apperror.Validation("Malformed request body."))
		return
	}
	if err := validation.ValidateStruct(&body, validation.Field(&body.UID, validation.Required)); err != nil {
		respondError(c, h.log, apperror.FromValidation(err))
		return
	}

	patient, err := h.records.GetPatient(c.Request.Context(), body.UID)
	if apperror.Is(err, apperror.KindNotFound) {
		respondError(c, h.log, apperror.Auth("Unknown patient tag."))
		return
	}
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	s := sessions.Default(c)
	s.Set(sessionPatientKey, patient.UID)
	if err := s.Save(); err != nil {
		respondError(c, h.log, apperror.Persistence(err, "Could not start the session."))
		return
	}
	h.log.Info("Patient logged in", zap.String("uid", patient.UID))
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Logged in.", "fullname": patient.FullName})
}

func (h *AuthHandler) Logout(c *gin.Context) {
	s := sessions.Default(c)
	s.Clear()
	s.Options(sessions.Options{Path: "/", MaxAge: -1})
	if err := s.Save(); err != nil {
		respondError(c, h.log, apperror.Persistence(err, "Could not end the session."))
		return
	}
	respondOK(c, "Logged out.")
}

// PatientRequired rejects requests without a logged-in patient and makes
// that patient the subject of the request.
func PatientRequired(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid := sessionPatient(c)
		if uid == "" {
			respondError(c, log, apperror.Auth("Please log in first."))
			return
		}
		c.Set(patientContextKey, uid)
		c.Next()
	}
}

// StaffRequired checks the bearer key and makes the :uid path parameter the
// subject of the request. With no key configured staff routes stay closed.
func StaffRequired(apiKey string, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if apiKey == "" {
			respondError(c, log, apperror.Forbidden("Staff access is not configured."))
			return
		}
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			respondError(c, log, apperror.Auth("Missing bearer token."))
			return
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(apiKey)) != 1 {
			respondError(c, log, apperror.Forbidden("Invalid staff key."))
			return
		}
		c.Set(patientContextKey, c.Param("uid"))
		c.Next()
	}
}

// DeviceKey guards device endpoints when a device key is configured.
func DeviceKey(key string, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if key != "" && subtle.ConstantTimeCompare([]byte(c.GetHeader("X-Device-Key")), []byte(key)) != 1 {
			respondError(c, log, apperror.Auth("Invalid device key."))
			return
		}
		c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	l := len(authScheme)
	if len(header) > l+1 && strings.EqualFold(header[:l], authScheme) && header[l] == ' ' {
		return strings.TrimSpace(header[l+1:]), true
	}
	return "", false
}
