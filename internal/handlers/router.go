package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/qcom/smsotp/internal/middleware"
	"github.com/sirupsen/logrus"
)

func NewRouter(otpHandlers *OTPHandlers, allowedOrigins []string, logger *logrus.Logger) http.Handler {
	router := mux.NewRouter()

	router.Use(middleware.RequestIDMiddleware)
	router.Use(middleware.RecoverMiddleware(logger))
	router.Use(middleware.LoggingMiddleware(logger))

	router.HandleFunc("/", otpHandlers.Home).Methods(http.MethodGet)
	router.HandleFunc("/health", otpHandlers.Health).Methods(http.MethodGet)

	auth := router.PathPrefix("/auth").Subrouter()
	auth.HandleFunc("/send-otp", otpHandlers.SendOTP).Methods(http.MethodPost)
	auth.HandleFunc("/verify-otp", otpHandlers.VerifyOTP).Methods(http.MethodPost)

	return middleware.CORS(allowedOrigins)(router)
}
