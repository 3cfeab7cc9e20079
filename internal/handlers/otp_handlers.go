package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
	"github.com/qcom/smsotp/internal/service"
	"github.com/sirupsen/logrus"
)

const (
	msgInvalidBody = "Invalid request body"
	msgOTPSent     = "OTP sent successfully!"
	msgOTPVerified = "OTP verified successfully!"
	msgGreeting    = "Hello World!"
)

type OTPHandlers struct {
	otpService *service.OTPService
	validate   *validator.Validate
	logger     *logrus.Logger
}

func NewOTPHandlers(otpService *service.OTPService, logger *logrus.Logger) *OTPHandlers {
	return &OTPHandlers{
		otpService: otpService,
		validate:   newValidator(),
		logger:     logger,
	}
}

func newValidator() *validator.Validate {
	v := validator.New()
	if err := v.RegisterValidation("notblank", validators.NotBlank); err != nil {
		panic(err)
	}
	return v
}

type SendOTPRequest struct {
	PhoneNumber string `json:"phoneNumber" validate:"notblank"`
}

// VerifyOTPRequest caps OTP at bcrypt's 72 byte input limit; a longer code
// can never match.
type VerifyOTPRequest struct {
	PhoneNumber string  `json:"phoneNumber" validate:"notblank"`
	OTP         OTPCode `json:"otp" validate:"notblank,max=72"`
}

// OTPCode accepts the code as a JSON string or a bare JSON number, keeping
// the digits exactly as sent.
type OTPCode string

func (c *OTPCode) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*c = OTPCode(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*c = OTPCode(n.String())
	return nil
}

type MessageResponse struct {
	Message string `json:"message"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func (h *OTPHandlers) SendOTP(w http.ResponseWriter, r *http.Request) {
	var req SendOTPRequest
	if err := decodeRequest(r, &req); err != nil {
		h.logger.WithError(err).Debug("Failed to decode send-otp request")
		h.respondWithError(w, http.StatusBadRequest, msgInvalidBody, "")
		return
	}

	if err := h.validate.Struct(req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, service.MsgPhoneRequired, "")
		return
	}

	if err := h.otpService.RequestOTP(r.Context(), req.PhoneNumber); err != nil {
		h.respondWithServiceError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, MessageResponse{Message: msgOTPSent})
}

func (h *OTPHandlers) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req VerifyOTPRequest
	if err := decodeRequest(r, &req); err != nil {
		h.logger.WithError(err).Debug("Failed to decode verify-otp request")
		h.respondWithError(w, http.StatusBadRequest, msgInvalidBody, "")
		return
	}

	if err := h.validate.Struct(req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, verifyValidationMessage(err), "")
		return
	}

	if err := h.otpService.VerifyOTP(r.Context(), req.PhoneNumber, string(req.OTP)); err != nil {
		h.respondWithServiceError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, MessageResponse{Message: msgOTPVerified})
}

// verifyValidationMessage reports a missing field before an oversized code.
func verifyValidationMessage(err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return service.MsgPhoneAndOTPRequired
	}
	for _, fe := range fieldErrs {
		if fe.Tag() == "notblank" {
			return service.MsgPhoneAndOTPRequired
		}
	}
	return service.MsgInvalidOTP
}

func (h *OTPHandlers) Home(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(msgGreeting))
}

func (h *OTPHandlers) Health(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// decodeRequest fills dst from a JSON or urlencoded form body. An empty body
// leaves dst zeroed so that field validation reports what is missing.
func decodeRequest(r *http.Request, dst any) error {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/x-www-form-urlencoded" {
		if err := r.ParseForm(); err != nil {
			return err
		}
		switch req := dst.(type) {
		case *SendOTPRequest:
			req.PhoneNumber = r.PostForm.Get("phoneNumber")
		case *VerifyOTPRequest:
			req.PhoneNumber = r.PostForm.Get("phoneNumber")
			req.OTP = OTPCode(r.PostForm.Get("otp"))
		}
		return nil
	}

	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(dst)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (h *OTPHandlers) respondWithServiceError(w http.ResponseWriter, err error) {
	var svcErr *service.Error
	if !errors.As(err, &svcErr) {
		h.logger.WithError(err).Error("Unexpected error from OTP service")
		h.respondWithError(w, http.StatusInternalServerError, service.MsgInternal, "")
		return
	}

	details := ""
	if svcErr.Kind == service.KindDelivery && svcErr.Err != nil {
		details = svcErr.Err.Error()
	}

	h.respondWithError(w, svcErr.StatusCode(), svcErr.Message, details)
}

func (h *OTPHandlers) respondWithJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func (h *OTPHandlers) respondWithError(w http.ResponseWriter, status int, message, details string) {
	h.respondWithJSON(w, status, ErrorResponse{
		Error:   message,
		Details: details,
	})
}
