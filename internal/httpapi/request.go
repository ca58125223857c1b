// Package httpapi exposes the account operations over HTTP.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"regexp"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
)

const maxBodyBytes = 1 << 20 // 1 MiB

var personNamePattern = regexp.MustCompile(`^[a-zA-Z\s]+$`)

// validate is shared by all handlers; validator.Validate is safe for
// concurrent use after the custom rules are registered.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	// personname: letters and spaces only, mirrors the client-side rule.
	_ = v.RegisterValidation("personname", func(fl validator.FieldLevel) bool {
		return personNamePattern.MatchString(fl.Field().String())
	})

	// strongpassword: at least one upper, lower, digit, and special rune.
	_ = v.RegisterValidation("strongpassword", func(fl validator.FieldLevel) bool {
		var upper, lower, digit, special bool
		for _, r := range fl.Field().String() {
			switch {
			case unicode.IsUpper(r):
				upper = true
			case unicode.IsLower(r):
				lower = true
			case unicode.IsDigit(r):
				digit = true
			default:
				special = true
			}
		}
		return upper && lower && digit && special
	})

	// JSON tag names in validation errors, not Go field names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return v
}

type registerRequest struct {
	FirstName       string `json:"firstName" validate:"required,min=2,max=50,personname"`
	LastName        string `json:"lastName" validate:"required,min=2,max=50,personname"`
	Email           string `json:"email" validate:"required,email,max=255"`
	Password        string `json:"password" validate:"required,min=8,max=72,strongpassword"`
	ConfirmPassword string `json:"confirmPassword" validate:"required,eqfield=Password"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

type forgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type resetPasswordRequest struct {
	Token           string `json:"token" validate:"required"`
	Password        string `json:"password" validate:"required,min=8,max=72,strongpassword"`
	ConfirmPassword string `json:"confirmPassword" validate:"required,eqfield=Password"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"required,min=8,max=72,strongpassword"`
	ConfirmPassword string `json:"confirmPassword" validate:"required,eqfield=NewPassword"`
}

type updateProfileRequest struct {
	FirstName *string `json:"firstName" validate:"omitempty,min=2,max=50,personname"`
	LastName  *string `json:"lastName" validate:"omitempty,min=2,max=50,personname"`
}

type updateThemeRequest struct {
	Theme string `json:"theme" validate:"required,oneof=light dark glass"`
}

// decodeAndValidate parses the JSON body into dst and applies its
// validation tags. On failure it returns per-field messages keyed by JSON
// field name; a nil map means the request is usable.
func decodeAndValidate(r *http.Request, dst any) (map[string]string, error) {
	body := http.MaxBytesReader(nil, r.Body, maxBodyBytes)
	defer body.Close()

	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("request body is required")
		}
		return nil, errors.New("request body is not valid JSON")
	}

	err := validate.Struct(dst)
	if err == nil {
		return nil, nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil, errors.New("request body is not valid")
	}

	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = fieldMessage(fe)
	}
	return fields, nil
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "email":
		return "must be a valid email address"
	case "min":
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "personname":
		return "may only contain letters and spaces"
	case "strongpassword":
		return "must contain an uppercase letter, a lowercase letter, a number, and a special character"
	case "eqfield":
		return "passwords do not match"
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	default:
		return "is invalid"
	}
}
