package auth

import (
	"errors"
	"regexp"
	"time"

	"github.com/go-playground/validator/v10"
)

var (
	personNamePattern = regexp.MustCompile(`^[a-zA-Z\s]+$`)
	nricPattern       = regexp.MustCompile(`^[STFG]\d{7}[A-Z]$`)
)

// registerShape は登録フォームの形式チェック用の構造体です。パスワード強度は別途判定します。
type registerShape struct {
	FirstName       string    `validate:"required,min=2,max=100,personname"`
	LastName        string    `validate:"required,min=2,max=100,personname"`
	Gender          string    `validate:"required"`
	NRIC            string    `validate:"required,nric"`
	Email           string    `validate:"required,max=255,email"`
	Password        string    `validate:"max=100"`
	ConfirmPassword string    `validate:"required,eqfield=Password"`
	DateOfBirth     time.Time `validate:"required"`
	WhoAmI          string    `validate:"max=1000"`
}

var fieldMessages = map[string]map[string]string{
	"FirstName": {
		"required":   "First name is required",
		"min":        "First name must be between 2 and 100 characters",
		"max":        "First name must be between 2 and 100 characters",
		"personname": "Only letters and spaces allowed",
	},
	"LastName": {
		"required":   "Last name is required",
		"min":        "Last name must be between 2 and 100 characters",
		"max":        "Last name must be between 2 and 100 characters",
		"personname": "Only letters and spaces allowed",
	},
	"Gender": {
		"required": "Gender is required",
	},
	"NRIC": {
		"required": "NRIC is required",
		"nric":     "Invalid NRIC format (e.g., S1234567A)",
	},
	"Email": {
		"required": "Email is required",
		"max":      "Email must be at most 255 characters",
		"email":    "Invalid email format",
	},
	"Password": {
		"max": "Password must be at most 100 characters",
	},
	"ConfirmPassword": {
		"required": "Please confirm your password",
		"eqfield":  "Passwords do not match",
	},
	"DateOfBirth": {
		"required": "Date of birth is required",
	},
	"WhoAmI": {
		"max": "Maximum 1000 characters",
	},
}

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("personname", func(fl validator.FieldLevel) bool {
		return personNamePattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("nric", func(fl validator.FieldLevel) bool {
		return nricPattern.MatchString(fl.Field().String())
	})
	return v
}

// validateShape は形式エラーをフィールド単位でまとめて返します。問題がなければ nil です。
func (s *Service) validateShape(in registerShape, today time.Time) *ValidationError {
	fields := make(map[string]string)

	err := s.validate.Struct(in)
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			if _, seen := fields[fe.Field()]; seen {
				continue
			}
			msg, ok := fieldMessages[fe.Field()][fe.Tag()]
			if !ok {
				msg = "Invalid value"
			}
			fields[fe.Field()] = msg
		}
	}

	if _, bad := fields["DateOfBirth"]; !bad && !in.DateOfBirth.IsZero() && !in.DateOfBirth.Before(today) {
		fields["DateOfBirth"] = "Date of birth must be in the past"
	}

	if len(fields) == 0 {
		return nil
	}
	return &ValidationError{Fields: fields}
}
