package authstate

import (
	"context"
	"errors"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
)

// MinPasswordLength is the shortest password the sign up form accepts.
const MinPasswordLength = 6

const (
	msgPasswordMismatch = "Passwords do not match"
	msgPasswordTooShort = "Password must be at least 6 characters long"
)

// LoginRequest is the sign in form payload.
type LoginRequest struct {
	Email    string `form:"email" json:"email"`
	Password string `form:"password" json:"password"`
}

// Credential returns the credential carried by the form.
func (r LoginRequest) Credential() Credential {
	return Credential{Email: strings.TrimSpace(r.Email), Password: r.Password}
}

// Validate will run validation rules
func (r LoginRequest) Validate() error {
	err := validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.Password, validation.Required),
	)
	return toValidationError(err)
}

// SignUpRequest is the registration form payload.
type SignUpRequest struct {
	FullName        string `form:"full_name" json:"full_name"`
	Email           string `form:"email" json:"email"`
	Password        string `form:"password" json:"password"`
	ConfirmPassword string `form:"confirm_password" json:"confirm_password"`
}

// Credential returns the credential carried by the form.
func (r SignUpRequest) Credential() Credential {
	return Credential{Email: strings.TrimSpace(r.Email), Password: r.Password}
}

// Metadata is the user metadata sent along with the sign up.
func (r SignUpRequest) Metadata() map[string]any {
	name := strings.TrimSpace(r.FullName)
	if name == "" {
		return nil
	}
	return map[string]any{"full_name": name}
}

// Validate checks the confirmation first and the length second, the same
// order the form reports them in.
func (r SignUpRequest) Validate() error {
	err := validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(
			&r.Password,
			validation.Required,
			validation.Length(MinPasswordLength, 0).Error(msgPasswordTooShort),
		),
		validation.Field(
			&r.ConfirmPassword,
			validation.By(ValidateStringEquals(r.Password, msgPasswordMismatch)),
		),
	)
	return toValidationError(err, "confirm_password", "password", "email")
}

// ResetPasswordRequest is the forgotten password form payload.
type ResetPasswordRequest struct {
	Email string `form:"email" json:"email"`
}

// Validate will run validation rules
func (r ResetPasswordRequest) Validate() error {
	return toValidationError(validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
	))
}

// UpdatePasswordRequest is the new password form payload.
type UpdatePasswordRequest struct {
	Password        string `form:"password" json:"password"`
	ConfirmPassword string `form:"confirm_password" json:"confirm_password"`
}

// Validate will run validation rules
func (r UpdatePasswordRequest) Validate() error {
	err := validation.ValidateStruct(&r,
		validation.Field(
			&r.Password,
			validation.Required,
			validation.Length(MinPasswordLength, 0).Error(msgPasswordTooShort),
		),
		validation.Field(
			&r.ConfirmPassword,
			validation.By(ValidateStringEquals(r.Password, msgPasswordMismatch)),
		),
	)
	return toValidationError(err, "confirm_password", "password")
}

// ValidateStringEquals will check that both values match
func ValidateStringEquals(str, message string) validation.RuleFunc {
	if message == "" {
		message = "values must match"
	}
	return func(value any) error {
		s, _ := value.(string)
		if s != str {
			return errors.New(message)
		}
		return nil
	}
}

// SubmitLogin validates the form and signs in. Invalid input never reaches
// the backend.
func SubmitLogin(ctx context.Context, actions Actions, req LoginRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	return actions.SignIn(ctx, req.Credential())
}

// SubmitSignUp validates the form and signs up.
func SubmitSignUp(ctx context.Context, actions Actions, req SignUpRequest) (*SignUpResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return actions.SignUp(ctx, req.Credential(), req.Metadata())
}

// SubmitResetPassword validates the form and requests a reset e-mail.
func SubmitResetPassword(ctx context.Context, actions Actions, req ResetPasswordRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	return actions.ResetPassword(ctx, strings.TrimSpace(req.Email))
}

// PasswordUpdater changes the password of the signed in user.
type PasswordUpdater interface {
	UpdatePassword(ctx context.Context, newPassword string) error
}

// SubmitUpdatePassword validates the form and sets the new password.
func SubmitUpdatePassword(ctx context.Context, updater PasswordUpdater, req UpdatePasswordRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	return updater.UpdatePassword(ctx, req.Password)
}

// toValidationError turns ozzo field errors into a rich validation error.
// The message is taken from the first failing field in priority, falling
// back to the combined ozzo message.
func toValidationError(err error, priority ...string) error {
	if err == nil {
		return nil
	}

	var verrs validation.Errors
	if !errors.As(err, &verrs) {
		return NewValidationError(err.Error(), nil)
	}

	fields := make(map[string]string, len(verrs))
	for name, fieldErr := range verrs {
		if fieldErr != nil {
			fields[name] = fieldErr.Error()
		}
	}

	message := verrs.Error()
	for _, name := range priority {
		if msg, ok := fields[name]; ok {
			message = msg
			break
		}
	}

	return NewValidationError(message, fields)
}
