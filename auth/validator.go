package auth

import (
	"duochat/domain"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ValidateDraft checks an insert payload before it goes to the store: content
// must be present and the kind must belong to the closed set.
func ValidateDraft(draft domain.MessageDraft) error {
	return validate.Struct(draft)
}

type ProfileInput struct {
	ID       string `validate:"required,uuid"`
	FullName string `validate:"required,max=120"`
	Email    string `validate:"omitempty,email"`
}

// ValidateProfile checks externally supplied participant identity before a
// session is issued for it.
func ValidateProfile(in ProfileInput) error {
	return validate.Struct(in)
}
