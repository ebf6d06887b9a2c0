package auth

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"social-chat/domain/chat"
	"social-chat/errors"
)

var validate = validator.New()

// ValidateSendMessage checks a send request before it reaches the broker.
func ValidateSendMessage(cmd chat.SendMessageCommand, maxContentLength int) error {
	if err := validate.Struct(cmd); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrInvalidRequest, err)
	}
	if strings.TrimSpace(cmd.Content) == "" {
		return fmt.Errorf("%w: content is blank", errors.ErrInvalidRequest)
	}
	if maxContentLength > 0 && utf8.RuneCountInString(cmd.Content) > maxContentLength {
		return errors.ErrContentTooLong
	}
	return nil
}

func ValidateCreateGroup(cmd chat.CreateGroupCommand) error {
	if err := validate.Struct(cmd); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrInvalidRequest, err)
	}
	return nil
}
