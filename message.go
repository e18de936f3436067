package stackflow

import (
	"reflect"
)

// Message is implemented by request payloads that validate themselves.
type Message interface {
	Validate() error
}

// IsNilMessage reports whether msg is nil or a nil pointer.
func IsNilMessage(msg any) bool {
	if msg == nil {
		return true
	}

	v := reflect.ValueOf(msg)
	if v.Kind() != reflect.Ptr {
		return false
	}

	return v.IsNil()
}

// ValidateMessage runs the struct tag validation and, when msg implements
// Message, its own Validate. Failures carry ErrInvalidRequest.
func ValidateMessage(msg any) error {
	if IsNilMessage(msg) {
		return NewError(ErrInvalidRequest, "nil message", nil, nil)
	}

	if reflect.Indirect(reflect.ValueOf(msg)).Kind() == reflect.Struct {
		if err := ValidateStruct(msg, ErrInvalidRequest); err != nil {
			return err
		}
	}

	if m, ok := msg.(Message); ok {
		if err := m.Validate(); err != nil {
			if ErrorCode(err) != "" {
				return err
			}
			return NewError(ErrInvalidRequest, err.Error(), err, nil)
		}
	}

	return nil
}
