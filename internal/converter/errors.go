package converter

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidValue = errors.New("invalid value")
	ErrUnknownKey   = errors.New("unknown key")
	ErrNotSupported = errors.New("not supported")
	ErrUnknownModel = errors.New("unknown model")
)

// DecodeError reports an attribute value outside the decoder's contract.
// The field is omitted from the decoded state; other fields still decode.
type DecodeError struct {
	Cluster   string
	Attribute uint16
	Field     string
	Value     any
	Reason    string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s/0x%04X (%s): %s: %v", e.Cluster, e.Attribute, e.Field, e.Reason, e.Value)
}

func (e *DecodeError) Unwrap() error { return ErrInvalidValue }
