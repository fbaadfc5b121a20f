// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package errkind tags errors with a retry category at the point they are
// raised, so callers never have to pattern-match error messages.
package errkind

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// Kind classifies an error for retry and reporting purposes.
type Kind int

const (
	// Transient errors may succeed on retry (network, rate limit, timeout).
	Transient Kind = iota
	// Permanent errors fail fast and are never retried.
	Permanent
	// Unrecoverable marks an item whose content cannot be repaired.
	Unrecoverable
	// Catastrophic aborts a whole run (no snapshot could be taken).
	Catastrophic
)

// String returns the lowercase name of the kind.
func (k Kind) String() string {
	switch k {
	case Transient:
		return "transient"
	case Permanent:
		return "permanent"
	case Unrecoverable:
		return "unrecoverable"
	case Catastrophic:
		return "catastrophic"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error is an error annotated with its Kind, the operation that raised it
// and, when known, the content item it concerns.
type Error struct {
	Kind Kind
	Op   string
	Item string
	Err  error
}

func (e *Error) Error() string {
	var sb strings.Builder
	if e.Op != "" {
		sb.WriteString(e.Op)
	}
	if e.Item != "" {
		if sb.Len() > 0 {
			sb.WriteString(" ")
		}
		sb.WriteString(e.Item)
	}
	if e.Err != nil {
		if sb.Len() > 0 {
			sb.WriteString(": ")
		}
		sb.WriteString(e.Err.Error())
	}
	if sb.Len() == 0 {
		return e.Kind.String() + " error"
	}
	return sb.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New returns a tagged error wrapping err. A nil err yields nil.
func New(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// NewItem is like New but records the affected item.
func NewItem(kind Kind, op, item string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Item: item, Err: err}
}

// Errorf formats a message and tags it with kind.
func Errorf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// Of returns the kind of err. The outermost tag wins. Untagged errors are
// classified by Classify.
func Of(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Classify(err)
}

// ItemOf returns the item recorded on the outermost tagged error, if any.
func ItemOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Item
	}
	return ""
}

// IsPermanent reports whether err must not be retried.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	switch Of(err) {
	case Permanent, Unrecoverable, Catastrophic:
		return true
	}
	return false
}

// IsTransient reports whether err may succeed on retry.
func IsTransient(err error) bool {
	return err != nil && Of(err) == Transient
}

// Recoverable reports whether an item error may clear up on a later run
// without anyone touching the content.
func Recoverable(err error) bool {
	return IsTransient(err)
}

// FromStatus maps an HTTP status code to a kind.
func FromStatus(code int) Kind {
	switch code {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return Transient
	}
	if code >= 500 {
		return Transient
	}
	if code >= 400 {
		return Permanent
	}
	return Transient
}

// permanentVocabulary covers untagged errors coming from third-party code.
var permanentVocabulary = []string{
	"not found",
	"unauthorized",
	"forbidden",
	"invalid token",
	"bad credentials",
	"permission denied",
	"validation failed",
	"already exists",
	"invalid argument",
}

// Classify guesses the kind of an untagged error. Context cancellation is
// permanent so that retries stop immediately; deadlines and network errors
// are transient.
func Classify(err error) Kind {
	if err == nil {
		return Transient
	}
	if errors.Is(err, context.Canceled) {
		return Permanent
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Transient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return Transient
	}
	msg := strings.ToLower(err.Error())
	for _, word := range permanentVocabulary {
		if strings.Contains(msg, word) {
			return Permanent
		}
	}
	return Transient
}
