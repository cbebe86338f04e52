package service

import (
	"errors"
	"sort"
	"strings"
)

// Quiz authoring errors.
var (
	ErrQuizNotFound     = errors.New("quiz not found")
	ErrNotQuizOwner     = errors.New("not the owner of this quiz")
	ErrQuizPublished    = errors.New("quiz is published and can no longer be modified")
	ErrQuizNotPublished = errors.New("quiz is not published")
)

// ValidationError carries field-level messages for a rejected payload.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return "validation failed: " + strings.Join(keys, ", ")
}

// fieldErrors collects messages and turns into a *ValidationError when
// anything was added.
type fieldErrors map[string]string

func (f fieldErrors) add(field, msg string) {
	if _, exists := f[field]; !exists {
		f[field] = msg
	}
}

func (f fieldErrors) err() error {
	if len(f) == 0 {
		return nil
	}
	return &ValidationError{Fields: f}
}
