package model

import "errors"

// Taxonomia de erros do domínio. As operações devolvem esses sentinelas
// (embrulhados com %w) e a camada HTTP traduz para códigos de transporte.
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalid      = errors.New("invalid")
	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("unauthorized")
	ErrTransient    = errors.New("transient")
)
