// Package model contains domain models shared across layers.
// Keep it free of persistence and transport concerns.
package model

// ScoredDocument is a similarity match; Score is cosine similarity in [-1, 1].
type ScoredDocument struct {
	Document
	Score float64 `json:"score"`
}
