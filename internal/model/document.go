package model

import "time"

// Document represents an ingested file and its metadata row.
// Embedding is nil when the vector could not be computed under the degrade policy.
type Document struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	FilePath    string    `json:"file_path"`
	ContentType string    `json:"content_type"`
	FileSize    int64     `json:"file_size"`
	Embedding   []float32 `json:"-"`
	UserID      string    `json:"user_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// HasEmbedding reports whether a vector was stored for the document.
func (d *Document) HasEmbedding() bool {
	return len(d.Embedding) > 0
}
