package handler

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"docingest/internal/auth"
	"docingest/internal/http/middleware"
	"docingest/internal/service"
)

// uploadResponse is returned once a document is stored and recorded.
type uploadResponse struct {
	Message      string `json:"message"`
	FilePath     string `json:"filePath"`
	ID           string `json:"id"`
	HasEmbedding bool   `json:"hasEmbedding"`
}

// RegisterRoutes attaches HTTP routes to the provided Fiber app.
// The upload routes verify the credential inside the pipeline; read routes
// go through middleware.Authenticate.
func RegisterRoutes(app *fiber.App, db *sql.DB, verifier auth.Verifier, log *zap.Logger, ingest service.IngestionService, docSvc service.DocumentService) {
	app.Use(middleware.CORS())
	app.Use(middleware.OptionsFallback())

	app.Get("/health", HealthCheck(db))
	app.Get("/healthz", LivenessProbe())

	upload := UploadDocument(ingest)
	app.Post("/documents", upload)
	app.Post("/process-document", upload)

	authn := middleware.Authenticate(verifier, log)
	app.Get("/documents", authn, ListDocuments(docSvc))
	// Registered before /documents/:id so "search" is not taken as an id.
	app.Get("/documents/search", authn, SearchDocuments(docSvc))
	app.Get("/documents/:id", authn, GetDocument(docSvc))
	app.Get("/documents/:id/similar", authn, SimilarDocuments(docSvc))
	app.Get("/documents/:id/content", authn, DownloadDocument(docSvc))
}

// HealthCheck godoc
// @Summary Readiness probe
// @Description Pings the database.
// @Tags ops
// @Produce json
// @Success 200 {object} map[string]string
// @Failure 503 {object} errorPayload
// @Router /health [get]
func HealthCheck(db *sql.DB) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			return writeError(c, fiber.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "dependency unavailable")
		}
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "healthy"})
	}
}

// LivenessProbe is the backward-compatible simple liveness probe.
func LivenessProbe() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	}
}

// UploadDocument godoc
// @Summary Ingest a document
// @Description Stores the file, embeds its head and records the metadata row.
// @Tags documents
// @Accept multipart/form-data
// @Produce json
// @Security BearerAuth
// @Param file formData file true "document"
// @Success 201 {object} uploadResponse
// @Failure 400 {object} errorPayload
// @Failure 401 {object} errorPayload
// @Failure 409 {object} errorPayload
// @Failure 500 {object} errorPayload
// @Failure 502 {object} errorPayload
// @Failure 503 {object} errorPayload
// @Router /documents [post]
func UploadDocument(ingest service.IngestionService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		req := service.IngestRequest{
			Credential: auth.BearerToken(c.Get(fiber.HeaderAuthorization)),
			Size:       -1,
		}

		// A missing or ambiguous file leaves Body nil; the pipeline rejects
		// it only after the credential has been checked.
		if form, err := c.MultipartForm(); err == nil {
			files := form.File["file"]
			total := 0
			for _, fhs := range form.File {
				total += len(fhs)
			}
			if len(files) == 1 && total == 1 {
				fh := files[0]
				f, err := fh.Open()
				if err != nil {
					return writeError(c, fiber.StatusBadRequest, "FILE_OPEN_ERROR", "cannot open uploaded file")
				}
				defer f.Close()

				ct := fh.Header.Get("Content-Type")
				if ct == "" {
					ct = "application/octet-stream"
				}
				req.Filename = fh.Filename
				req.ContentType = ct
				req.Size = fh.Size
				req.Body = f
			}
		}

		res, err := ingest.Ingest(c.UserContext(), req)
		if err != nil {
			return writeIngestError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(uploadResponse{
			Message:      "Document processed successfully",
			FilePath:     res.FilePath,
			ID:           res.DocumentID,
			HasEmbedding: res.Embedded,
		})
	}
}

// ListDocuments godoc
// @Summary List the caller's documents
// @Tags documents
// @Produce json
// @Security BearerAuth
// @Param limit query int false "page size" default(10)
// @Param offset query int false "offset" default(0)
// @Param q query string false "title filter"
// @Success 200 {object} service.DocumentListResult
// @Failure 400 {object} errorPayload
// @Router /documents [get]
func ListDocuments(docSvc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		limit, err := strconv.Atoi(c.Query("limit", "10"))
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_LIMIT", "invalid limit")
		}
		offset, err := strconv.Atoi(c.Query("offset", "0"))
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_OFFSET", "invalid offset")
		}

		res, err := docSvc.List(c.UserContext(), callerID(c), service.ListParams{
			Limit:  limit,
			Offset: offset,
			Title:  c.Query("q"),
		})
		if err != nil {
			return writeDocumentError(c, err)
		}
		return c.JSON(res)
	}
}

// GetDocument godoc
// @Summary Fetch one document with a download link
// @Tags documents
// @Produce json
// @Security BearerAuth
// @Param id path string true "document id"
// @Success 200 {object} service.DocumentView
// @Failure 404 {object} errorPayload
// @Router /documents/{id} [get]
func GetDocument(docSvc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		doc, err := docSvc.Get(c.UserContext(), callerID(c), c.Params("id"))
		if err != nil {
			return writeDocumentError(c, err)
		}
		return c.JSON(doc)
	}
}

// DownloadDocument godoc
// @Summary Stream the stored file
// @Tags documents
// @Produce octet-stream
// @Security BearerAuth
// @Param id path string true "document id"
// @Success 200 {file} file
// @Failure 404 {object} errorPayload
// @Router /documents/{id}/content [get]
func DownloadDocument(docSvc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		content, err := docSvc.Open(c.UserContext(), callerID(c), c.Params("id"))
		if err != nil {
			return writeDocumentError(c, err)
		}

		// Attachment guesses a type from the extension; the recorded one wins.
		c.Attachment(content.Document.Title)
		ct := content.Document.ContentType
		if ct == "" {
			ct = fiber.MIMEOctetStream
		}
		c.Set(fiber.HeaderContentType, ct)
		// fasthttp closes the stream once the response is written.
		return c.SendStream(content.Body, int(content.Size))
	}
}

// SimilarDocuments godoc
// @Summary Documents closest to the given one
// @Tags documents
// @Produce json
// @Security BearerAuth
// @Param id path string true "document id"
// @Param limit query int false "max results" default(5)
// @Success 200 {array} service.ScoredView
// @Failure 404 {object} errorPayload
// @Failure 409 {object} errorPayload
// @Router /documents/{id}/similar [get]
func SimilarDocuments(docSvc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		limit, err := strconv.Atoi(c.Query("limit", "0"))
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_LIMIT", "invalid limit")
		}
		res, err := docSvc.Similar(c.UserContext(), callerID(c), c.Params("id"), limit)
		if err != nil {
			return writeDocumentError(c, err)
		}
		return c.JSON(fiber.Map{"data": res})
	}
}

// SearchDocuments godoc
// @Summary Semantic search over the caller's documents
// @Tags documents
// @Produce json
// @Security BearerAuth
// @Param q query string true "query text"
// @Param limit query int false "max results" default(5)
// @Success 200 {array} service.ScoredView
// @Failure 400 {object} errorPayload
// @Failure 502 {object} errorPayload
// @Router /documents/search [get]
func SearchDocuments(docSvc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		limit, err := strconv.Atoi(c.Query("limit", "0"))
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_LIMIT", "invalid limit")
		}
		res, err := docSvc.Search(c.UserContext(), callerID(c), c.Query("q"), limit)
		if err != nil {
			return writeDocumentError(c, err)
		}
		return c.JSON(fiber.Map{"data": res})
	}
}

func callerID(c *fiber.Ctx) string {
	id, _ := middleware.IdentityFrom(c)
	return id.UserID
}

func writeDocumentError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, service.ErrIDRequired):
		return writeError(c, fiber.StatusBadRequest, "INVALID_ID", "id is required")
	case errors.Is(err, service.ErrNotFound):
		return writeError(c, fiber.StatusNotFound, "NOT_FOUND", "document not found")
	case errors.Is(err, service.ErrQueryRequired):
		return writeError(c, fiber.StatusBadRequest, "QUERY_REQUIRED", "query is required")
	case errors.Is(err, service.ErrNoEmbedding):
		return writeError(c, fiber.StatusConflict, "NO_EMBEDDING", "document has no embedding")
	case errors.Is(err, service.ErrEmbeddingFailure):
		return writeError(c, fiber.StatusBadGateway, "EMBEDDING_FAILURE", "failed to embed query")
	default:
		return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
	}
}
