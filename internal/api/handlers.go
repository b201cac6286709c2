package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/a-h/templ"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/axellelanca/linkcloak/internal/auth"
	"github.com/axellelanca/linkcloak/internal/decision"
	customerrors "github.com/axellelanca/linkcloak/internal/errors"
	"github.com/axellelanca/linkcloak/internal/ledger"
	"github.com/axellelanca/linkcloak/internal/models"
	"github.com/axellelanca/linkcloak/internal/render"
	"github.com/axellelanca/linkcloak/internal/services"
)

// Classifier is the part of the visitor classifier the handlers use.
type Classifier interface {
	Classify(ctx context.Context, ip, ua string) models.VisitorClassification
	ClassifyAgent(ip, ua string) models.VisitorClassification
}

// ClickRecorder takes ledger writes off the request path.
type ClickRecorder interface {
	Submit(slug string, c models.VisitorClassification, referer string) error
	Stats() ledger.Stats
}

// Dependencies are everything the routes need. Tokens and Codes may be nil,
// in which case the management and extension API routes are not mounted.
type Dependencies struct {
	Links      *services.LinkService
	Classifier Classifier
	Engine     *decision.Engine
	Recorder   ClickRecorder
	Content    *render.Content
	Tokens     *auth.Tokens
	Codes      auth.CodeStore
	CodeTTL    time.Duration
	BaseURL    string

	HandshakeTimeout   time.Duration
	HandshakeCountdown int

	Logger *zap.Logger
}

// renderPage writes a templ component as the HTML response.
func renderPage(c *gin.Context, status int, component templ.Component) {
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Status(status)
	if err := component.Render(c.Request.Context(), c.Writer); err != nil {
		_ = c.Error(err)
	}
}

func fullURL(base, slug string) string {
	return strings.TrimRight(base, "/") + "/" + slug
}

// HealthCheckHandler reports liveness and the click recorder counters.
func HealthCheckHandler(rec ClickRecorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		body := gin.H{"status": "ok"}
		if rec != nil {
			body["ledger"] = rec.Stats()
		}
		c.JSON(http.StatusOK, body)
	}
}

// RedirectHandler serves GET /:slug.
//
// The directive only depends on the link state and on whether the visitor is a
// preview bot, so it is computed from the user agent alone. The reputation
// lookup runs only for hits that will be counted, and the ledger write is
// queued after the page is written.
func RedirectHandler(d Dependencies) gin.HandlerFunc {
	logger := d.Logger.Named("redirect")
	return func(c *gin.Context) {
		slug := c.Param("slug")
		ctx := c.Request.Context()
		ip := c.ClientIP()
		ua := c.GetHeader("User-Agent")

		c.Header("Cache-Control", "no-store")
		c.Header("Vary", "User-Agent")

		link, err := d.Links.GetLinkBySlug(ctx, slug)
		if err != nil && !errors.Is(err, customerrors.ErrLinkNotFound) {
			logger.Error("link lookup failed", zap.String("slug", slug), zap.Error(err))
			renderPage(c, http.StatusInternalServerError, render.ErrorPage(GetRequestID(c)))
			return
		}

		visitor := d.Classifier.ClassifyAgent(ip, ua)
		directive, err := d.Engine.SafeDecide(link, visitor)
		if err != nil {
			logger.Error("decision failed", zap.String("slug", slug), zap.Error(err))
		}

		switch directive {
		case decision.NotFound:
			renderPage(c, directive.Status(), render.NotFoundPage(slug))
		case decision.Gone:
			renderPage(c, directive.Status(), render.GonePage(slug))
		case decision.RenderPreview:
			renderPage(c, directive.Status(), render.PreviewPage(link, fullURL(d.BaseURL, link.Slug)))
		case decision.RenderArticle:
			visitor = d.Classifier.Classify(ctx, ip, ua)
			renderPage(c, directive.Status(), render.ArticlePage(link, articleHTML(d.Content, link, logger)))
		default:
			renderPage(c, http.StatusInternalServerError, render.ErrorPage(GetRequestID(c)))
		}

		if !directive.Records() {
			return
		}
		if err := d.Recorder.Submit(link.Slug, visitor, c.GetHeader("Referer")); err != nil {
			logger.Warn("click not queued", zap.String("slug", link.Slug), zap.Error(err))
		}
	}
}

func articleHTML(content *render.Content, link *models.Link, logger *zap.Logger) string {
	if content == nil || strings.TrimSpace(link.Content) == "" {
		return ""
	}
	out, err := content.Render(link.Content)
	if err != nil {
		logger.Warn("content render failed", zap.String("slug", link.Slug), zap.Error(err))
		return ""
	}
	return out
}

// CreateLinkRequest is either a single link or a batch under "links".
// Single: {"target_url": "https://shop.example/x", "slug": "deal1"}
// Batch:  {"links": [{"target_url": "..."}, {"target_url": "..."}]}
type CreateLinkRequest struct {
	services.CreateLinkInput
	Links []services.CreateLinkInput `json:"links"`
}

// CreateLinkResponse describes one created (or rejected) link.
type CreateLinkResponse struct {
	Slug      string     `json:"slug,omitempty"`
	TargetURL string     `json:"target_url"`
	FullURL   string     `json:"full_url,omitempty"`
	IsActive  bool       `json:"is_active"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Success   bool       `json:"success"`
	Error     string     `json:"error,omitempty"`
}

// CreateLinksResponse is the batch response with aggregate counts.
type CreateLinksResponse struct {
	Results []CreateLinkResponse `json:"results"`
	Summary struct {
		Total      int `json:"total"`
		Successful int `json:"successful"`
		Failed     int `json:"failed"`
	} `json:"summary"`
}

// createErrorStatus maps link creation errors to HTTP statuses and public messages.
func createErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, customerrors.ErrInvalidURL):
		return http.StatusBadRequest, "target_url and image_url must be absolute http(s) URLs"
	case errors.Is(err, customerrors.ErrInvalidSlug):
		return http.StatusBadRequest, "slug must be 1-64 letters, digits, '-' or '_' and not a reserved path"
	case errors.Is(err, customerrors.ErrSlugTaken):
		return http.StatusConflict, "slug already exists"
	case errors.Is(err, customerrors.ErrSlugGenerationFailed):
		return http.StatusServiceUnavailable, "unable to generate a unique slug, please try again later"
	default:
		return http.StatusInternalServerError, "failed to create link"
	}
}

// CreateLinkHandler handles POST /api/v1/links.
func CreateLinkHandler(d Dependencies) gin.HandlerFunc {
	logger := d.Logger.Named("links")
	return func(c *gin.Context) {
		var req CreateLinkRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
			return
		}

		if len(req.Links) == 0 {
			if req.TargetURL == "" {
				c.JSON(http.StatusBadRequest, gin.H{"error": "either 'target_url' or 'links' must be provided"})
				return
			}
			link, err := d.Links.CreateLink(c.Request.Context(), req.CreateLinkInput)
			if err != nil {
				status, msg := createErrorStatus(err)
				if status == http.StatusInternalServerError {
					logger.Error("link creation failed", zap.Error(err))
				}
				c.JSON(status, gin.H{"error": msg})
				return
			}
			c.JSON(http.StatusCreated, linkResponse(d.BaseURL, link))
			return
		}

		var resp CreateLinksResponse
		for _, in := range req.Links {
			link, err := d.Links.CreateLink(c.Request.Context(), in)
			if err != nil {
				status, msg := createErrorStatus(err)
				if status == http.StatusInternalServerError {
					logger.Error("link creation failed", zap.String("target", in.TargetURL), zap.Error(err))
				}
				resp.Results = append(resp.Results, CreateLinkResponse{TargetURL: in.TargetURL, Error: msg})
				resp.Summary.Failed++
				continue
			}
			resp.Results = append(resp.Results, linkResponse(d.BaseURL, link))
			resp.Summary.Successful++
		}
		resp.Summary.Total = len(req.Links)

		status := http.StatusMultiStatus
		switch {
		case resp.Summary.Failed == 0:
			status = http.StatusCreated
		case resp.Summary.Successful == 0:
			status = http.StatusBadRequest
		}
		c.JSON(status, resp)
	}
}

func linkResponse(base string, link *models.Link) CreateLinkResponse {
	return CreateLinkResponse{
		Slug:      link.Slug,
		TargetURL: link.TargetURL,
		FullURL:   fullURL(base, link.Slug),
		IsActive:  link.IsActive,
		ExpiresAt: link.ExpiresAt,
		Success:   true,
	}
}

// LinkStatsHandler handles GET /api/v1/links/:slug/stats.
func LinkStatsHandler(d Dependencies) gin.HandlerFunc {
	logger := d.Logger.Named("links")
	return func(c *gin.Context) {
		slug := c.Param("slug")
		stats, err := d.Links.GetLinkStats(c.Request.Context(), slug)
		if err != nil {
			if errors.Is(err, customerrors.ErrLinkNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "link not found"})
				return
			}
			logger.Error("stats lookup failed", zap.String("slug", slug), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"slug":         stats.Link.Slug,
			"target_url":   stats.Link.TargetURL,
			"is_active":    stats.Link.IsActive,
			"available":    stats.Link.IsAvailable(),
			"total_clicks": stats.Link.TotalClicks,
			"valid_clicks": stats.Link.ValidClicks,
			"events":       stats.Events,
			"breakdown":    stats.Breakdown,
			"created_at":   stats.Link.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
}

// ExtensionAuthPageHandler serves the page the extension handshake runs in.
func ExtensionAuthPageHandler(d Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		code := strings.TrimSpace(c.Query("code"))
		c.Header("Cache-Control", "no-store")
		c.Header("Referrer-Policy", "no-referrer")
		status := http.StatusOK
		if code == "" {
			status = http.StatusBadRequest
		}
		renderPage(c, status, render.ExtensionAuthPage(code, d.HandshakeTimeout, d.HandshakeCountdown))
	}
}

// IssueCodeHandler handles POST /api/v1/extension/codes for an authenticated caller.
func IssueCodeHandler(d Dependencies) gin.HandlerFunc {
	logger := d.Logger.Named("extension")
	return func(c *gin.Context) {
		code, err := d.Codes.Issue(c.Request.Context(), auth.Subject(c), d.CodeTTL)
		if err != nil {
			logger.Error("code issue failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue code"})
			return
		}
		c.JSON(http.StatusCreated, gin.H{
			"code":       code,
			"expires_in": int(d.CodeTTL.Seconds()),
			"auth_url":   strings.TrimRight(d.BaseURL, "/") + "/extension/auth?code=" + code,
		})
	}
}

type exchangeRequest struct {
	Code string `json:"code" binding:"required"`
}

// ExchangeCodeHandler handles POST /api/v1/extension/exchange: a valid code is
// consumed and traded for a bearer token. A code works once.
func ExchangeCodeHandler(d Dependencies) gin.HandlerFunc {
	logger := d.Logger.Named("extension")
	return func(c *gin.Context) {
		var req exchangeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing code"})
			return
		}

		subject, err := d.Codes.Consume(c.Request.Context(), req.Code)
		if err != nil {
			if errors.Is(err, customerrors.ErrCodeInvalid) {
				c.JSON(http.StatusUnauthorized, gin.H{"error": customerrors.ErrCodeInvalid.Error()})
				return
			}
			logger.Error("code consume failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
			return
		}

		token, expires, err := d.Tokens.Issue(subject)
		if err != nil {
			logger.Error("token issue failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"token": token, "expires_at": expires.UTC().Format(time.RFC3339)})
	}
}
