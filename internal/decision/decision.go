// Package decision turns a link's lifecycle state and a visitor classification
// into the response variant served on the redirect path.
package decision

import (
	"fmt"
	"net/http"
	"time"

	"github.com/axellelanca/linkcloak/internal/models"
)

// Directive is the response variant selected for a hit.
type Directive int

const (
	NotFound Directive = iota
	Gone
	RenderPreview
	RenderArticle
	InternalError
)

var directiveNames = map[Directive]string{
	NotFound:      "not-found",
	Gone:          "gone",
	RenderPreview: "render-preview",
	RenderArticle: "render-article",
	InternalError: "internal-error",
}

func (d Directive) String() string {
	if s, ok := directiveNames[d]; ok {
		return s
	}
	return fmt.Sprintf("directive(%d)", int(d))
}

// Status is the HTTP status code served with the directive.
func (d Directive) Status() int {
	switch d {
	case NotFound:
		return http.StatusNotFound
	case Gone:
		return http.StatusGone
	case RenderPreview, RenderArticle:
		return http.StatusOK
	default:
		return http.StatusInternalServerError
	}
}

// Records reports whether a hit served with d goes to the click ledger.
// Only human visitors on an available link are counted.
func (d Directive) Records() bool {
	return d == RenderArticle
}

// Engine is stateless apart from its clock.
type Engine struct {
	Now func() time.Time
}

// New returns an engine reading the wall clock.
func New() *Engine {
	return &Engine{Now: time.Now}
}

func (e *Engine) now() time.Time {
	if e == nil || e.Now == nil {
		return time.Now()
	}
	return e.Now()
}

// Decide is deterministic for a given clock reading. A nil link is an unknown slug.
func (e *Engine) Decide(link *models.Link, c models.VisitorClassification) Directive {
	switch {
	case link == nil:
		return NotFound
	case !link.IsAvailableAt(e.now()):
		return Gone
	case c.IsPreviewBot:
		return RenderPreview
	default:
		return RenderArticle
	}
}

// SafeDecide runs Decide and downgrades a panic to InternalError. The
// recovered value is returned so the caller can log it.
func (e *Engine) SafeDecide(link *models.Link, c models.VisitorClassification) (d Directive, err error) {
	defer func() {
		if r := recover(); r != nil {
			d = InternalError
			err = fmt.Errorf("decide: %v", r)
		}
	}()
	return e.Decide(link, c), nil
}
