package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/EckmanTechLLC/thereceipts/pkg/models"
	"github.com/EckmanTechLLC/thereceipts/pkg/store"
)

// handleListAudits serves the public audit listing. Only cards with
// visible_in_audits are returned; the store enforces that.
func (s *Server) handleListAudits(c *gin.Context) {
	filters := models.AuditFilters{
		Category:  models.ClaimTypeCategory(c.Query("category")),
		Verdict:   models.Verdict(c.Query("verdict")),
		Substring: c.Query("q"),
		Limit:     queryInt(c, "limit", 20),
		Offset:    queryInt(c, "offset", 0),
	}
	if !filters.Category.IsValid() {
		badRequest(c, "unknown category")
		return
	}
	if filters.Verdict != "" && !filters.Verdict.IsValid() {
		badRequest(c, "unknown verdict")
		return
	}

	listing, err := s.deps.Claims.ListForAudits(c.Request.Context(), filters)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, listing)
}

// handleGetAudit serves one claim card with sources and tags.
func (s *Server) handleGetAudit(c *gin.Context) {
	card, err := s.deps.Claims.ByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, card)
}

// handleListPublished serves published blog posts only (unpublished posts
// never appear here).
func (s *Server) handleListPublished(c *gin.Context) {
	posts, err := s.deps.Blogs.ListPublished(c.Request.Context(),
		queryInt(c, "limit", 20), queryInt(c, "offset", 0))
	if err != nil {
		respondError(c, err)
		return
	}
	if posts == nil {
		posts = []*models.BlogPost{}
	}
	c.JSON(http.StatusOK, gin.H{"posts": posts})
}

// handleGetBlogPost serves one published post. Unpublished posts 404 on the
// public surface.
func (s *Server) handleGetBlogPost(c *gin.Context) {
	post, err := s.deps.Blogs.ByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if post.PublishedAt == nil {
		respondError(c, store.ErrNotFound)
		return
	}
	c.JSON(http.StatusOK, post)
}

func queryInt(c *gin.Context, key string, defaultVal int) int {
	val := c.Query(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}
