package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/romangod6/listing-harvester/config"
	"github.com/romangod6/listing-harvester/internal/analysis"
	"github.com/romangod6/listing-harvester/internal/models"
	"github.com/romangod6/listing-harvester/internal/storage"
	"github.com/romangod6/listing-harvester/internal/utils"
)

// CrawlLauncher starts a crawl in the background and returns its run key.
type CrawlLauncher interface {
	Launch(target config.Target) (runKey string, err error)
}

// ErrCrawlRunning is returned by a launcher when the target is already being
// crawled.
var ErrCrawlRunning = errors.New("crawl already running")

type Handler struct {
	gateway  *storage.Gateway
	launcher CrawlLauncher
	logger   utils.Logger
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type PaginationResponse struct {
	Data       interface{} `json:"data"`
	Page       int         `json:"page"`
	Limit      int         `json:"limit"`
	TotalCount int64       `json:"total_count,omitempty"`
}

type CrawlRequest struct {
	Name            string `json:"name"`
	RootURL         string `json:"root_url" binding:"required"`
	PageURLTemplate string `json:"page_url_template"`
}

func NewHandler(g *storage.Gateway, launcher CrawlLauncher, logger utils.Logger) *Handler {
	if logger == nil {
		logger = utils.NewNop()
	}
	return &Handler{gateway: g, launcher: launcher, logger: logger}
}

// storeFailure maps a storage error onto a response.
func (h *Handler) storeFailure(c *gin.Context, msg string, err error) {
	h.logger.Error(msg, utils.String("path", c.FullPath()), utils.Err(err))
	status := http.StatusInternalServerError
	if storage.KindOf(err) == storage.KindUnavailable {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, ErrorResponse{Error: msg})
}

func sessionID(c *gin.Context) (string, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid session ID"})
		return "", false
	}
	return id.String(), true
}

func (h *Handler) ListSessions(c *gin.Context) {
	page, limit := getPaginationParams(c)
	offset := (page - 1) * limit

	sessions, err := h.gateway.ListSessions(c.Request.Context(), storage.Page{Limit: limit, Skip: offset})
	if err != nil {
		h.storeFailure(c, "Failed to fetch sessions", err)
		return
	}
	total, err := h.gateway.CountSessions(c.Request.Context())
	if err != nil {
		h.storeFailure(c, "Failed to count sessions", err)
		return
	}
	if sessions == nil {
		sessions = []models.Session{}
	}

	c.JSON(http.StatusOK, PaginationResponse{
		Data:       sessions,
		Page:       page,
		Limit:      limit,
		TotalCount: total,
	})
}

func (h *Handler) LatestSession(c *gin.Context) {
	rootURL := c.Query("root_url")
	if rootURL == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "root_url is required"})
		return
	}

	session, err := h.gateway.LatestSession(c.Request.Context(), rootURL)
	if err != nil {
		h.storeFailure(c, "Failed to fetch session", err)
		return
	}
	if session == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "Session not found"})
		return
	}

	c.JSON(http.StatusOK, session)
}

func (h *Handler) GetSession(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}

	session, err := h.gateway.GetSession(c.Request.Context(), id)
	if err != nil {
		h.storeFailure(c, "Failed to fetch session", err)
		return
	}
	if session == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "Session not found"})
		return
	}

	c.JSON(http.StatusOK, session)
}

func (h *Handler) SessionListings(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	page, limit := getPaginationParams(c)
	offset := (page - 1) * limit

	cur, err := h.gateway.SessionListings(c.Request.Context(), id, storage.Page{Limit: limit, Skip: offset})
	if err != nil {
		h.storeFailure(c, "Failed to fetch listings", err)
		return
	}
	listings, err := storage.All[models.ListingRecord](cur)
	if err != nil {
		h.storeFailure(c, "Failed to fetch listings", err)
		return
	}
	total, err := h.gateway.CountListings(c.Request.Context(), id)
	if err != nil {
		h.storeFailure(c, "Failed to count listings", err)
		return
	}
	if listings == nil {
		listings = []models.ListingRecord{}
	}

	c.JSON(http.StatusOK, PaginationResponse{
		Data:       listings,
		Page:       page,
		Limit:      limit,
		TotalCount: total,
	})
}

func (h *Handler) SessionStatistics(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	typ := c.DefaultQuery("type", analysis.StatisticsType)

	st, err := h.gateway.GetStatistics(c.Request.Context(), id, typ)
	if err != nil {
		h.storeFailure(c, "Failed to fetch statistics", err)
		return
	}
	if st == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "Statistics not found"})
		return
	}

	c.JSON(http.StatusOK, st)
}

func itemHash(c *gin.Context) (string, bool) {
	hash := strings.ToLower(c.Param("hash"))
	if len(hash) != 64 || strings.Trim(hash, "0123456789abcdef") != "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid item hash"})
		return "", false
	}
	return hash, true
}

func (h *Handler) ItemListings(c *gin.Context) {
	hash, ok := itemHash(c)
	if !ok {
		return
	}

	items, err := h.gateway.ListingsByItem(c.Request.Context(), hash)
	if err != nil {
		h.storeFailure(c, "Failed to fetch listings", err)
		return
	}
	if items == nil {
		items = []storage.ListingItem{}
	}

	c.JSON(http.StatusOK, items)
}

func (h *Handler) ItemAnalyses(c *gin.Context) {
	hash, ok := itemHash(c)
	if !ok {
		return
	}

	analyses, err := h.gateway.ItemAnalyses(c.Request.Context(), hash)
	if err != nil {
		h.storeFailure(c, "Failed to fetch analyses", err)
		return
	}
	if analyses == nil {
		analyses = []models.PriceAnalysis{}
	}

	c.JSON(http.StatusOK, analyses)
}

// GetMarketPrice returns the stored market price regardless of age.
func (h *Handler) GetMarketPrice(c *gin.Context) {
	hash, ok := itemHash(c)
	if !ok {
		return
	}
	itemType := models.ItemType(c.Param("type"))
	if models.MigrateItemType(itemType) != itemType {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid item type"})
		return
	}

	mp, err := h.gateway.GetMarketPrice(c.Request.Context(), hash, itemType)
	if err != nil {
		h.storeFailure(c, "Failed to fetch market price", err)
		return
	}
	if mp == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "Market price not found"})
		return
	}

	c.JSON(http.StatusOK, mp)
}

func (h *Handler) StartCrawl(c *gin.Context) {
	if h.launcher == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "Crawling is disabled"})
		return
	}

	var req CrawlRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request payload"})
		return
	}
	if req.PageURLTemplate != "" && !strings.Contains(req.PageURLTemplate, "{page}") {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "page_url_template must contain {page}"})
		return
	}

	target := config.Target{Name: req.Name, RootURL: req.RootURL, PageURLTemplate: req.PageURLTemplate}
	if target.Name == "" {
		target.Name = target.RootURL
	}

	runKey, err := h.launcher.Launch(target)
	if errors.Is(err, ErrCrawlRunning) {
		c.JSON(http.StatusConflict, ErrorResponse{Error: "Crawl already running"})
		return
	}
	if err != nil {
		h.logger.Error("failed to start crawl", utils.String("root_url", req.RootURL), utils.Err(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to start crawl"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"run_key": runKey, "root_url": target.RootURL})
}

// Utility functions
func getPaginationParams(c *gin.Context) (page, limit int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", "10"))

	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 10
	}

	return page, limit
}
