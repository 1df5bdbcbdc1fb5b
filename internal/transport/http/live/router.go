package livehttp

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"spotpilot/internal/decision"
	"spotpilot/internal/engine"
	"spotpilot/internal/executor"
	"spotpilot/internal/gateway/exchange"
	"spotpilot/internal/gateway/notifier"
	"spotpilot/internal/logger"
	"spotpilot/internal/pkg/trading"
	"spotpilot/internal/reconcile"
	"spotpilot/internal/store"
	"spotpilot/internal/store/eventlog"

	"github.com/gin-gonic/gin"
)

const maxProposalBytes = 1 << 20

type RecommendationReader interface {
	Get(ctx context.Context, id int64) (store.Recommendation, error)
	ListRecent(ctx context.Context, limit int) ([]store.Recommendation, error)
}

type ProposalSubmitter interface {
	Submit(ctx context.Context, p decision.Proposal) (engine.Outcome, error)
}

type Reconciler interface {
	RunOnce(ctx context.Context) (reconcile.Report, error)
}

type EventLister interface {
	List(ctx context.Context, q eventlog.Query) ([]eventlog.Record, error)
}

type AccountReader interface {
	Account(ctx context.Context) (exchange.Account, error)
}

// Router 暴露 /api 下的查询与操作接口。nil 依赖对应的路由返回 503。
type Router struct {
	Recommendations RecommendationReader
	Submitter       ProposalSubmitter
	Reconciler      Reconciler
	Events          EventLister
	Account         AccountReader
	DefaultSymbol   string

	nowFn func() time.Time
	log   *logger.Component
}

func NewRouter(r Router) *Router {
	out := r
	out.nowFn = time.Now
	out.log = logger.Named("api")
	return &out
}

func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.GET("/recommendations", r.handleListRecommendations)
	group.GET("/recommendations/:id", r.handleRecommendationByID)
	group.POST("/proposals", r.handleSubmitProposal)
	group.POST("/reconcile", r.handleReconcile)
	group.GET("/events", r.handleEvents)
	group.GET("/account", r.handleAccount)
}

func (r *Router) handleListRecommendations(c *gin.Context) {
	if r.Recommendations == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store not configured"})
		return
	}
	limit := boundedInt(c.DefaultQuery("limit", "50"), 50, 500)
	recs, err := r.Recommendations.ListRecent(c.Request.Context(), limit)
	if err != nil {
		r.log.Errorf("list recommendations ip=%s err=%v", c.ClientIP(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if sym := strings.TrimSpace(c.Query("symbol")); sym != "" {
		filtered := recs[:0]
		for _, rec := range recs {
			if strings.EqualFold(rec.Proposal.Symbol, sym) {
				filtered = append(filtered, rec)
			}
		}
		recs = filtered
	}
	c.JSON(http.StatusOK, gin.H{"recommendations": recs, "count": len(recs)})
}

func (r *Router) handleRecommendationByID(c *gin.Context) {
	if r.Recommendations == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store not configured"})
		return
	}
	id, _ := strconv.ParseInt(c.Param("id"), 10, 64)
	if id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid recommendation id"})
		return
	}
	rec, err := r.Recommendations.Get(c.Request.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "recommendation not found"})
		return
	}
	if err != nil {
		r.log.Errorf("get recommendation id=%d err=%v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (r *Router) handleSubmitProposal(c *gin.Context) {
	if r.Submitter == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "engine not configured"})
		return
	}
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxProposalBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	p, err := decision.ParseProposal(raw, r.DefaultSymbol, r.nowFn().UTC())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	out, err := r.Submitter.Submit(c.Request.Context(), p)
	if err != nil {
		status := submitStatus(err)
		r.log.Warnf("submit proposal ip=%s status=%d err=%v", c.ClientIP(), status, err)
		c.JSON(status, gin.H{"error": err.Error(), "outcome": out})
		return
	}
	r.log.Infof("proposal submitted ip=%s record=%d admitted=%v executed=%v", c.ClientIP(), out.RecordID, out.Admitted, out.Executed)
	c.JSON(http.StatusOK, out)
}

func submitStatus(err error) int {
	var rej *exchange.RejectedError
	switch {
	case errors.Is(err, executor.ErrMissingCredentials), errors.Is(err, exchange.ErrUnauthenticated):
		return http.StatusServiceUnavailable
	case errors.Is(err, trading.ErrBelowMinimum), errors.Is(err, executor.ErrInvalidProposal), errors.As(err, &rej):
		return http.StatusUnprocessableEntity
	case exchange.IsRetryable(err):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (r *Router) handleReconcile(c *gin.Context) {
	if r.Reconciler == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "reconcile not configured"})
		return
	}
	rep, err := r.Reconciler.RunOnce(c.Request.Context())
	if errors.Is(err, reconcile.ErrTickRunning) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "report": rep})
		return
	}
	c.JSON(http.StatusOK, rep)
}

func (r *Router) handleEvents(c *gin.Context) {
	if r.Events == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event log not configured"})
		return
	}
	q := eventlog.Query{
		Kind:   notifier.Kind(strings.TrimSpace(c.Query("kind"))),
		Symbol: strings.ToUpper(strings.TrimSpace(c.Query("symbol"))),
		Limit:  boundedInt(c.DefaultQuery("limit", "100"), 100, 500),
		Offset: boundedInt(c.DefaultQuery("offset", "0"), 0, 1<<30),
	}
	if id, _ := strconv.ParseInt(c.Query("recommendation_id"), 10, 64); id > 0 {
		q.RecommendationID = id
	}
	if since := strings.TrimSpace(c.Query("since")); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be RFC3339"})
			return
		}
		q.Since = t
	}
	recs, err := r.Events.List(c.Request.Context(), q)
	if err != nil {
		r.log.Errorf("list events err=%v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": recs, "count": len(recs)})
}

func (r *Router) handleAccount(c *gin.Context) {
	if r.Account == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "exchange not configured"})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 15*time.Second)
	defer cancel()
	acct, err := r.Account.Account(ctx)
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, exchange.ErrUnauthenticated) {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, acct)
}

func boundedInt(raw string, def, max int) int {
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || v < 0 {
		return def
	}
	if v > max {
		return max
	}
	return v
}
