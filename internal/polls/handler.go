package polls

import (
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/pollrooms/backend/internal/identity"
	"github.com/pollrooms/backend/internal/store"
	"github.com/pollrooms/backend/pkg/response"
)

// CreateRequest is the body for POST /api/polls.
type CreateRequest struct {
	Question string   `json:"question"`
	Options  []string `json:"options"`
}

// VoteRequest is the body for POST /api/polls/:id/vote.
type VoteRequest struct {
	OptionID string `json:"optionId"`
}

// Handler handles poll HTTP endpoints.
type Handler struct {
	svc    *Service
	logger *zap.Logger
}

// NewHandler creates a polls handler.
func NewHandler(svc *Service, logger *zap.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// Create handles POST /api/polls.
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid JSON body")
		return
	}

	addr := identity.ClientAddr(c.Request)
	poll, err := h.svc.CreatePoll(c.Request.Context(), req.Question, req.Options, addr)
	if err != nil {
		var verr *ValidationError
		switch {
		case errors.As(err, &verr):
			response.BadRequest(c, verr.Msg)
		case errors.Is(err, ErrRateLimited):
			response.TooManyRequests(c, "too many polls created from this IP, please wait")
		default:
			h.logger.Error("create poll failed", zap.Error(err))
			response.Internal(c, "failed to create poll")
		}
		return
	}

	response.Created(c, gin.H{
		"pollId":    poll.ID,
		"shareLink": shareLink(c, poll.ID),
	})
}

// Get handles GET /api/polls/:id.
func (h *Handler) Get(c *gin.Context) {
	snap, err := h.svc.GetSnapshot(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrPollNotFound) {
			response.NotFound(c, "poll not found")
			return
		}
		h.logger.Error("get snapshot failed", zap.Error(err))
		response.Internal(c, "failed to load poll")
		return
	}
	response.OK(c, snap)
}

// Vote handles POST /api/polls/:id/vote. Issues the voter cookie when
// the request carried none and the vote was accepted.
func (h *Handler) Vote(c *gin.Context) {
	pollID := c.Param("id")

	var req VoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid JSON body")
		return
	}
	if req.OptionID == "" {
		response.BadRequest(c, "optionId is required")
		return
	}

	existing, _ := c.Cookie(identity.VoterCookie)
	token, issuedNew := identity.EnsureVoterToken(existing)
	addr := identity.ClientAddr(c.Request)

	err := h.svc.SubmitVote(c.Request.Context(), pollID, req.OptionID, token, addr)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrPollNotFound):
			response.NotFound(c, "poll not found")
		case errors.Is(err, store.ErrOptionNotFound):
			response.BadRequest(c, "invalid option selected")
		case errors.Is(err, store.ErrDuplicateVoter):
			response.Conflict(c, "this browser has already voted in this poll")
		case errors.Is(err, store.ErrDuplicateAddress):
			response.Conflict(c, "a vote from this network has already been recorded for this poll")
		default:
			h.logger.Error("submit vote failed", zap.String("poll_id", pollID), zap.Error(err))
			response.Internal(c, "failed to record vote")
		}
		return
	}

	if issuedNew {
		identity.SetVoterCookie(c.Writer, token)
	}
	response.OK(c, gin.H{"pollId": pollID, "optionId": req.OptionID})
}

// shareLink builds the absolute poll URL from the Origin header when
// present, else from Host plus the forwarded protocol.
func shareLink(c *gin.Context, pollID string) string {
	if origin := c.GetHeader("Origin"); origin != "" {
		return origin + "/poll/" + pollID
	}
	scheme := "http"
	if c.GetHeader("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	host := c.Request.Host
	if host == "" {
		host = "localhost:8080"
	}
	return scheme + "://" + host + "/poll/" + pollID
}
