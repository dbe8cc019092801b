package web

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/tyemirov/flatmate/internal/apiresult"
	"github.com/tyemirov/flatmate/internal/authkit"
	"github.com/tyemirov/flatmate/internal/platform"
	"go.uber.org/zap"
)

const (
	voteUp     = 1
	voteDown   = -1
	voteRetain = 0
)

// MountCommunityRoutes registers the vote endpoints behind RequireUser.
func MountCommunityRoutes(router gin.IRouter, dependencies authkit.Dependencies) {
	logger := dependencies.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := dependencies.Metrics
	if metrics == nil {
		metrics = platform.NewNoopMetrics()
	}
	posts := router.Group("/api/community/posts/:id", authkit.RequireUser(dependencies))
	posts.POST("/vote", HandleCommunityVote(logger, metrics))
	posts.GET("/vote", HandleCurrentVote(logger))
}

type voteRequest struct {
	VoteType *int `json:"vote_type"`
}

// HandleCommunityVote records, replaces, or removes the user's vote on a post.
// vote_type 0 removes the vote; 1 and -1 upsert it.
func HandleCommunityVote(logger *zap.Logger, metrics platform.MetricsRecorder) gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		defer func() {
			if recovered := recover(); recovered != nil {
				metrics.Increment(platform.MetricVoteFailure)
				logger.Error("vote handler panicked",
					zap.String("code", "community.vote.panic"),
					zap.Any("panic", recovered))
				apiresult.Write(contextGin, apiresult.Err(apiresult.KindInternal, "Failed to vote"))
			}
		}()

		client, user, ok := requestIdentity(contextGin)
		if !ok {
			apiresult.Write(contextGin, apiresult.Err(apiresult.KindUnauthorized, "Unauthorized"))
			return
		}

		var inbound voteRequest
		// chk_post_votes_vote_type enforces the same range in the database.
		if bindErr := contextGin.ShouldBindJSON(&inbound); bindErr != nil || inbound.VoteType == nil || !isValidVote(*inbound.VoteType) {
			apiresult.Write(contextGin, apiresult.Err(apiresult.KindBadRequest, "Invalid vote_type"))
			return
		}

		postID := strings.TrimSpace(contextGin.Param("id"))
		ctx := contextGin.Request.Context()
		var voteErr error
		if *inbound.VoteType == voteRetain {
			voteErr = client.Votes().Delete(ctx, platform.VoteMatch{PostID: postID, UserID: user.ID})
		} else {
			voteErr = client.Votes().Upsert(ctx, platform.VoteRow{PostID: postID, UserID: user.ID, VoteType: *inbound.VoteType})
		}
		if voteErr != nil {
			metrics.Increment(platform.MetricVoteFailure)
			logger.Error("vote failed",
				zap.String("code", "community.vote.failed"),
				zap.String("post_id", postID),
				zap.Error(voteErr))
			apiresult.Write(contextGin, apiresult.Err(apiresult.KindInternal, "Failed to vote"))
			return
		}
		metrics.Increment(platform.MetricVoteSuccess)
		apiresult.Write(contextGin, apiresult.Ok(gin.H{"success": true}))
	}
}

// HandleCurrentVote reports the user's vote on a post, 0 when there is none.
func HandleCurrentVote(logger *zap.Logger) gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		client, user, ok := requestIdentity(contextGin)
		if !ok {
			apiresult.Write(contextGin, apiresult.Err(apiresult.KindUnauthorized, "Unauthorized"))
			return
		}
		postID := strings.TrimSpace(contextGin.Param("id"))
		rows, selectErr := client.Votes().Select(contextGin.Request.Context(), platform.VoteMatch{PostID: postID, UserID: user.ID})
		if selectErr != nil {
			logger.Error("vote lookup failed",
				zap.String("code", "community.vote.lookup_failed"),
				zap.String("post_id", postID),
				zap.Error(selectErr))
			apiresult.Write(contextGin, apiresult.Err(apiresult.KindInternal, "Failed to load vote"))
			return
		}
		voteType := voteRetain
		if len(rows) > 0 {
			voteType = rows[0].VoteType
		}
		apiresult.Write(contextGin, apiresult.Ok(gin.H{"vote_type": voteType}))
	}
}

func requestIdentity(contextGin *gin.Context) (platform.Client, *platform.User, bool) {
	client, clientOK := authkit.ClientFromContext(contextGin)
	user, userOK := authkit.UserFromContext(contextGin)
	if !clientOK || !userOK || client == nil {
		return nil, nil, false
	}
	return client, user, true
}

func isValidVote(voteType int) bool {
	switch voteType {
	case voteUp, voteDown, voteRetain:
		return true
	default:
		return false
	}
}
