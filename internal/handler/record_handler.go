package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/rootp1/Tapp/internal/models"
)

// CreatorStats 创作者收益统计，userId 为 Telegram ID
func (h *Handler) CreatorStats(c *gin.Context) {
	userID := strings.TrimSpace(c.Query("userId"))
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "userId is required"})
		return
	}

	stats, err := h.ledger.CreatorStats(c.Request.Context(), userID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// UpdateCreatorWallet 绑定收款钱包，同时标记为创作者
func (h *Handler) UpdateCreatorWallet(c *gin.Context) {
	var req models.UpdateWalletRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	user, err := h.ledger.UpdateCreatorWallet(c.Request.Context(), req.UserID, req.WalletAddress)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.UpdateWalletResponse{Success: true, WalletAddress: user.WalletAddress})
}

func (h *Handler) AdminStats(c *gin.Context) {
	stats, err := h.ledger.AdminStats(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// Reconcile 按已完成的支付意图重算累计值
func (h *Handler) Reconcile(c *gin.Context) {
	res, err := h.ledger.Reconcile(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// RecentPayments 最近的支付意图，可选 status、limit
func (h *Handler) RecentPayments(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	items, err := h.ledger.RecentPayments(c.Request.Context(), c.Query("status"), limit)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": items})
}

func (h *Handler) DeactivatePost(c *gin.Context) {
	postID := c.Param("postId")
	if err := h.ledger.DeactivatePost(c.Request.Context(), postID); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "postId": postID})
}
