package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/rootp1/Tapp/internal/models"
	"github.com/rootp1/Tapp/internal/services"
	"github.com/rootp1/Tapp/utils"
)

const verifyFailedMessage = "payment verification failed, please try again"

// CreatePayment 创建支付意图，返回钱包转账参数
func (h *Handler) CreatePayment(c *gin.Context) {
	var req models.CreatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	resp, err := h.payments.CreatePayment(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// VerifyPayment 校验链上付款并结算
func (h *Handler) VerifyPayment(c *gin.Context) {
	var req models.VerifyPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	res, err := h.settlement.VerifyAndSettle(c.Request.Context(), req.TransactionID, req.TonTransactionHash)
	if err != nil {
		// 不向客户端暴露匹配细节
		if errors.Is(err, services.ErrVerificationFailed) || errors.Is(err, services.ErrChainUnavailable) {
			h.log.Warn("payment verification failed",
				zap.String("transaction_id", req.TransactionID), zap.Error(err))
			c.JSON(statusFor(err), models.VerifyPaymentResponse{
				Success:       false,
				Message:       verifyFailedMessage,
				TransactionID: req.TransactionID,
			})
			return
		}
		h.writeError(c, err)
		return
	}

	msg := "Payment verified successfully"
	if res.AlreadySettled {
		msg = "Payment already verified"
	}
	c.JSON(http.StatusOK, models.VerifyPaymentResponse{
		Success:       true,
		Message:       msg,
		TransactionID: res.TransactionID,
		TxHash:        res.TxHash,
	})
}

func (h *Handler) PaymentStatus(c *gin.Context) {
	intent, err := h.payments.GetStatus(c.Request.Context(), c.Param("transactionId"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	resp := models.PaymentStatusResponse{
		TransactionID: intent.TransactionID,
		Status:        intent.Status,
		Amount:        utils.FromNano(intent.Amount).InexactFloat64(),
		Currency:      intent.Currency,
	}
	if intent.ChainTxHash != nil {
		resp.TxHash = *intent.ChainTxHash
	}
	c.JSON(http.StatusOK, resp)
}

// ContractHealth 合约地址是否已配置、链上读取是否可用
func (h *Handler) ContractHealth(c *gin.Context) {
	ready, addr := h.payments.ContractHealth(c.Request.Context())
	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, models.ContractHealthResponse{Ready: ready, Address: addr})
}

func (h *Handler) ContractStats(c *gin.Context) {
	stats, err := h.payments.ContractStats(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
