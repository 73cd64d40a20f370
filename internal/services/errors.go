package services

import (
	"errors"

	"github.com/rootp1/Tapp/internal/contract"
)

var (
	ErrNotFound               = errors.New("not found")
	ErrAlreadyProcessed       = errors.New("payment already processed")
	ErrAlreadyPurchased       = errors.New("post already purchased")
	ErrChainUnavailable       = errors.New("chain unavailable")
	ErrVerificationFailed     = errors.New("payment verification failed")
	ErrVerificationInProgress = errors.New("verification already in progress")
	ErrCreatorAddressMissing  = errors.New("creator wallet address missing")
	ErrInvalidAddress         = errors.New("invalid address")
	ErrInvalidRequest         = errors.New("invalid request")
	ErrProofAlreadyUsed       = errors.New("on-chain transaction already used by another payment")
	ErrContractNotConfigured  = errors.New("payment contract not configured")

	// ErrMalformedMessage 来自编解码层，匹配时降级处理
	ErrMalformedMessage = contract.ErrMalformedMessage
)
