package repository

import "errors"

var (
	ErrShopNotFound          = errors.New("shop not found")
	ErrProviderNotFound      = errors.New("provider not found")
	ErrSuperAgentNotFound    = errors.New("super agent not found")
	ErrTransactionNotFound   = errors.New("transaction not found")
	ErrFloatMovementNotFound = errors.New("float movement not found")
	ErrBalanceNotFound       = errors.New("balance row not found")
	ErrOptimisticLock        = errors.New("optimistic lock conflict, retry")
	ErrNegativeBalance       = errors.New("balance would become negative")
)
