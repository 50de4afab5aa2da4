package types

import (
	"github.com/acdtunes/fleetd/internal/domain/contract"
	"github.com/acdtunes/fleetd/internal/domain/shared"
)

// This package contains all command and response types for the contract application layer.
//
// By extracting types to a separate package, code that only needs the request and
// response shapes can use them without importing the handlers:
//
//	commands package → imports types package
//	types package → imports only domain packages
//
// This is Phase 3.1 of the application layer refactoring plan.

// ============================================================================
// Contract Negotiation
// ============================================================================

// NegotiateContractCommand requests negotiation of a new contract.
type NegotiateContractCommand struct {
	ShipSymbol string
	PlayerID   shared.PlayerID
}

// NegotiateContractResponse contains the result of contract negotiation.
type NegotiateContractResponse struct {
	Contract      *contract.Contract
	WasNegotiated bool // false if existing contract returned (error 4511)
}

// ============================================================================
// Contract Acceptance
// ============================================================================

// AcceptContractCommand requests acceptance of a contract.
type AcceptContractCommand struct {
	ContractID string
	PlayerID   shared.PlayerID
}

// AcceptContractResponse contains the accepted contract.
type AcceptContractResponse struct {
	Contract *contract.Contract
}

// ============================================================================
// Contract Delivery
// ============================================================================

// DeliverContractCommand requests delivery of goods to fulfill a contract.
type DeliverContractCommand struct {
	ContractID  string
	ShipSymbol  string
	TradeSymbol string
	Units       int
	PlayerID    shared.PlayerID
}

// DeliverContractResponse contains the result of cargo delivery.
type DeliverContractResponse struct {
	Contract       *contract.Contract
	UnitsDelivered int
}

// ============================================================================
// Contract Fulfillment
// ============================================================================

// FulfillContractCommand requests marking a contract as fulfilled.
type FulfillContractCommand struct {
	ContractID string
	PlayerID   shared.PlayerID
}

// FulfillContractResponse contains the fulfilled contract.
type FulfillContractResponse struct {
	Contract *contract.Contract
}

// ============================================================================
// Batch Contract Workflow
// ============================================================================

// BatchContractWorkflowCommand runs a bounded list of contracts for one ship
// to completion: negotiate (unless the player already has an active
// contract, which is resumed) -> accept -> deliver -> fulfill, repeated
// MaxContracts times. A failed attempt is counted and the run goes on with
// the next one.
type BatchContractWorkflowCommand struct {
	ShipSymbol   string
	PlayerID     shared.PlayerID
	MaxContracts int // bounds how many contracts this invocation will run; 0 means 1
}

// BatchContractWorkflowResponse aggregates the outcome of each contract attempt.
type BatchContractWorkflowResponse struct {
	Negotiated int
	Accepted   int
	Delivered  int
	Fulfilled  int
	Failed     int
	Errors     []string
}
