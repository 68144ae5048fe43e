package models

type InvoiceStatus string

const (
	InvoiceDraft          InvoiceStatus = "draft"
	InvoiceSubmitted      InvoiceStatus = "submitted"
	InvoiceAnchorApproved InvoiceStatus = "anchor_approved"
	InvoiceAdminVerified  InvoiceStatus = "admin_verified"
	InvoiceListed         InvoiceStatus = "listed"
	InvoiceFunded         InvoiceStatus = "funded"
	InvoiceRepaid         InvoiceStatus = "repaid"
	InvoiceSettled        InvoiceStatus = "settled"
	InvoiceRejected       InvoiceStatus = "rejected"
)

type OfferStatus string

const (
	OfferPending   OfferStatus = "pending"
	OfferAccepted  OfferStatus = "accepted"
	OfferRejected  OfferStatus = "rejected"
	OfferWithdrawn OfferStatus = "withdrawn"
	OfferExpired   OfferStatus = "expired"
)

type ActorRole string

const (
	RoleSeller ActorRole = "seller"
	RoleAnchor ActorRole = "anchor"
	RoleAdmin  ActorRole = "admin"
	RoleLender ActorRole = "lender"
	RoleSystem ActorRole = "system"
)

type ReviewAction string

const (
	ReviewApprove ReviewAction = "approve"
	ReviewVerify  ReviewAction = "verify"
	ReviewReject  ReviewAction = "reject"
)

type OutboxStatus string

const (
	OutboxPending    OutboxStatus = "pending"
	OutboxDispatched OutboxStatus = "dispatched"
	OutboxFailed     OutboxStatus = "failed"
	OutboxDead       OutboxStatus = "dead"
)

func IsValidInvoiceStatus(status InvoiceStatus) bool {
	switch status {
	case InvoiceDraft, InvoiceSubmitted, InvoiceAnchorApproved, InvoiceAdminVerified,
		InvoiceListed, InvoiceFunded, InvoiceRepaid, InvoiceSettled, InvoiceRejected:
		return true
	default:
		return false
	}
}

func IsValidOfferStatus(status OfferStatus) bool {
	switch status {
	case OfferPending, OfferAccepted, OfferRejected, OfferWithdrawn, OfferExpired:
		return true
	default:
		return false
	}
}
