package models

import (
	"gorm.io/gorm"
)

// RequestStatus represents the lifecycle state of an access request
type RequestStatus string

const (
	StatusPending  RequestStatus = "pending"
	StatusApproved RequestStatus = "approved"
	StatusRejected RequestStatus = "rejected"
	StatusRevoked  RequestStatus = "revoked"
)

// PermitType represents the kind of access being requested
type PermitType string

const (
	PermitFacility PermitType = "facility"
	PermitSystem   PermitType = "system"
	PermitData     PermitType = "data"
)

// Requester represents the user an access request belongs to
type Requester struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// AccessRequest represents a permit/access request in the system
type AccessRequest struct {
	ID            string        `json:"id" gorm:"primaryKey"`
	Title         string        `json:"title" gorm:"not null"`
	Justification string        `json:"justification"`
	Status        RequestStatus `json:"status" gorm:"not null;default:'pending'"`
	PermitType    PermitType    `json:"permitType" gorm:"column:permit_type;not null"`
	RequesterID   string        `json:"-" gorm:"column:requester_id;index"`
	Requester     Requester     `json:"requester" gorm:"-"`
	ApproverID    string        `json:"approverId" gorm:"column:approver_id"`
	DecisionNote  string        `json:"decisionNote" gorm:"column:decision_note"`
	ValidFrom     string        `json:"validFrom" gorm:"column:valid_from"`
	ValidUntil    string        `json:"validUntil" gorm:"column:valid_until"`
	DurationDays  int           `json:"durationDays" gorm:"column:duration_days;default:1"`
	gorm.Model
}

// TableName specifies the table name for AccessRequest Model
func (AccessRequest) TableName() string {
	return "access_requests"
}
