package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage represents a paginated collection with an optional next page token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// Address is a snapshot of a delivery address captured on the order at checkout.
type Address struct {
	Recipient    string
	Phone        string
	Line1        string
	Line2        string
	Ward         string
	District     string
	Province     string
	PostalCode   string
	Country      string
	DistrictCode string
	WardCode     string
}

// Dimensions describes the physical package of one product unit. Zero values mean unknown.
type Dimensions struct {
	WeightGrams int
	LengthCM    int
	WidthCM     int
	HeightCM    int
}

// IsZero reports whether no dimension was provided.
func (d Dimensions) IsZero() bool {
	return d.WeightGrams <= 0 && d.LengthCM <= 0 && d.WidthCM <= 0 && d.HeightCM <= 0
}

// Product is the catalog view consumed by pricing and checkout.
type Product struct {
	ID         string
	Name       string
	CategoryID string
	Price      int64
	Stock      int
	Active     bool
	Dimensions Dimensions
	UpdatedAt  time.Time
}

// ActorRole identifies who performed an order mutation.
type ActorRole string

const (
	ActorRoleCustomer ActorRole = "customer"
	ActorRoleSupport  ActorRole = "support"
	ActorRoleStaff    ActorRole = "staff"
	ActorRoleAdmin    ActorRole = "admin"
	// ActorRoleSystem marks mutations driven by provider or carrier callbacks.
	ActorRoleSystem ActorRole = "system"
)

// Actor is the principal behind a mutation.
type Actor struct {
	ID   string
	Role ActorRole
}

// AuditLogEntry records one order lifecycle change.
type AuditLogEntry struct {
	ID         string
	OrderID    string
	Action     string
	FromStatus OrderStatus
	ToStatus   OrderStatus
	ActorID    string
	ActorRole  ActorRole
	Reason     string
	Metadata   map[string]any
	OccurredAt time.Time
}
