package models

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}

// ChangeType describes how a document changed in a live query.
type ChangeType string

const (
	ChangeAdded    ChangeType = "added"
	ChangeModified ChangeType = "modified"
	ChangeRemoved  ChangeType = "removed"
)

// Collection names shared by the store and the change feed.
const (
	CollectionUsers          = "users"
	CollectionAdmissionForms = "admissionForms"
	CollectionChangeRequests = "changeRequests"
	CollectionAdminCodes     = "adminCodes"
	CollectionSyncEvents     = "syncEvents"
)
