package legacysync

import (
	"time"
)

// CategorisationIn carries the partial categorisation codes of an inbound
// record. All fields are optional; the path resolver fills in what the
// catalog can derive.
type CategorisationIn struct {
	TypeCode           string `json:"typeCode"`
	SubTypeCode        string `json:"subTypeCode"`
	ReasonCategoryCode string `json:"reasonCategoryCode"`
	ReasonCode         string `json:"reasonCode"`
}

// MovementIn is one inbound movement record. Id matches on internal id,
// LegacyId on the cross-system key; either may be zero for a create.
type MovementIn struct {
	Id              int       `json:"id"`
	LegacyId        *int64    `json:"legacyId"`
	Direction       string    `json:"direction" binding:"required,oneof=OUT IN"`
	OccurredAt      time.Time `json:"occurredAt" binding:"required"`
	ReasonCode      string    `json:"reasonCode"`
	Accompaniment   string    `json:"accompaniment"`
	Comments        string    `json:"comments"`
	Location        string    `json:"location"`
	RecordingPrison string    `json:"recordingPrison"`
}

// OccurrenceIn is one inbound occurrence with its movements.
type OccurrenceIn struct {
	Id             int              `json:"id"`
	LegacyId       *int64           `json:"legacyId"`
	Categorisation CategorisationIn `json:"categorisation"`
	ReleaseAt      time.Time        `json:"releaseAt" binding:"required"`
	ReturnBy       time.Time        `json:"returnBy" binding:"required"`
	Location       string           `json:"location"`
	ContactName    string           `json:"contactName"`
	ContactPhone   string           `json:"contactPhone"`
	Comments       string           `json:"comments"`
	Movements      []MovementIn     `json:"movements" binding:"dive"`
}

// AuthorisationIn is one inbound authorisation with its occurrences.
type AuthorisationIn struct {
	Id             int              `json:"id"`
	LegacyId       *int64           `json:"legacyId"`
	PrisonId       string           `json:"prisonId"`
	Status         string           `json:"status" binding:"required"`
	Categorisation CategorisationIn `json:"categorisation"`
	Accompaniment  string           `json:"accompaniment"`
	Transport      string           `json:"transport"`
	RepeatFlag     bool             `json:"repeatFlag"`
	FromDate       time.Time        `json:"fromDate" binding:"required"`
	ToDate         time.Time        `json:"toDate" binding:"required"`
	Comments       string           `json:"comments"`
	Locations      []string         `json:"locations"`
	Occurrences    []OccurrenceIn   `json:"occurrences" binding:"dive"`
}

// AbsenceSnapshot is the full inbound state of one subject: every
// authorisation with its occurrence/movement tree, plus movements recorded
// without a planned occurrence.
type AbsenceSnapshot struct {
	Authorisations       []AuthorisationIn `json:"authorisations" binding:"dive"`
	UnscheduledMovements []MovementIn      `json:"unscheduledMovements" binding:"dive"`
}

// SyncRequest is the body of the migrate/resync endpoints.
type SyncRequest struct {
	SubjectId string          `json:"subjectId" binding:"required"`
	Snapshot  AbsenceSnapshot `json:"snapshot"`
}

// SingleSyncRequest is the body of the single-record endpoint.
type SingleSyncRequest struct {
	EntityKind    string           `json:"entityKind" binding:"required,oneof=AUTHORISATION OCCURRENCE MOVEMENT"`
	SubjectId     string           `json:"subjectId" binding:"required"`
	ParentId      int              `json:"parentId"`
	Authorisation *AuthorisationIn `json:"authorisation"`
	Occurrence    *OccurrenceIn    `json:"occurrence"`
	Movement      *MovementIn      `json:"movement"`
}

// MoveRequest reassigns selected sub-trees between two subjects.
type MoveRequest struct {
	FromSubjectId          string `json:"fromSubjectId" binding:"required"`
	ToSubjectId            string `json:"toSubjectId" binding:"required"`
	AuthorisationIds       []int  `json:"authorisationIds"`
	UnscheduledMovementIds []int  `json:"unscheduledMovementIds"`
}

// SyncResult summarises one completed reconciliation.
type SyncResult struct {
	SubjectId string `json:"subjectId"`
	RunId     uint   `json:"runId"`
	NoOp      bool   `json:"noOp"`

	AuthorisationsCreated int `json:"authorisationsCreated"`
	AuthorisationsUpdated int `json:"authorisationsUpdated"`
	AuthorisationsDeleted int `json:"authorisationsDeleted"`
	OccurrencesCreated    int `json:"occurrencesCreated"`
	OccurrencesUpdated    int `json:"occurrencesUpdated"`
	OccurrencesDeleted    int `json:"occurrencesDeleted"`
	MovementsCreated      int `json:"movementsCreated"`
	MovementsUpdated      int `json:"movementsUpdated"`
	MovementsDeleted      int `json:"movementsDeleted"`
	MovementsRelocated    int `json:"movementsRelocated"`
}

func (r SyncResult) RecordsTouched() int {
	return r.AuthorisationsCreated + r.AuthorisationsUpdated + r.AuthorisationsDeleted +
		r.OccurrencesCreated + r.OccurrencesUpdated + r.OccurrencesDeleted +
		r.MovementsCreated + r.MovementsUpdated + r.MovementsDeleted +
		r.MovementsRelocated
}

// PubSubPushEnvelope is the push-subscription wrapper Google delivers.
type PubSubPushEnvelope struct {
	Message struct {
		Data       []byte            `json:"data"`
		Attributes map[string]string `json:"attributes"`
		MessageId  string            `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// LegacyPushPayload is a legacy-system change notification carried over the
// push subscription: it names a subject whose hierarchy should be
// re-fetched and merged.
type LegacyPushPayload struct {
	SubjectId string `json:"subjectId"`
}
