package journal

import "fmt"

// RecordAction identifies what happened to a record version in one audit
// history entry.
type RecordAction int

// Record actions, in rough lifecycle order.
const (
	ActionCreated RecordAction = iota
	ActionEdited
	ActionCertified
	ActionConfirmedEdit
	ActionRejectedEdit
	ActionAssumedFromUnidentified
	ActionArchived
)

// String returns the exchange-format name of the action.
func (a RecordAction) String() string {
	switch a {
	case ActionCreated:
		return "CREATED"
	case ActionEdited:
		return "EDITED"
	case ActionCertified:
		return "CERTIFIED"
	case ActionConfirmedEdit:
		return "CONFIRMED_EDIT"
	case ActionRejectedEdit:
		return "REJECTED_EDIT"
	case ActionAssumedFromUnidentified:
		return "ASSUMED_FROM_UNIDENTIFIED"
	case ActionArchived:
		return "ARCHIVED"
	default:
		return "UNKNOWN"
	}
}

// ActorKind identifies who performed an action on a record.
type ActorKind int

// Actor kinds.
const (
	ActorDriver ActorKind = iota
	ActorCarrier
	ActorSupport
	ActorSystem
)

// String returns the exchange-format name of the actor kind.
func (k ActorKind) String() string {
	switch k {
	case ActorDriver:
		return "DRIVER"
	case ActorCarrier:
		return "CARRIER"
	case ActorSupport:
		return "SUPPORT"
	case ActorSystem:
		return "SYSTEM"
	default:
		return "UNKNOWN"
	}
}

// ParseActorKind maps an exchange-format name back to its actor kind.
func ParseActorKind(s string) (ActorKind, error) {
	switch s {
	case "DRIVER":
		return ActorDriver, nil
	case "CARRIER":
		return ActorCarrier, nil
	case "SUPPORT":
		return ActorSupport, nil
	case "SYSTEM":
		return ActorSystem, nil
	default:
		return 0, fmt.Errorf("unknown actor kind %q", s)
	}
}

// Actor is the identity behind a history entry.
type Actor struct {
	ID          string
	Kind        ActorKind
	DisplayName string
}

// EditReasonCode classifies why a record was edited.
type EditReasonCode int

// Edit reason codes. ReasonOther is the catch-all and requires a free-text
// explanation of at least MinOtherReasonTextLen characters.
const (
	ReasonIncorrectStatus EditReasonCode = iota
	ReasonMissingRecord
	ReasonDeviceMalfunction
	ReasonUnidentifiedDriver
	ReasonOther
)

// String returns the exchange-format name of the reason code.
func (c EditReasonCode) String() string {
	switch c {
	case ReasonIncorrectStatus:
		return "INCORRECT_STATUS"
	case ReasonMissingRecord:
		return "MISSING_RECORD"
	case ReasonDeviceMalfunction:
		return "DEVICE_MALFUNCTION"
	case ReasonUnidentifiedDriver:
		return "UNIDENTIFIED_DRIVER"
	case ReasonOther:
		return "OTHER"
	default:
		return "UNKNOWN"
	}
}

// ParseEditReasonCode maps an exchange-format name back to its reason code.
func ParseEditReasonCode(s string) (EditReasonCode, error) {
	switch s {
	case "INCORRECT_STATUS":
		return ReasonIncorrectStatus, nil
	case "MISSING_RECORD":
		return ReasonMissingRecord, nil
	case "DEVICE_MALFUNCTION":
		return ReasonDeviceMalfunction, nil
	case "UNIDENTIFIED_DRIVER":
		return ReasonUnidentifiedDriver, nil
	case "OTHER":
		return ReasonOther, nil
	default:
		return 0, fmt.Errorf("unknown edit reason code %q", s)
	}
}

// ReviewOutcome is a driver's verdict on a carrier-proposed edit.
type ReviewOutcome int

// Review outcomes.
const (
	ReviewConfirmed ReviewOutcome = iota
	ReviewRejected
)

// String returns the exchange-format name of the outcome.
func (o ReviewOutcome) String() string {
	switch o {
	case ReviewConfirmed:
		return "CONFIRMED"
	case ReviewRejected:
		return "REJECTED"
	default:
		return "UNKNOWN"
	}
}

// ParseReviewOutcome maps an exchange-format name back to its outcome.
func ParseReviewOutcome(s string) (ReviewOutcome, error) {
	switch s {
	case "CONFIRMED":
		return ReviewConfirmed, nil
	case "REJECTED":
		return ReviewRejected, nil
	default:
		return 0, fmt.Errorf("unknown review outcome %q", s)
	}
}

// RecordStatus is the lifecycle state of one record version. ACTIVE is the
// sole initial state; every other state is terminal for that version. A
// version never returns to ACTIVE: rejecting a proposed edit reinstates the
// previous version, it does not resurrect the rejected one.
type RecordStatus int

// Record statuses.
const (
	StatusActive RecordStatus = iota
	StatusInactiveChanged
	StatusInactiveChangeRequested
	StatusInactiveAssumedFromUnidentified
)

// String returns the exchange-format name of the status.
func (s RecordStatus) String() string {
	switch s {
	case StatusActive:
		return "ACTIVE"
	case StatusInactiveChanged:
		return "INACTIVE_CHANGED"
	case StatusInactiveChangeRequested:
		return "INACTIVE_CHANGE_REQUESTED"
	case StatusInactiveAssumedFromUnidentified:
		return "INACTIVE_ASSUMED_FROM_UNIDENTIFIED"
	default:
		return "UNKNOWN"
	}
}

// CanTransitionTo reports whether the status state machine permits moving
// from s to next. Only ACTIVE has outgoing transitions.
func (s RecordStatus) CanTransitionTo(next RecordStatus) bool {
	if s != StatusActive {
		return false
	}
	switch next {
	case StatusInactiveChanged, StatusInactiveChangeRequested,
		StatusInactiveAssumedFromUnidentified:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transitions are permitted from s.
func (s RecordStatus) Terminal() bool {
	return s != StatusActive
}
