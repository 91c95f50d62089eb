package domain

// ResourceKind distinguishes where a lockable device is held. The lock state
// machine is identical across kinds; only the kind parameter differs.
type ResourceKind string

const (
	KindAgentDevice     ResourceKind = "agent_device"
	KindWarehouseDevice ResourceKind = "warehouse_device"
)

// LockState represents the provisioning lock state of a device.
type LockState string

const (
	LockStateUnlocked LockState = "unlocked"
	LockStateLocked   LockState = "locked"
)

// LockEvent represents a lock/unlock action on a device.
type LockEvent string

const (
	LockEventLock   LockEvent = "lock"
	LockEventUnlock LockEvent = "unlock"
)

// LockTransition defines a valid lock state change.
type LockTransition struct {
	Event LockEvent
	Src   LockState
	Dst   LockState
}

// LockTransitions is the single edge table shared by every resource kind.
var LockTransitions = []LockTransition{
	{Event: LockEventLock, Src: LockStateUnlocked, Dst: LockStateLocked},
	{Event: LockEventUnlock, Src: LockStateLocked, Dst: LockStateUnlocked},
}

// LockableResource is a device whose provisioning lock is driven by saga
// steps, parameterized by kind rather than duplicated per holding location.
type LockableResource struct {
	Kind  ResourceKind
	ID    string
	State LockState
}
