package enums

// SyncAction is the cache mutation chosen for a lifecycle event.
type SyncAction string

const (
	SyncActionUpsert SyncAction = "upsert"
	SyncActionDelete SyncAction = "delete"
	SyncActionNoop   SyncAction = "noop"
	SyncActionSkip   SyncAction = "skip"
)

func (a SyncAction) String() string {
	return string(a)
}
