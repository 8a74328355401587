package enums

// AuditMessageType distinguishes events this service consumed from those it published.
type AuditMessageType string

const (
	AuditMessagePublished AuditMessageType = "published"
	AuditMessageConsumed  AuditMessageType = "consumed"
)

func (t AuditMessageType) String() string {
	return string(t)
}
