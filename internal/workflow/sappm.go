package workflow

// SAP-PM-lite notification type codes. M1 is a breakdown notification and
// carries the strictest closure requirements.
const (
	NotificationM1 = "M1"
	NotificationM2 = "M2"
	NotificationM3 = "M3"
	NotificationM4 = "M4"
)

// NotificationTypes in declaration order.
var NotificationTypes = []string{NotificationM1, NotificationM2, NotificationM3, NotificationM4}

// RequiresIsolation reports whether an incident classified with the given
// notification type and severity must take its equipment out of service
// before repair (breakdown of a critical asset).
func RequiresIsolation(notificationType, severity string) bool {
	return notificationType == NotificationM1 && severity == "critical"
}

// DowntimeRequired reports whether closing an incident of the given
// notification type requires recorded downtime minutes.
func DowntimeRequired(notificationType string) bool {
	return notificationType == NotificationM1
}
