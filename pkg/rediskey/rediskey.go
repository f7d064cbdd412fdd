package rediskey

import "fmt"

// Keys shared by every pipeline instance pointing at the same redis.
const (
	LockPrefix     = "pipeline:lock"
	SchedulePrefix = "pipeline:schedule"
)

func NamespaceKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s", namespace, key)
}

// BuildLockKey returns "pipeline:lock:{kind}:{campaignID}"
func BuildLockKey(kind, campaignID string) string {
	return NamespaceKey(LockPrefix, kind+":"+campaignID)
}

// BuildScheduleKey returns "pipeline:schedule:{campaignID}"
func BuildScheduleKey(campaignID string) string {
	return NamespaceKey(SchedulePrefix, campaignID)
}
