package storage

import "strings"

// Key schema: "u:{username}:{tag}" for per-user entities, with the
// source+contentId composite appended for keyed collections. Enumeration on
// KV backends pattern-matches the prefix and strips it to recover the
// composite key.
const (
	adminConfigKey = "admin:config"
	userSetKey     = "users" // set of all usernames
)

func playRecordKey(user, key string) string { return "u:" + user + ":pr:" + key }
func playRecordPrefix(user string) string   { return "u:" + user + ":pr:" }
func favoriteKey(user, key string) string   { return "u:" + user + ":fav:" + key }
func favoritePrefix(user string) string     { return "u:" + user + ":fav:" }
func settingsKey(user string) string        { return "u:" + user + ":settings" }
func searchHistoryKey(user string) string   { return "u:" + user + ":sh" }
func skipConfigKey(user, key string) string { return "u:" + user + ":sk:" + key }
func skipConfigPrefix(user string) string   { return "u:" + user + ":sk:" }
func skipConfigIndexKey(user string) string { return "u:" + user + ":skset" }
func userInfoKey(user string) string        { return "u:" + user + ":info" }

// subKey recovers the composite source+contentId from a full storage key.
func subKey(fullKey, prefix string) string {
	return strings.TrimPrefix(fullKey, prefix)
}
